// Package migrations applies the SQL schema in the migrations directory with
// golang-migrate.
package migrations

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"

	"ms-flashpromo/internal/logger"
)

type Options struct {
	// MigrationsDir is the directory containing the *.up.sql / *.down.sql files
	MigrationsDir string
	// AutoMigrate applies pending migrations on service startup
	AutoMigrate bool
}

type Runner struct {
	bunDB    *bun.DB
	options  Options
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts Options, log *logger.Logger) *Runner {
	return &Runner{bunDB: bunDB, options: opts, logger: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return errors.Newf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "create postgres migration driver")
	}
	migrator, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", r.options.MigrationsDir), "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	r.migrator = migrator
	return nil
}

// Startup applies pending migrations when AutoMigrate is set. A dirty
// version left by a crashed run is forced clean and retried once.
func (r *Runner) Startup() error {
	if !r.options.AutoMigrate {
		r.logger.Info("MIGRATE", "auto migrate disabled")
		return nil
	}
	if err := r.init(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read migration version")
	}
	if dirty {
		r.logger.Warn("MIGRATE", fmt.Sprintf("dirty migration at version %d, forcing", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return errors.Wrap(err, "fix dirty migration")
		}
	}
	if err := r.Up(); err != nil {
		return err
	}

	if v, ok := r.Version(); ok {
		r.logger.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("schema at version %d", v))
	}
	return nil
}

func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up")
	}
	return nil
}

func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration down")
	}
	return nil
}

// To migrates up or down to version.
func (r *Runner) To(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrapf(err, "migrate to version %d", version)
	}
	return nil
}

// Version reports the applied schema version, false when none is applied.
func (r *Runner) Version() (uint, bool) {
	if r.init() != nil {
		return 0, false
	}
	v, _, err := r.migrator.Version()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return errors.Wrap(sourceErr, "close migrator source")
	}
	if databaseErr != nil {
		return errors.Wrap(databaseErr, "close migrator database")
	}
	return nil
}
