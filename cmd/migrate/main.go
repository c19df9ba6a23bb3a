package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ms-flashpromo/internal/config"
	"ms-flashpromo/internal/database/migrations"
	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "up, down or version")
	to := flag.Uint("to", 0, "migrate to this version instead of all the way up")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, logger.ParseLevel(cfg.Log.Level))

	bunDB, err := db.Open(context.Background(), cfg.Database.DSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir}, log)
	defer runner.Close()

	switch {
	case *to > 0:
		err = runner.To(*to)
	case *direction == "up":
		err = runner.Up()
	case *direction == "down":
		err = runner.Down()
	case *direction == "version":
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown direction %q", *direction))
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	if v, ok := runner.Version(); ok {
		log.Info("MIGRATE", fmt.Sprintf("✅ schema at version %d", v))
	} else {
		log.Info("MIGRATE", "✅ no migrations applied")
	}
}
