package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-flashpromo/internal/logger"
)

type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

const (
	connectAttempts = 5
	connectWait     = 2 * time.Second
)

// Open connects to PostgreSQL, retrying while the server comes up.
func Open(ctx context.Context, dsn string, pool PoolOptions, log *logger.Logger) (*bun.DB, error) {
	if dsn == "" {
		return nil, errors.New("POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err = sql.Open("postgres", dsn)
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectWait):
			}
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect to PostgreSQL after %d attempts", connectAttempts)
	}

	if pool.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(pool.MaxLifetime)
	}

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
