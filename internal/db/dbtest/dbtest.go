// Package dbtest opens an in-memory SQLite repository with the full schema.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/models"
)

var tables = []interface{}{
	(*models.Store)(nil),
	(*models.Product)(nil),
	(*models.User)(nil),
	(*models.FlashPromo)(nil),
	(*models.Purchase)(nil),
}

func New(t testing.TB) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// every connection to :memory: is a separate database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, m := range tables {
		if _, err := bunDB.NewCreateTable().Model(m).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table for %T: %v", m, err)
		}
	}
	t.Cleanup(func() { bunDB.Close() })

	return &db.DB{Bun: bunDB}
}
