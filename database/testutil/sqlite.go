// Package testutil provides test doubles and fixtures for code that works
// against the database package.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/logger"
)

// OpenSQLite opens a GORM/sqlite database.DB on a file in a per-test
// temporary directory and closes it when the test ends.
func OpenSQLite(t testing.TB, prefix string) *database.DB {
	t.Helper()
	cfg := database.Config{
		Driver:   database.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		Prefix:   prefix,
		LogLevel: "silent",
	}
	db, err := database.Open(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// MustExec runs raw statements and fails the test on error.
func MustExec(t testing.TB, db *database.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if err := db.GormDB.Exec(s).Error; err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

// LoadFixture imports rows into a table, keeping their ids.
func LoadFixture(ctx context.Context, conn database.Conn, table string, rows []database.Record) error {
	for _, row := range rows {
		if err := conn.ImportRecord(ctx, table, row); err != nil {
			return fmt.Errorf("failed to insert fixture row into %s: %w", table, err)
		}
	}
	return nil
}

// MustLoadFixture loads test data and fails the test on error.
func MustLoadFixture(t testing.TB, conn database.Conn, table string, rows []database.Record) {
	t.Helper()
	if err := LoadFixture(context.Background(), conn, table, rows); err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}
}

// InstallSchema creates a small installed site on db: a config table, an
// auto-increment user table with two rows, an empty auto-increment log
// table and a role_map table without an id column.
func InstallSchema(t testing.TB, db *database.DB) {
	t.Helper()
	p := db.Prefix()
	MustExec(t, db,
		"CREATE TABLE "+p+"config (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, value TEXT NOT NULL)",
		"CREATE TABLE "+p+"user (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL, email TEXT)",
		"CREATE TABLE "+p+"log (id INTEGER PRIMARY KEY AUTOINCREMENT, action TEXT NOT NULL)",
		"CREATE TABLE "+p+"role_map (roleid INTEGER NOT NULL, userid INTEGER NOT NULL)",
		"INSERT INTO "+p+"config (name, value) VALUES ('siteversion', '2024010100')",
		"INSERT INTO "+p+"user (username, email) VALUES ('guest', NULL), ('admin', 'admin@example.com')",
		"INSERT INTO "+p+"role_map (roleid, userid) VALUES (1, 2)",
	)
}
