package database

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
)

func openTestDB(t *testing.T, prefix string) *DB {
	t.Helper()
	cfg := Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		Prefix:   prefix,
		LogLevel: "silent",
	}
	db, err := Open(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mustExec(t, db,
		"CREATE TABLE "+prefix+"config (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, value TEXT NOT NULL)",
		"CREATE TABLE "+prefix+"user (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL, email TEXT)",
		"CREATE TABLE "+prefix+"role_map (roleid INTEGER NOT NULL, userid INTEGER NOT NULL)",
	)
	return db
}

func mustExec(t *testing.T, db *DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if err := db.GormDB.Exec(s).Error; err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func TestDB_FamilyAndPrefix(t *testing.T) {
	db := openTestDB(t, "t_")
	if db.Family() != FamilySQLite {
		t.Errorf("Family() = %q, want %q", db.Family(), FamilySQLite)
	}
	if db.Prefix() != "t_" {
		t.Errorf("Prefix() = %q, want %q", db.Prefix(), "t_")
	}
	if db.FullName("user") != "t_user" {
		t.Errorf("FullName() = %q", db.FullName("user"))
	}
}

func TestDB_Tables(t *testing.T) {
	db := openTestDB(t, "t_")
	mustExec(t, db, "CREATE TABLE unrelated (id INTEGER)")

	got, err := db.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	want := []string{"config", "role_map", "user"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tables() = %v, want %v", got, want)
	}

	ok, err := db.TableExists(context.Background(), "user")
	if err != nil || !ok {
		t.Errorf("TableExists(user) = %v, %v", ok, err)
	}
	ok, err = db.TableExists(context.Background(), "unrelated")
	if err != nil || ok {
		t.Errorf("TableExists(unrelated) = %v, %v", ok, err)
	}
}

func TestDB_Columns(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	cols, err := db.Columns(ctx, "user")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("len(cols) = %d, want 3", len(cols))
	}
	if cols[0].Name != "id" || !cols[0].AutoIncrement || !cols[0].PrimaryKey {
		t.Errorf("id column = %+v", cols[0])
	}
	if cols[1].Name != "username" || cols[1].Nullable {
		t.Errorf("username column = %+v", cols[1])
	}
	if cols[2].Name != "email" || !cols[2].Nullable {
		t.Errorf("email column = %+v", cols[2])
	}

	cols, err = db.Columns(ctx, "role_map")
	if err != nil {
		t.Fatalf("Columns(role_map) error = %v", err)
	}
	for _, c := range cols {
		if c.AutoIncrement {
			t.Errorf("role_map column %q reported auto-increment", c.Name)
		}
	}
}

func TestDB_ImportAndRecords(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	for _, rec := range []Record{
		{"id": "7", "username": "guest", "email": nil},
		{"id": "2", "username": "admin", "email": "admin@example.com"},
	} {
		if err := db.ImportRecord(ctx, "user", rec); err != nil {
			t.Fatalf("ImportRecord() error = %v", err)
		}
	}

	recs, err := db.Records(ctx, "user", true)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	want := []Record{
		{"id": "2", "username": "admin", "email": "admin@example.com"},
		{"id": "7", "username": "guest", "email": nil},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Errorf("Records() = %v, want %v", recs, want)
	}
}

func TestDB_DeleteAboveAndAll(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()
	mustExec(t, db, "INSERT INTO t_user (username) VALUES ('a'), ('b'), ('c'), ('d')")

	if err := db.DeleteAbove(ctx, "user", 2); err != nil {
		t.Fatalf("DeleteAbove() error = %v", err)
	}
	recs, _ := db.Records(ctx, "user", true)
	if len(recs) != 2 || recs[1]["id"] != "2" {
		t.Errorf("after DeleteAbove records = %v", recs)
	}

	if err := db.DeleteAll(ctx, "user"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	recs, _ = db.Records(ctx, "user", false)
	if len(recs) != 0 {
		t.Errorf("after DeleteAll records = %v", recs)
	}
}

func TestDB_ResetSequence(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()
	mustExec(t, db,
		"INSERT INTO t_user (username) VALUES ('a'), ('b'), ('c'), ('d'), ('e')",
		"DELETE FROM t_user WHERE id > 3",
	)

	if err := db.ResetSequence(ctx, "user"); err != nil {
		t.Fatalf("ResetSequence() error = %v", err)
	}
	rows, err := db.Query(ctx, "SELECT seq FROM sqlite_sequence WHERE name = ?", "t_user")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["seq"] != "3" {
		t.Errorf("sqlite_sequence = %v, want seq 3", rows)
	}
}

func TestDB_ExecBatch(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	err := db.ExecBatch(ctx, []string{
		"INSERT INTO t_user (id, username) VALUES (10, 'x')",
		"INSERT INTO t_user (id, username) VALUES (11, 'y')",
	})
	if err != nil {
		t.Fatalf("ExecBatch() error = %v", err)
	}
	recs, _ := db.Records(ctx, "user", true)
	if len(recs) != 2 {
		t.Errorf("records = %v, want 2 rows", recs)
	}

	if err := db.ExecBatch(ctx, nil); err != nil {
		t.Errorf("ExecBatch(nil) error = %v", err)
	}
}

func TestDB_ConfigValue(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	if _, ok, err := db.ConfigValue(ctx, "phpunittest", false); err != nil || ok {
		t.Fatalf("ConfigValue(missing) = ok %v, err %v", ok, err)
	}
	if err := db.SetConfigValue(ctx, "phpunittest", "abc"); err != nil {
		t.Fatalf("SetConfigValue() error = %v", err)
	}
	if err := db.SetConfigValue(ctx, "phpunittest", "def"); err != nil {
		t.Fatalf("SetConfigValue(update) error = %v", err)
	}
	v, ok, err := db.ConfigValue(ctx, "phpunittest", false)
	if err != nil || !ok || v != "def" {
		t.Fatalf("ConfigValue() = %q, %v, %v", v, ok, err)
	}

	// Changing the row behind the cache is only visible to uncached reads.
	mustExec(t, db, "UPDATE t_config SET value = 'changed' WHERE name = 'phpunittest'")
	if v, _, _ := db.ConfigValue(ctx, "phpunittest", false); v != "def" {
		t.Errorf("cached ConfigValue() = %q, want %q", v, "def")
	}
	if v, _, _ := db.ConfigValue(ctx, "phpunittest", true); v != "changed" {
		t.Errorf("bypass ConfigValue() = %q, want %q", v, "changed")
	}

	rows, _ := db.Records(ctx, "config", true)
	if len(rows) != 1 {
		t.Errorf("config rows = %v, want exactly one", rows)
	}
}

func TestDB_OnWrite(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	seen := make(map[string]int)
	db.OnWrite(func(table string) { seen[table]++ })

	if err := db.ImportRecord(ctx, "user", Record{"id": "1", "username": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteAll(ctx, "role_map"); err != nil {
		t.Fatal(err)
	}
	if err := db.GormDB.Table("t_user").Where("id = ?", 1).Update("email", "a@example.com").Error; err != nil {
		t.Fatal(err)
	}
	if _, err := db.Records(ctx, "config", false); err != nil {
		t.Fatal(err)
	}
	mustExec(t, db, "CREATE TABLE other (id INTEGER)", "INSERT INTO other (id) VALUES (1)")

	var tables []string
	for k := range seen {
		tables = append(tables, k)
	}
	sort.Strings(tables)
	if want := []string{"role_map", "user"}; !reflect.DeepEqual(tables, want) {
		t.Errorf("written tables = %v, want %v", tables, want)
	}
	if seen["user"] != 2 {
		t.Errorf("user writes = %d, want 2", seen["user"])
	}
}

func TestDB_DropTable(t *testing.T) {
	db := openTestDB(t, "t_")
	ctx := context.Background()

	if err := db.DropTable(ctx, "role_map"); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
	if ok, _ := db.TableExists(ctx, "role_map"); ok {
		t.Error("role_map still exists")
	}

	err := db.DropTable(ctx, "missing")
	if !apperrors.IsCode(err, apperrors.ErrCodeDatabaseError) {
		t.Errorf("DropTable(missing) error = %v, want DATABASE_ERROR", err)
	}
}

func TestDB_ServerInfo(t *testing.T) {
	db := openTestDB(t, "")
	info, err := db.ServerInfo(context.Background())
	if err != nil {
		t.Fatalf("ServerInfo() error = %v", err)
	}
	if info.Description != "SQLite" || info.Version == "" {
		t.Errorf("ServerInfo() = %+v", info)
	}
}

func TestDB_RowidAliasHasNoCounter(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "rowid.db"), LogLevel: "silent"}, logger.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mustExec(t, db,
		"CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO item (name) VALUES ('a'), ('b')",
	)

	cols, err := db.Columns(ctx, "item")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if !cols[0].PrimaryKey || cols[0].AutoIncrement {
		t.Errorf("id column = %+v, want primary key without auto-increment", cols[0])
	}
	if err := db.ResetSequence(ctx, "item"); err != nil {
		t.Errorf("ResetSequence() without sqlite_sequence error = %v", err)
	}
}
