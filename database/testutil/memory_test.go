package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/kbukum/resetkit/database"
	apperrors "github.com/kbukum/resetkit/errors"
)

func TestMemoryDB_InsertAssignsIDs(t *testing.T) {
	db := NewMemoryDB(database.FamilyMySQL, "t_")
	db.CreateTable("user", true, "username")

	if id := db.Insert("user", database.Record{"username": "a"}); id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}
	if id := db.Insert("user", database.Record{"id": "10", "username": "b"}); id != 10 {
		t.Errorf("explicit id = %d, want 10", id)
	}
	if id := db.Insert("user", database.Record{"username": "c"}); id != 11 {
		t.Errorf("next id = %d, want 11", id)
	}
	if n, ok := db.Counter("user"); !ok || n != 12 {
		t.Errorf("Counter() = %d, %v, want 12, true", n, ok)
	}
}

func TestMemoryDB_PostgresIgnoresExplicitIDs(t *testing.T) {
	db := NewMemoryDB(database.FamilyPostgres, "")
	db.CreateTable("user", true, "username")
	if err := db.ImportRecord(context.Background(), "user", database.Record{"id": "50", "username": "a"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.Counter("user"); ok {
		t.Error("explicit id created a postgres counter")
	}
}

func TestMemoryDB_ExecBatchAppliesCounters(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		family database.Family
		stmt   string
		want   int64
	}{
		{database.FamilyPostgres, "ALTER SEQUENCE t_user_id_seq RESTART WITH 100000", 100000},
		{database.FamilyMySQL, "ALTER TABLE t_user AUTO_INCREMENT = 101000", 101000},
		{database.FamilySQLite, "UPDATE sqlite_sequence SET seq = 101999 WHERE name = 't_user'", 102000},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			db := NewMemoryDB(tt.family, "t_")
			db.CreateTable("user", true, "username")
			if err := db.ExecBatch(ctx, []string{tt.stmt}); err != nil {
				t.Fatal(err)
			}
			if n, _ := db.Counter("user"); n != tt.want {
				t.Errorf("Counter() = %d, want %d", n, tt.want)
			}
			if got := db.Statements(); len(got) != 1 || got[0] != tt.stmt {
				t.Errorf("Statements() = %v", got)
			}
		})
	}
}

func TestMemoryDB_MetadataQueries(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB(database.FamilyMySQL, "t_")
	db.CreateTable("user", true, "username")
	db.CreateTable("log", true, "action")
	db.CreateTable("role_map", false, "roleid")
	db.Insert("user", database.Record{"username": "a"})

	rows, err := db.Query(ctx, "SHOW TABLE STATUS LIKE ?", "t_%")
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]database.Record)
	for _, r := range rows {
		byName[r["name"].(string)] = r
	}
	if r := byName["t_user"]; r["rows"] != "1" || r["auto_increment"] != "2" {
		t.Errorf("t_user status = %v", r)
	}
	if r := byName["t_log"]; r["rows"] != "0" || r["auto_increment"] != "1" {
		t.Errorf("t_log status = %v", r)
	}
	if r := byName["t_role_map"]; r["auto_increment"] != nil {
		t.Errorf("t_role_map status = %v", r)
	}

	rows, _ = db.Query(ctx, "SELECT t.name FROM sys.identity_columns i JOIN sys.tables t ON t.object_id = i.object_id")
	if len(rows) != 1 || rows[0]["name"] != "t_log" {
		t.Errorf("identity query = %v, want only t_log", rows)
	}
}

func TestMemoryDB_ConfigCache(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB(database.FamilySQLite, "")
	db.CreateConfigTable()

	if err := db.SetConfigValue(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	db.SetConfigRow("k", "v2")

	if v, _, _ := db.ConfigValue(ctx, "k", false); v != "v1" {
		t.Errorf("cached value = %q, want v1", v)
	}
	if v, _, _ := db.ConfigValue(ctx, "k", true); v != "v2" {
		t.Errorf("bypass value = %q, want v2", v)
	}
}

func TestMemoryDB_FailOn(t *testing.T) {
	db := NewMemoryDB(database.FamilyOther, "")
	db.CreateTable("user", true)
	db.FailOn("delete_all", errors.New("disk full"))

	err := db.DeleteAll(context.Background(), "user")
	if !apperrors.IsCode(err, apperrors.ErrCodeDatabaseError) {
		t.Errorf("DeleteAll() error = %v, want DATABASE_ERROR", err)
	}
	if db.Calls("delete_all", "user") != 1 {
		t.Errorf("Calls() = %d, want 1", db.Calls("delete_all", "user"))
	}
}

func TestMemoryDB_OnWrite(t *testing.T) {
	db := NewMemoryDB(database.FamilyOther, "")
	db.CreateTable("user", true, "username")

	var written []string
	db.OnWrite(func(table string) { written = append(written, table) })

	db.Insert("user", database.Record{"username": "x"})
	_ = db.DeleteAbove(context.Background(), "user", 0)

	if len(written) != 2 || written[0] != "user" || written[1] != "user" {
		t.Errorf("written = %v", written)
	}
}
