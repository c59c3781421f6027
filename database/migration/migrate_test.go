package migration

import (
	"context"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/kbukum/resetkit/database/testutil"
	"github.com/kbukum/resetkit/logger"
)

var migrations = fstest.MapFS{
	"sql/1_install.up.sql": {Data: []byte(`
CREATE TABLE t_config (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, value TEXT NOT NULL);
CREATE TABLE t_user (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL);
INSERT INTO t_config (name, value) VALUES ('siteversion', '2024010100');
`)},
	"sql/1_install.down.sql": {Data: []byte("DROP TABLE t_user; DROP TABLE t_config;")},
	"sql/2_log.up.sql":       {Data: []byte("CREATE TABLE t_log (id INTEGER PRIMARY KEY AUTOINCREMENT, action TEXT NOT NULL);")},
	"sql/2_log.down.sql":     {Data: []byte("DROP TABLE t_log;")},
}

func TestInstaller_Install(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t, "t_")
	inst := NewInstaller(db, migrations, "sql", logger.NewNop())

	if err := inst.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	tables, err := db.Tables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"config", "log", "user"}; !reflect.DeepEqual(tables, want) {
		t.Errorf("Tables() = %v, want %v", tables, want)
	}
	v, ok, err := db.ConfigValue(ctx, "siteversion", true)
	if err != nil || !ok || v != "2024010100" {
		t.Errorf("siteversion = %q, %v, %v", v, ok, err)
	}

	version, dirty, err := inst.Version()
	if err != nil || version != 2 || dirty {
		t.Errorf("Version() = %d, %v, %v, want 2, false, nil", version, dirty, err)
	}

	// A second install has nothing to apply.
	if err := inst.Install(ctx); err != nil {
		t.Errorf("second Install() error = %v", err)
	}
}

func TestInstaller_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inst := NewInstaller(testutil.OpenSQLite(t, ""), migrations, "sql", logger.NewNop())
	if err := inst.Install(ctx); err == nil {
		t.Error("Install() ignored a cancelled context")
	}
}

func TestInstaller_MissingSource(t *testing.T) {
	inst := NewInstaller(testutil.OpenSQLite(t, ""), fstest.MapFS{}, "sql", logger.NewNop())
	if _, _, err := inst.Version(); err == nil {
		t.Error("Version() succeeded without a migration directory")
	}
}
