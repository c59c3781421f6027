package reset

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/database/testutil"
	"github.com/kbukum/resetkit/dirty"
	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/sequence"
	"github.com/kbukum/resetkit/snapshot"
)

type staticFingerprint string

func (f staticFingerprint) Fingerprint() (string, error) { return string(f), nil }

type fixture struct {
	db      *testutil.MemoryDB
	fs      afero.Fs
	store   *snapshot.Store
	tracker *dirty.Tracker
	engine  *Engine
}

// newFixture installs config, user, log (empty) and role_map, captures the
// snapshot and wires an engine. When settle is set the first-run reset has
// already happened and the operation counters are cleared.
func newFixture(t *testing.T, family database.Family, settle bool, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewMemoryDB(family, "t_")
	db.CreateConfigTable()
	db.CreateTable("user", true, "username")
	db.CreateTable("log", true, "action")
	db.CreateTable("role_map", false, "roleid", "userid")
	db.Insert("config", database.Record{"name": "siteversion", "value": "2024010100"})
	db.Insert("user", database.Record{"username": "guest"})
	db.Insert("user", database.Record{"username": "admin"})
	db.Insert("role_map", database.Record{"roleid": "1", "userid": "2"})

	fs := afero.NewMemMapFs()
	store := snapshot.NewStore(fs, "/data", "phpunit", db, staticFingerprint("abc"), logger.NewNop())
	if err := store.Capture(ctx); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	tracker := dirty.New(logger.NewNop(), dirty.WithMailbox(
		dirty.NewFileMailbox(fs, "/data/phpunit/"+dirty.MailboxFile)))
	tracker.Attach(db)

	f := &fixture{
		db:      db,
		fs:      fs,
		store:   store,
		tracker: tracker,
		engine:  New(db, store, tracker, sequence.New(0, 0), logger.NewNop(), opts...),
	}
	if settle {
		if _, err := f.engine.Reset(ctx); err != nil {
			t.Fatalf("first Reset() error = %v", err)
		}
		db.ResetCalls()
	}
	return f
}

func (f *fixture) reset(t *testing.T) Result {
	t.Helper()
	res, err := f.engine.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !res.Performed {
		t.Fatal("Reset() not performed")
	}
	return res
}

func (f *fixture) assertMatchesSnapshot(t *testing.T) {
	t.Helper()
	data, err := f.store.TableData()
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range data {
		got := f.db.Rows(table.Name)
		if len(got) != len(table.Rows) {
			t.Errorf("%s: %d rows, want %d", table.Name, len(got), len(table.Rows))
			continue
		}
		for i := range got {
			if !got[i].Equal(table.Rows[i]) {
				t.Errorf("%s row %d = %v, want %v", table.Name, i, got[i], table.Rows[i])
			}
		}
	}
}

func TestReset_NotInstalled(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(db *testutil.MemoryDB)
	}{
		{name: "no tables", setup: func(*testutil.MemoryDB) {}},
		{name: "no config table", setup: func(db *testutil.MemoryDB) { db.CreateTable("user", true) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewMemoryDB(database.FamilyMySQL, "")
			tt.setup(db)
			store := snapshot.NewStore(afero.NewMemMapFs(), "/data", "phpunit", db, staticFingerprint("x"), logger.NewNop())
			engine := New(db, store, dirty.New(logger.NewNop()), sequence.New(0, 0), logger.NewNop())

			res, err := engine.Reset(ctx)
			if err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if res.Performed {
				t.Error("Reset() performed on an uninstalled database")
			}
			if !engine.FirstRun() {
				t.Error("skipped reset ended the first run")
			}
		})
	}
}

func TestReset_NoSnapshot(t *testing.T) {
	db := testutil.NewMemoryDB(database.FamilyMySQL, "")
	db.CreateConfigTable()
	db.CreateTable("user", true, "username")
	store := snapshot.NewStore(afero.NewMemMapFs(), "/data", "phpunit", db, staticFingerprint("x"), logger.NewNop())
	engine := New(db, store, dirty.New(logger.NewNop()), sequence.New(0, 0), logger.NewNop())

	res, err := engine.Reset(context.Background())
	if err != nil || res.Performed {
		t.Errorf("Reset() = %+v, %v, want not performed", res, err)
	}
	if db.Calls("delete_all", "user") != 0 {
		t.Error("Reset() touched a table without a snapshot")
	}
}

func TestReset_FirstRunExaminesEveryTable(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, false)

	res := f.reset(t)
	if !res.FirstRun {
		t.Error("Result.FirstRun = false")
	}
	if !reflect.DeepEqual(res.Restored, []string{"role_map"}) {
		t.Errorf("Restored = %v, want [role_map]", res.Restored)
	}
	if !reflect.DeepEqual(res.Emptied, []string{"log"}) {
		t.Errorf("Emptied = %v, want [log]", res.Emptied)
	}
	if len(res.Truncated) != 0 || len(res.Dropped) != 0 {
		t.Errorf("unexpected truncated %v / dropped %v", res.Truncated, res.Dropped)
	}
	want := map[string]int64{"config": 100000, "log": 101000, "user": 102000}
	if !reflect.DeepEqual(res.Sequences, want) {
		t.Errorf("Sequences = %v, want %v", res.Sequences, want)
	}
	if n, _ := f.db.Counter("user"); n != 102000 {
		t.Errorf("user counter = %d, want 102000", n)
	}
	if f.engine.FirstRun() {
		t.Error("FirstRun() still true after a completed reset")
	}
	if f.tracker.Len() != 0 {
		t.Errorf("dirty set = %v after reset", f.tracker.Tables())
	}
	if f.engine.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v after reset", f.engine.Phase())
	}
}

func TestReset_Idempotent(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)

	before := map[string][]database.Record{}
	for _, table := range []string{"config", "user", "log", "role_map"} {
		before[table] = f.db.Rows(table)
	}

	res := f.reset(t)
	if res.Touched() != 0 || len(res.Sequences) != 0 {
		t.Errorf("second Reset() = %+v, want nothing touched", res)
	}
	if got := f.db.Statements(); len(got) != 0 {
		t.Errorf("second Reset() issued %v", got)
	}
	for table, rows := range before {
		if !reflect.DeepEqual(f.db.Rows(table), rows) {
			t.Errorf("%s changed across an idle reset", table)
		}
	}
}

func TestReset_TailTruncation(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.Insert("user", database.Record{"username": "extra1"})
	f.db.Insert("user", database.Record{"username": "extra2"})
	f.db.ResetCalls()

	res := f.reset(t)
	if !reflect.DeepEqual(res.Truncated, []string{"user"}) || len(res.Restored) != 0 {
		t.Errorf("Truncated = %v, Restored = %v", res.Truncated, res.Restored)
	}
	if f.db.Calls("delete_above", "user") != 1 {
		t.Error("expected one tail delete")
	}
	if n := f.db.Calls("import", "user") + f.db.Calls("delete_all", "user"); n != 0 {
		t.Errorf("tail truncation issued %d full-replace operations", n)
	}
	f.assertMatchesSnapshot(t)

	next := res.Sequences["user"]
	if next < 1003 || next != 100000 {
		t.Errorf("user sequence = %d, want the first block (100000)", next)
	}
	if n, _ := f.db.Counter("user"); n != next {
		t.Errorf("user counter = %d, want %d", n, next)
	}
}

func TestReset_ModifiedRowForcesFullReplace(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.Update("user", 1, "username", "hacked")
	f.db.Insert("user", database.Record{"username": "extra"})
	f.db.ResetCalls()

	res := f.reset(t)
	if !reflect.DeepEqual(res.Restored, []string{"user"}) {
		t.Errorf("Restored = %v, want [user]", res.Restored)
	}
	if f.db.Calls("delete_all", "user") != 1 || f.db.Calls("import", "user") != 2 {
		t.Errorf("delete_all = %d, import = %d", f.db.Calls("delete_all", "user"), f.db.Calls("import", "user"))
	}
	if f.db.Calls("delete_above", "user") != 0 {
		t.Error("modified table was tail-truncated")
	}
	f.assertMatchesSnapshot(t)
}

func TestReset_WrittenEmptyTableIsCleared(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.Insert("log", database.Record{"action": "login"})

	res := f.reset(t)
	if !reflect.DeepEqual(res.Emptied, []string{"log"}) {
		t.Errorf("Emptied = %v", res.Emptied)
	}
	if rows := f.db.Rows("log"); len(rows) != 0 {
		t.Errorf("log rows = %v", rows)
	}
}

func TestReset_DropsTablesCreatedDuringTest(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.CreateTable("scratch", false, "x")

	res := f.reset(t)
	if !reflect.DeepEqual(res.Dropped, []string{"scratch"}) {
		t.Errorf("Dropped = %v", res.Dropped)
	}
	if ok, _ := f.db.TableExists(context.Background(), "scratch"); ok {
		t.Error("scratch table survived")
	}
}

func TestReset_RoundTrip(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	ctx := context.Background()
	_ = f.db.DeleteAll(ctx, "role_map")
	f.db.Update("user", 2, "username", "root")
	f.db.Insert("log", database.Record{"action": "x"})
	_ = f.db.SetConfigValue(ctx, "theme", "dark")

	f.reset(t)
	f.assertMatchesSnapshot(t)
}

func TestReset_AbsorbsMailbox(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	ctx := context.Background()

	// Another process rewrote role_map and reported it through the mailbox.
	other := dirty.NewFileMailbox(f.fs, "/data/phpunit/"+dirty.MailboxFile)
	if err := f.db.DeleteAll(ctx, "role_map"); err != nil {
		t.Fatal(err)
	}
	f.tracker.Clear()
	if err := other.Post(ctx, "role_map"); err != nil {
		t.Fatal(err)
	}

	res := f.reset(t)
	if !reflect.DeepEqual(res.Restored, []string{"role_map"}) {
		t.Errorf("Restored = %v, want [role_map]", res.Restored)
	}
	if ok, _ := afero.Exists(f.fs, other.Path()); ok {
		t.Error("mailbox not removed after reset")
	}
}

func TestReset_SequenceSpread(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.Insert("log", database.Record{"action": "a"})
	f.db.Insert("user", database.Record{"username": "c"})

	res := f.reset(t)
	want := map[string]int64{"log": 100000, "user": 101000}
	if !reflect.DeepEqual(res.Sequences, want) {
		t.Errorf("Sequences = %v, want %v", res.Sequences, want)
	}
}

func TestReset_PostgresRestartBatch(t *testing.T) {
	f := newFixture(t, database.FamilyPostgres, true)
	f.db.Insert("user", database.Record{"username": "c"})
	f.db.Insert("log", database.Record{"action": "a"})

	f.reset(t)
	want := []string{
		"ALTER SEQUENCE t_log_id_seq RESTART WITH 100000",
		"ALTER SEQUENCE t_user_id_seq RESTART WITH 101000",
	}
	if got := f.db.Statements(); !reflect.DeepEqual(got, want) {
		t.Errorf("Statements() = %v, want %v", got, want)
	}
	if f.db.Calls("exec_batch", "") != 1 {
		t.Errorf("exec_batch calls = %d, want 1", f.db.Calls("exec_batch", ""))
	}
}

func TestReset_GenericSkipsUntouchedEmptyTables(t *testing.T) {
	f := newFixture(t, database.FamilyMSSQL, false)
	if f.engine.Strategy().Name() != StrategyGeneric {
		t.Fatalf("strategy = %s", f.engine.Strategy().Name())
	}

	res := f.reset(t)
	if len(res.Emptied) != 0 {
		t.Errorf("Emptied = %v, want none", res.Emptied)
	}
	if f.db.Calls("delete_all", "log") != 0 || f.db.Calls("reset_sequence", "log") != 0 {
		t.Error("untouched empty table was reset")
	}
	if f.db.Calls("reset_sequence", "user") != 1 || f.db.Calls("reset_sequence", "config") != 1 {
		t.Error("expected generic sequence reset for user and config")
	}
	if len(res.Sequences) != 0 {
		t.Errorf("generic strategy reported sequences %v", res.Sequences)
	}
}

func TestReset_DatabaseErrorAborts(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)
	f.db.Insert("user", database.Record{"username": "extra"})
	f.db.FailOn("delete_above", errors.New("lock wait timeout"))

	_, err := f.engine.Reset(context.Background())
	if !apperrors.IsCode(err, apperrors.ErrCodeDatabaseError) {
		t.Fatalf("Reset() error = %v, want DATABASE_ERROR", err)
	}
	if f.engine.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v after failure", f.engine.Phase())
	}
	if !f.tracker.Has("user") {
		t.Error("failed reset cleared the dirty set")
	}
}

func TestEngine_DropAll(t *testing.T) {
	f := newFixture(t, database.FamilyMySQL, true)

	dropped, err := f.engine.DropAll(context.Background())
	if err != nil {
		t.Fatalf("DropAll() error = %v", err)
	}
	if len(dropped) != 4 || dropped[len(dropped)-1] != database.ConfigTable {
		t.Errorf("dropped = %v, want config last", dropped)
	}
	if tables, _ := f.db.Tables(context.Background()); len(tables) != 0 {
		t.Errorf("tables left: %v", tables)
	}
	if !f.engine.FirstRun() {
		t.Error("DropAll() did not restart the first run")
	}
}

func TestCompareRows(t *testing.T) {
	rec := func(id, name string) database.Record { return database.Record{"id": id, "name": name} }
	captured := []database.Record{rec("1", "a"), rec("3", "c")}

	tests := []struct {
		name     string
		live     []database.Record
		wantDiff rowDiff
	}{
		{"identical", []database.Record{rec("1", "a"), rec("3", "c")}, rowsUnchanged},
		{"appended", []database.Record{rec("1", "a"), rec("3", "c"), rec("4", "d"), rec("9", "e")}, rowsAppended},
		{"filled gap", []database.Record{rec("1", "a"), rec("2", "b"), rec("3", "c")}, rowsChanged},
		{"missing row", []database.Record{rec("1", "a")}, rowsChanged},
		{"modified row", []database.Record{rec("1", "a"), rec("3", "x")}, rowsChanged},
		{"extra column", []database.Record{rec("1", "a"), {"id": "3", "name": "c", "note": nil}}, rowsChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, last := compareRows(captured, tt.live)
			if diff != tt.wantDiff {
				t.Errorf("compareRows() = %v, want %v", diff, tt.wantDiff)
			}
			if diff != rowsChanged && last != 3 {
				t.Errorf("last id = %d, want 3", last)
			}
		})
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		PhaseIdle:           "idle",
		PhaseDataLoaded:     "data_loaded",
		PhaseSequencesReset: "sequences_reset",
		PhaseTablesCleaned:  "tables_cleaned",
	} {
		if p.String() != want {
			t.Errorf("%d.String() = %q, want %q", p, p.String(), want)
		}
	}
}
