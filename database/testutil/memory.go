package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kbukum/resetkit/database"
	apperrors "github.com/kbukum/resetkit/errors"
)

type memTable struct {
	columns []database.Column
	rows    []database.Record
}

// MemoryDB is an in-memory database.Conn. It emulates the id counter and
// metadata statements of the family it is created for, records every
// structural statement and counts table operations.
type MemoryDB struct {
	mu          sync.Mutex
	family      database.Family
	prefix      string
	info        database.ServerInfo
	tables      map[string]*memTable
	counters    map[string]int64
	configCache map[string]string
	statements  []string
	calls       map[string]int
	observers   []func(string)
	failOn      map[string]error
}

var _ database.Conn = (*MemoryDB)(nil)

// NewMemoryDB creates an empty database of the given family.
func NewMemoryDB(family database.Family, prefix string) *MemoryDB {
	return &MemoryDB{
		family:      family,
		prefix:      prefix,
		info:        database.ServerInfo{Description: string(family), Version: "1.0"},
		tables:      make(map[string]*memTable),
		counters:    make(map[string]int64),
		configCache: make(map[string]string),
		calls:       make(map[string]int),
		failOn:      make(map[string]error),
	}
}

// SetServerInfo overrides the reported server description and version.
func (m *MemoryDB) SetServerInfo(info database.ServerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// CreateTable adds a table. With autoIncrement the table gets a leading
// auto-increment id column; the other columns are nullable text.
func (m *MemoryDB) CreateTable(name string, autoIncrement bool, columns ...string) {
	var cols []database.Column
	if autoIncrement {
		cols = append(cols, database.Column{Name: database.IDColumn, Type: "bigint", AutoIncrement: true, PrimaryKey: true})
	}
	for _, c := range columns {
		cols = append(cols, database.Column{Name: c, Type: "text", Nullable: true})
	}
	m.CreateTableWithColumns(name, cols)
}

// CreateTableWithColumns adds a table with explicit column descriptors.
func (m *MemoryDB) CreateTableWithColumns(name string, cols []database.Column) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &memTable{columns: append([]database.Column(nil), cols...)}
}

// CreateConfigTable adds the installation config table.
func (m *MemoryDB) CreateConfigTable() {
	m.CreateTable(database.ConfigTable, true, "name", "value")
}

// Insert adds a row the way application code would, assigning the next id
// when the table is auto-increment and rec carries none. It returns the id.
func (m *MemoryDB) Insert(table string, rec database.Record) int64 {
	m.mu.Lock()
	t, ok := m.tables[table]
	if !ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("testutil: insert into unknown table %q", table))
	}
	row := copyRecord(rec)
	var id int64
	if hasAutoID(t) {
		if v, ok := row.ID(); ok {
			id = v
			m.observeID(table, id)
		} else {
			id = m.nextID(table)
			row[database.IDColumn] = strconv.FormatInt(id, 10)
			m.counters[table] = id + 1
		}
	}
	t.rows = append(t.rows, row)
	m.mu.Unlock()

	m.notify(table)
	return id
}

// Update changes one column of the row with the given id.
func (m *MemoryDB) Update(table string, id int64, column string, value any) {
	m.mu.Lock()
	if t, ok := m.tables[table]; ok {
		for _, r := range t.rows {
			if rid, ok := r.ID(); ok && rid == id {
				r[column] = database.NormalizeValue(value)
			}
		}
	}
	m.mu.Unlock()
	m.notify(table)
}

// Rows returns a copy of a table's rows ordered by id.
func (m *MemoryDB) Rows(table string) []database.Record {
	recs, _ := m.Records(context.Background(), table, true)
	return recs
}

// Counter returns the next id the table would assign and whether the
// engine has a counter entry for it.
func (m *MemoryDB) Counter(table string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.counters[table]
	return v, ok
}

// SetCounter sets the next id of a table.
func (m *MemoryDB) SetCounter(table string, next int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[table] = next
}

// Statements returns every statement passed to ExecBatch.
func (m *MemoryDB) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

// Calls returns how often op ran against table. Ops: import, delete_all,
// delete_above, reset_sequence, drop, exec_batch (table "").
func (m *MemoryDB) Calls(op, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+":"+table]
}

// ResetCalls clears the operation counters and the statement log.
func (m *MemoryDB) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
	m.statements = nil
}

// FailOn makes op fail with err for every table.
func (m *MemoryDB) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

// OnWrite registers a write observer, like database.DB.OnWrite.
func (m *MemoryDB) OnWrite(fn func(table string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *MemoryDB) notify(table string) {
	m.mu.Lock()
	observers := append([]func(string){}, m.observers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(table)
	}
}

// call counts an operation and reports an injected failure. Callers hold mu.
func (m *MemoryDB) call(op, table string) error {
	m.calls[op+":"+table]++
	if err := m.failOn[op]; err != nil {
		return apperrors.Database(op, table, err)
	}
	return nil
}

func (m *MemoryDB) table(op, name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, apperrors.Database(op, name, fmt.Errorf("no such table: %s%s", m.prefix, name))
	}
	return t, nil
}

func (m *MemoryDB) nextID(table string) int64 {
	if v, ok := m.counters[table]; ok {
		return v
	}
	return 1
}

// observeID records an explicitly supplied id. PostgreSQL sequences ignore
// explicit ids; the other engines move their counter past them.
func (m *MemoryDB) observeID(table string, id int64) {
	if m.family == database.FamilyPostgres {
		return
	}
	if id >= m.nextID(table) {
		m.counters[table] = id + 1
	}
}

// Family implements database.Conn.
func (m *MemoryDB) Family() database.Family { return m.family }

// Prefix implements database.Conn.
func (m *MemoryDB) Prefix() string { return m.prefix }

// ServerInfo implements database.Conn.
func (m *MemoryDB) ServerInfo(context.Context) (database.ServerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, nil
}

// Tables implements database.Conn.
func (m *MemoryDB) Tables(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// TableExists implements database.Conn.
func (m *MemoryDB) TableExists(_ context.Context, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[table]
	return ok, nil
}

// Columns implements database.Conn.
func (m *MemoryDB) Columns(_ context.Context, table string) ([]database.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("read columns", table)
	if err != nil {
		return nil, err
	}
	return append([]database.Column(nil), t.columns...), nil
}

// DropTable implements database.Conn.
func (m *MemoryDB) DropTable(_ context.Context, table string) error {
	m.mu.Lock()
	if err := m.call("drop", table); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, err := m.table("drop table", table); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.tables, table)
	delete(m.counters, table)
	m.mu.Unlock()
	m.notify(table)
	return nil
}

// Records implements database.Conn.
func (m *MemoryDB) Records(_ context.Context, table string, orderByID bool) ([]database.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table("read records", table)
	if err != nil {
		return nil, err
	}
	out := make([]database.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRecord(r)
	}
	if orderByID {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].ID()
			b, _ := out[j].ID()
			return a < b
		})
	}
	return out, nil
}

// ImportRecord implements database.Conn.
func (m *MemoryDB) ImportRecord(_ context.Context, table string, rec database.Record) error {
	m.mu.Lock()
	if err := m.call("import", table); err != nil {
		m.mu.Unlock()
		return err
	}
	t, err := m.table("import record", table)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	row := copyRecord(rec)
	if id, ok := row.ID(); ok && hasAutoID(t) {
		m.observeID(table, id)
	}
	t.rows = append(t.rows, row)
	m.mu.Unlock()
	m.notify(table)
	return nil
}

// DeleteAll implements database.Conn.
func (m *MemoryDB) DeleteAll(_ context.Context, table string) error {
	m.mu.Lock()
	if err := m.call("delete_all", table); err != nil {
		m.mu.Unlock()
		return err
	}
	t, err := m.table("delete records", table)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	t.rows = nil
	m.mu.Unlock()
	m.notify(table)
	return nil
}

// DeleteAbove implements database.Conn.
func (m *MemoryDB) DeleteAbove(_ context.Context, table string, id int64) error {
	m.mu.Lock()
	if err := m.call("delete_above", table); err != nil {
		m.mu.Unlock()
		return err
	}
	t, err := m.table("delete records", table)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if rid, ok := r.ID(); ok && rid > id {
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	m.mu.Unlock()
	m.notify(table)
	return nil
}

var (
	reShowTableStatus     = regexp.MustCompile(`(?i)^\s*SHOW\s+TABLE\s+STATUS`)
	reSQLiteSequence      = regexp.MustCompile(`(?i)\bFROM\s+sqlite_sequence\b`)
	reSQLiteSequenceTable = regexp.MustCompile(`(?i)\bFROM\s+sqlite_master\b.*'sqlite_sequence'`)
	reIdentityColumns     = regexp.MustCompile(`(?i)\bsys\.identity_columns\b`)
)

// Query implements database.Conn for the engine metadata queries the
// harness issues: SHOW TABLE STATUS (mysql), sqlite_sequence and its
// existence check (sqlite), sys.identity_columns (mssql). Anything else
// returns no rows.
func (m *MemoryDB) Query(_ context.Context, query string, _ ...any) ([]database.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []database.Record
	switch {
	case reShowTableStatus.MatchString(query):
		for _, name := range m.sortedTables() {
			t := m.tables[name]
			rec := database.Record{
				"name":           m.prefix + name,
				"rows":           strconv.Itoa(len(t.rows)),
				"auto_increment": nil,
			}
			if hasAutoID(t) {
				rec["auto_increment"] = strconv.FormatInt(m.nextID(name), 10)
			}
			out = append(out, rec)
		}
	case reSQLiteSequenceTable.MatchString(query):
		for _, name := range m.sortedTables() {
			if hasAutoID(m.tables[name]) {
				out = append(out, database.Record{"name": "sqlite_sequence"})
				break
			}
		}
	case reSQLiteSequence.MatchString(query):
		for _, name := range m.sortedTables() {
			if next, ok := m.counters[name]; ok && hasAutoID(m.tables[name]) {
				out = append(out, database.Record{
					"name": m.prefix + name,
					"seq":  strconv.FormatInt(next-1, 10),
				})
			}
		}
	case reIdentityColumns.MatchString(query):
		for _, name := range m.sortedTables() {
			if _, used := m.counters[name]; !used && hasAutoID(m.tables[name]) {
				out = append(out, database.Record{"name": m.prefix + name})
			}
		}
	}
	return out, nil
}

func (m *MemoryDB) sortedTables() []string {
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	reRestartSequence = regexp.MustCompile(`(?i)^ALTER\s+SEQUENCE\s+(\w+)_id_seq\s+RESTART\s+WITH\s+(\d+)$`)
	reAutoIncrement   = regexp.MustCompile("(?i)^ALTER\\s+TABLE\\s+[`\"]?(\\w+)[`\"]?\\s+AUTO_INCREMENT\\s*=\\s*(\\d+)$")
	reSQLiteSeqUpdate = regexp.MustCompile(`(?i)^UPDATE\s+sqlite_sequence\s+SET\s+seq\s*=\s*(\d+)\s+WHERE\s+name\s*=\s*'(\w+)'$`)
)

// ExecBatch implements database.Conn. Counter statements are applied; all
// statements are logged.
func (m *MemoryDB) ExecBatch(_ context.Context, stmts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("exec_batch", ""); err != nil {
		return err
	}
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		m.statements = append(m.statements, s)

		if g := reRestartSequence.FindStringSubmatch(s); g != nil {
			m.setCounter(g[1], g[2], 0)
		} else if g := reAutoIncrement.FindStringSubmatch(s); g != nil {
			m.setCounter(g[1], g[2], 0)
		} else if g := reSQLiteSeqUpdate.FindStringSubmatch(s); g != nil {
			m.setCounter(g[2], g[1], 1)
		}
	}
	return nil
}

func (m *MemoryDB) setCounter(fullName, value string, offset int64) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return
	}
	table := strings.TrimPrefix(strings.ToLower(fullName), strings.ToLower(m.prefix))
	m.counters[table] = n + offset
}

// ResetSequence implements database.Conn: the counter moves to max(id)+1.
func (m *MemoryDB) ResetSequence(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("reset_sequence", table); err != nil {
		return err
	}
	t, err := m.table("reset sequence", table)
	if err != nil {
		return err
	}
	var maxID int64
	for _, r := range t.rows {
		if id, ok := r.ID(); ok && id > maxID {
			maxID = id
		}
	}
	m.counters[table] = maxID + 1
	return nil
}

// ConfigValue implements database.Conn.
func (m *MemoryDB) ConfigValue(_ context.Context, name string, bypassCache bool) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !bypassCache {
		if v, ok := m.configCache[name]; ok {
			return v, true, nil
		}
	}
	t, err := m.table("read config", database.ConfigTable)
	if err != nil {
		return "", false, err
	}
	for _, r := range t.rows {
		if r["name"] == name {
			v, _ := r["value"].(string)
			m.configCache[name] = v
			return v, true, nil
		}
	}
	delete(m.configCache, name)
	return "", false, nil
}

// SetConfigValue implements database.Conn.
func (m *MemoryDB) SetConfigValue(_ context.Context, name, value string) error {
	m.mu.Lock()
	t, err := m.table("write config", database.ConfigTable)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	found := false
	for _, r := range t.rows {
		if r["name"] == name {
			r["value"] = value
			found = true
		}
	}
	if !found {
		id := m.nextID(database.ConfigTable)
		m.counters[database.ConfigTable] = id + 1
		t.rows = append(t.rows, database.Record{
			database.IDColumn: strconv.FormatInt(id, 10),
			"name":            name,
			"value":           value,
		})
	}
	m.configCache[name] = value
	m.mu.Unlock()
	m.notify(database.ConfigTable)
	return nil
}

// SetConfigRow changes a config row without touching the read cache, the
// way another process would.
func (m *MemoryDB) SetConfigRow(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[database.ConfigTable]; ok {
		for _, r := range t.rows {
			if r["name"] == name {
				r["value"] = value
			}
		}
	}
}

func hasAutoID(t *memTable) bool {
	for _, c := range t.columns {
		if c.Name == database.IDColumn {
			return c.AutoIncrement
		}
	}
	return false
}

func copyRecord(r database.Record) database.Record {
	out := make(database.Record, len(r))
	for k, v := range r {
		out[k] = database.NormalizeValue(v)
	}
	return out
}
