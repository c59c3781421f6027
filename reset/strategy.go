package reset

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/sequence"
)

// SequenceTable names an auto-increment table whose counter must be reset,
// with the highest captured id.
type SequenceTable struct {
	Name   string
	LastID int64
}

// Strategy moves id counters of restored tables. Implementations that
// stagger counters draw starting values from alloc and return them by
// table.
type Strategy interface {
	Name() string
	Reset(ctx context.Context, db database.Conn, tables []SequenceTable, alloc *sequence.Allocator) (map[string]int64, error)
}

// Strategy names.
const (
	StrategyRestartBatch = "restart-batch"
	StrategyCounterSet   = "counter-set"
	StrategyGeneric      = "generic"
)

// StrategyFor returns the default strategy of a database family.
func StrategyFor(family database.Family) Strategy {
	switch family {
	case database.FamilyPostgres:
		return RestartBatch()
	case database.FamilyMySQL:
		return CounterSet(MySQLCounters, MySQLSetCounter)
	case database.FamilySQLite:
		return CounterSet(SQLiteCounters, SQLiteSetCounter)
	default:
		return Generic()
	}
}

type restartBatch struct{}

// RestartBatch restarts each table's id sequence with one batched
// execution of ALTER SEQUENCE statements.
func RestartBatch() Strategy { return restartBatch{} }

func (restartBatch) Name() string { return StrategyRestartBatch }

func (restartBatch) Reset(ctx context.Context, db database.Conn, tables []SequenceTable, alloc *sequence.Allocator) (map[string]int64, error) {
	assigned := make(map[string]int64, len(tables))
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		next := alloc.Next(t.Name, t.LastID)
		assigned[t.Name] = next
		stmts = append(stmts, fmt.Sprintf("ALTER SEQUENCE %s%s_id_seq RESTART WITH %d", db.Prefix(), t.Name, next))
	}
	if len(stmts) == 0 {
		return assigned, nil
	}
	return assigned, db.ExecBatch(ctx, stmts)
}

// CounterReader returns the next id of every auto-increment table that has
// a readable counter, by unprefixed table name.
type CounterReader func(ctx context.Context, db database.Conn) (map[string]int64, error)

// CounterStatement renders the statement setting a table's next id.
type CounterStatement func(db database.Conn, table string, next int64) string

type counterSet struct {
	read CounterReader
	set  CounterStatement
}

// CounterSet reads all counters once and issues a set statement only for
// tables whose counter differs from the allocated value. Tables without a
// readable counter fall back to the generic reset primitive.
func CounterSet(read CounterReader, set CounterStatement) Strategy {
	return counterSet{read: read, set: set}
}

func (counterSet) Name() string { return StrategyCounterSet }

func (s counterSet) Reset(ctx context.Context, db database.Conn, tables []SequenceTable, alloc *sequence.Allocator) (map[string]int64, error) {
	assigned := make(map[string]int64, len(tables))
	if len(tables) == 0 {
		return assigned, nil
	}
	counters, err := s.read(ctx, db)
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, t := range tables {
		current, ok := counters[t.Name]
		if !ok {
			if err := db.ResetSequence(ctx, t.Name); err != nil {
				return nil, err
			}
			continue
		}
		next := alloc.Next(t.Name, t.LastID)
		assigned[t.Name] = next
		if current != next {
			stmts = append(stmts, s.set(db, t.Name, next))
		}
	}
	if len(stmts) == 0 {
		return assigned, nil
	}
	return assigned, db.ExecBatch(ctx, stmts)
}

// MySQLCounters reads AUTO_INCREMENT values from SHOW TABLE STATUS.
func MySQLCounters(ctx context.Context, db database.Conn) (map[string]int64, error) {
	rows, err := db.Query(ctx, "SHOW TABLE STATUS LIKE ?", db.Prefix()+"%")
	if err != nil {
		return nil, err
	}
	counters := make(map[string]int64, len(rows))
	for _, r := range rows {
		table, ok := unprefixed(db.Prefix(), r["name"])
		if !ok {
			continue
		}
		if next, ok := parseInt(r["auto_increment"]); ok {
			counters[table] = next
		}
	}
	return counters, nil
}

// MySQLSetCounter renders ALTER TABLE ... AUTO_INCREMENT.
func MySQLSetCounter(db database.Conn, table string, next int64) string {
	return fmt.Sprintf("ALTER TABLE %s%s AUTO_INCREMENT = %d", db.Prefix(), table, next)
}

// SQLiteCounters reads sqlite_sequence. The stored value is the last id
// handed out, so the next id is one above it. A schema without any
// AUTOINCREMENT table has no sqlite_sequence and no counters.
func SQLiteCounters(ctx context.Context, db database.Conn) (map[string]int64, error) {
	exists, err := db.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'")
	if err != nil {
		return nil, err
	}
	if len(exists) == 0 {
		return map[string]int64{}, nil
	}
	rows, err := db.Query(ctx, "SELECT name, seq FROM sqlite_sequence")
	if err != nil {
		return nil, err
	}
	counters := make(map[string]int64, len(rows))
	for _, r := range rows {
		table, ok := unprefixed(db.Prefix(), r["name"])
		if !ok {
			continue
		}
		if seq, ok := parseInt(r["seq"]); ok {
			counters[table] = seq + 1
		}
	}
	return counters, nil
}

// SQLiteSetCounter renders an sqlite_sequence update.
func SQLiteSetCounter(db database.Conn, table string, next int64) string {
	return fmt.Sprintf("UPDATE sqlite_sequence SET seq = %d WHERE name = '%s%s'", next-1, db.Prefix(), table)
}

type generic struct{}

// Generic resets each counter with the engine's own primitive. Counters
// are not staggered.
func Generic() Strategy { return generic{} }

func (generic) Name() string { return StrategyGeneric }

func (generic) Reset(ctx context.Context, db database.Conn, tables []SequenceTable, _ *sequence.Allocator) (map[string]int64, error) {
	for _, t := range tables {
		if err := db.ResetSequence(ctx, t.Name); err != nil {
			return nil, err
		}
	}
	return map[string]int64{}, nil
}

// unprefixed lowercases a metadata table name and strips the prefix. Names
// outside the prefix, which LIKE lets through when the prefix contains an
// underscore, are rejected.
func unprefixed(prefix string, v any) (string, bool) {
	if v == nil {
		return "", false
	}
	name := strings.ToLower(fmt.Sprint(v))
	prefix = strings.ToLower(prefix)
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

func parseInt(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
	return n, err == nil
}
