package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Records returns every row of a table, ordered by id when orderByID is set.
func (d *DB) Records(ctx context.Context, table string, orderByID bool) ([]Record, error) {
	q := "SELECT * FROM " + d.quoteTable(table)
	if orderByID {
		q += " ORDER BY " + d.quote(IDColumn) + " ASC"
	}
	recs, err := d.Query(ctx, q)
	if err != nil {
		return nil, wrap("read records", table, err)
	}
	return recs, nil
}

// Query runs a read statement and returns normalized rows keyed by
// lower-cased column name.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := d.GormDB.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, wrap("query", "", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, wrap("query", "", err)
	}
	return recs, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var recs []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[strings.ToLower(c)] = NormalizeValue(values[i])
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ImportRecord inserts a record as-is, keeping its id.
func (d *DB) ImportRecord(ctx context.Context, table string, rec Record) error {
	if len(rec) == 0 {
		return nil
	}
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)

	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		quoted[i] = d.quote(n)
		marks[i] = "?"
		args[i] = rec[n]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quoteTable(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	if err := d.GormDB.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return wrap("import record", table, err)
	}
	return nil
}

// DeleteAll removes every row of a table.
func (d *DB) DeleteAll(ctx context.Context, table string) error {
	if err := d.GormDB.WithContext(ctx).Exec("DELETE FROM " + d.quoteTable(table)).Error; err != nil {
		return wrap("delete records", table, err)
	}
	return nil
}

// DeleteAbove removes rows whose id is greater than id.
func (d *DB) DeleteAbove(ctx context.Context, table string, id int64) error {
	stmt := "DELETE FROM " + d.quoteTable(table) + " WHERE " + d.quote(IDColumn) + " > ?"
	if err := d.GormDB.WithContext(ctx).Exec(stmt, id).Error; err != nil {
		return wrap("delete records", table, err)
	}
	return nil
}

// ExecBatch runs structural statements. Postgres and SQLite accept them as a
// single multi-statement execution; other engines run them one by one.
func (d *DB) ExecBatch(ctx context.Context, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	tx := d.GormDB.WithContext(ctx)
	switch d.family {
	case FamilyPostgres, FamilySQLite:
		if err := tx.Exec(strings.Join(stmts, ";\n")).Error; err != nil {
			return wrap("exec batch", "", err)
		}
	default:
		for _, s := range stmts {
			if err := tx.Exec(s).Error; err != nil {
				return wrap("exec batch", "", err)
			}
		}
	}
	return nil
}

// ResetSequence moves a table's id counter to max(id)+1.
func (d *DB) ResetSequence(ctx context.Context, table string) error {
	var next int64 = 1
	recs, err := d.Query(ctx, "SELECT MAX("+d.quote(IDColumn)+") AS maxid FROM "+d.quoteTable(table))
	if err != nil {
		return wrap("reset sequence", table, err)
	}
	if len(recs) == 1 {
		if v, ok := (Record{IDColumn: recs[0]["maxid"]}).ID(); ok {
			next = v + 1
		}
	}

	full := d.FullName(table)
	var stmts []string
	var args [][]any
	switch d.family {
	case FamilySQLite:
		ok, err := d.sqliteHasSequences(ctx)
		if err != nil || !ok {
			return err
		}
		stmts = []string{
			"DELETE FROM sqlite_sequence WHERE name = ?",
			"INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)",
		}
		args = [][]any{{full}, {full, next - 1}}
	case FamilyPostgres:
		stmts = []string{"SELECT setval(pg_get_serial_sequence(?, ?), ?, false)"}
		args = [][]any{{full, IDColumn, next}}
	case FamilyMySQL:
		stmts = []string{fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", d.quote(full), next)}
		args = [][]any{nil}
	case FamilyMSSQL:
		stmts = []string{fmt.Sprintf("DBCC CHECKIDENT ('%s', RESEED, %d)", full, next-1)}
		args = [][]any{nil}
	default:
		return nil
	}

	tx := d.GormDB.WithContext(ctx)
	for i, s := range stmts {
		if err := tx.Exec(s, args[i]...).Error; err != nil {
			return wrap("reset sequence", table, err)
		}
	}
	return nil
}
