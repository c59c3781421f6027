package database

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
)

// Tables lists the installation's tables without prefix, sorted by name.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var q string
	switch d.family {
	case FamilySQLite:
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	case FamilyPostgres:
		q = "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema()"
	case FamilyMySQL:
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'"
	case FamilyMSSQL:
		q = "SELECT name FROM sys.tables"
	default:
		names, err := d.GormDB.WithContext(ctx).Migrator().GetTables()
		if err != nil {
			return nil, wrap("list tables", "", err)
		}
		return d.stripPrefix(names), nil
	}

	names, err := d.queryStrings(ctx, q)
	if err != nil {
		return nil, wrap("list tables", "", err)
	}
	return d.stripPrefix(names), nil
}

func (d *DB) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := d.GormDB.WithContext(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) stripPrefix(names []string) []string {
	prefix := strings.ToLower(d.cfg.Prefix)
	tables := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(n)
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		tables = append(tables, strings.TrimPrefix(n, prefix))
	}
	sort.Strings(tables)
	return tables
}

// TableExists reports whether the prefixed table exists.
func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	tables, err := d.Tables(ctx)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(tables, table)
	return i < len(tables) && tables[i] == table, nil
}

// Columns returns the column descriptors of a table in declaration order.
func (d *DB) Columns(ctx context.Context, table string) ([]Column, error) {
	if d.family == FamilySQLite {
		return d.sqliteColumns(ctx, table)
	}

	types, err := d.GormDB.WithContext(ctx).Migrator().ColumnTypes(d.FullName(table))
	if err != nil {
		return nil, wrap("read columns", table, err)
	}
	cols := make([]Column, 0, len(types))
	for _, ct := range types {
		c := Column{
			Name: strings.ToLower(ct.Name()),
			Type: strings.ToLower(ct.DatabaseTypeName()),
		}
		if v, ok := ct.Nullable(); ok {
			c.Nullable = v
		}
		if v, ok := ct.AutoIncrement(); ok {
			c.AutoIncrement = v
		}
		if v, ok := ct.PrimaryKey(); ok {
			c.PrimaryKey = v
		}
		if d.family == FamilyPostgres && c.Name == IDColumn && !c.AutoIncrement {
			if v, ok := ct.DefaultValue(); ok && strings.HasPrefix(v, "nextval(") {
				c.AutoIncrement = true
			}
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// sqliteColumns reads PRAGMA table_info. A sole INTEGER primary key counts
// as auto-increment only when the table was declared AUTOINCREMENT.
func (d *DB) sqliteColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.GormDB.WithContext(ctx).Raw("PRAGMA table_info(" + d.quoteTable(table) + ")").Rows()
	if err != nil {
		return nil, wrap("read columns", table, err)
	}
	defer rows.Close()

	var cols []Column
	pkCount := 0
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, wrap("read columns", table, err)
		}
		if pk > 0 {
			pkCount++
		}
		cols = append(cols, Column{
			Name:       strings.ToLower(name),
			Type:       strings.ToLower(ctype),
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("read columns", table, err)
	}
	if pkCount != 1 {
		return cols, nil
	}
	auto, err := d.sqliteAutoIncrement(ctx, table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if auto && cols[i].PrimaryKey && cols[i].Type == "integer" {
			cols[i].AutoIncrement = true
		}
	}
	return cols, nil
}

// sqliteAutoIncrement reports whether a table was declared AUTOINCREMENT.
// Only those tables keep a counter in sqlite_sequence; a plain INTEGER
// PRIMARY KEY reuses max(rowid)+1 and has nothing to reset.
func (d *DB) sqliteAutoIncrement(ctx context.Context, table string) (bool, error) {
	var ddl sql.NullString
	err := d.GormDB.WithContext(ctx).
		Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", d.FullName(table)).
		Row().Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("read table definition", table, err)
	}
	return strings.Contains(strings.ToUpper(ddl.String), "AUTOINCREMENT"), nil
}

// sqliteHasSequences reports whether sqlite_sequence exists. SQLite creates
// it with the first AUTOINCREMENT table.
func (d *DB) sqliteHasSequences(ctx context.Context) (bool, error) {
	var n int64
	err := d.GormDB.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").
		Row().Scan(&n)
	if err != nil {
		return false, wrap("read sqlite_sequence", "", err)
	}
	return n > 0, nil
}

// DropTable drops a table.
func (d *DB) DropTable(ctx context.Context, table string) error {
	if err := d.GormDB.WithContext(ctx).Exec("DROP TABLE " + d.quoteTable(table)).Error; err != nil {
		return wrap("drop table", table, err)
	}
	return nil
}

// ServerInfo reports the engine name and version.
func (d *DB) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var desc, q string
	switch d.family {
	case FamilySQLite:
		desc, q = "SQLite", "SELECT sqlite_version()"
	case FamilyPostgres:
		desc, q = "PostgreSQL", "SHOW server_version"
	case FamilyMySQL:
		desc, q = "MySQL", "SELECT VERSION()"
	case FamilyMSSQL:
		desc, q = "SQL Server", "SELECT CAST(SERVERPROPERTY('ProductVersion') AS VARCHAR(64))"
	default:
		return ServerInfo{Description: d.GormDB.Dialector.Name()}, nil
	}

	var version string
	if err := d.GormDB.WithContext(ctx).Raw(q).Row().Scan(&version); err != nil {
		return ServerInfo{}, wrap("server version", "", err)
	}
	return ServerInfo{Description: desc, Version: version}, nil
}
