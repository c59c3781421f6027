package database

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// IDColumn is the conventional auto-increment primary key column.
const IDColumn = "id"

// ConfigTable is the unprefixed name of the installation's key/value table.
const ConfigTable = "config"

// Family groups engines by how their id counters can be manipulated.
type Family string

const (
	FamilyPostgres Family = "postgres"
	FamilyMySQL    Family = "mysql"
	FamilySQLite   Family = "sqlite"
	FamilyMSSQL    Family = "mssql"
	FamilyOther    Family = "other"
)

// Record is a single table row. Values are normalized to string or nil.
type Record map[string]any

// ID returns the numeric value of the id column.
func (r Record) ID() (int64, bool) {
	v, ok := r[IDColumn]
	if !ok || v == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Equal reports whether both records carry the same columns and values.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok {
			return false
		}
		if (v == nil) != (ov == nil) {
			return false
		}
		if v != nil && fmt.Sprint(v) != fmt.Sprint(ov) {
			return false
		}
	}
	return true
}

// Column describes one table column.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Nullable      bool   `json:"nullable"`
	AutoIncrement bool   `json:"auto_increment"`
	PrimaryKey    bool   `json:"primary_key"`
}

// HasAutoIncrementID reports whether the id column is an auto-increment primary key.
func HasAutoIncrementID(columns map[string]Column) bool {
	c, ok := columns[IDColumn]
	return ok && c.AutoIncrement
}

// ServerInfo names the engine and its version.
type ServerInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Conn is the database surface consumed by the snapshot, reset and report
// packages. Table names are unprefixed.
type Conn interface {
	Family() Family
	Prefix() string
	ServerInfo(ctx context.Context) (ServerInfo, error)

	Tables(ctx context.Context) ([]string, error)
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	DropTable(ctx context.Context, table string) error

	Records(ctx context.Context, table string, orderByID bool) ([]Record, error)
	ImportRecord(ctx context.Context, table string, rec Record) error
	DeleteAll(ctx context.Context, table string) error
	DeleteAbove(ctx context.Context, table string, id int64) error

	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	ExecBatch(ctx context.Context, stmts []string) error
	ResetSequence(ctx context.Context, table string) error

	ConfigValue(ctx context.Context, name string, bypassCache bool) (string, bool, error)
	SetConfigValue(ctx context.Context, name, value string) error
}

// NormalizeValue renders a driver value as a canonical string, keeping nil.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// NormalizeRecord converts raw column values with NormalizeValue.
func NormalizeRecord(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		rec[k] = NormalizeValue(v)
	}
	return rec
}
