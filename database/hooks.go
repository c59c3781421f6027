package database

import (
	"regexp"
	"strings"

	"gorm.io/gorm"
)

// OnWrite registers fn to be called with the unprefixed table name of every
// write issued through this connection.
func (d *DB) OnWrite(fn func(table string)) {
	d.obsMu.Lock()
	d.observers = append(d.observers, fn)
	d.obsMu.Unlock()
}

func (d *DB) notifyWrite(fullName string) {
	prefix := strings.ToLower(d.cfg.Prefix)
	name := strings.ToLower(fullName)
	if name == "" || !strings.HasPrefix(name, prefix) {
		return
	}
	table := strings.TrimPrefix(name, prefix)

	d.obsMu.RLock()
	observers := d.observers
	d.obsMu.RUnlock()
	for _, fn := range observers {
		fn(table)
	}
}

func (d *DB) registerWriteCallbacks() error {
	cb := d.GormDB.Callback()
	if err := cb.Create().After("gorm:create").Register("resetkit:track_create", d.trackStatement); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("resetkit:track_update", d.trackStatement); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("resetkit:track_delete", d.trackStatement); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("resetkit:track_raw", d.trackRaw)
}

func (d *DB) trackStatement(tx *gorm.DB) {
	table := tx.Statement.Table
	if table == "" && tx.Statement.Schema != nil {
		table = tx.Statement.Schema.Table
	}
	d.notifyWrite(table)
}

func (d *DB) trackRaw(tx *gorm.DB) {
	for _, table := range d.TablesFromSQL(tx.Statement.SQL.String()) {
		d.notifyWrite(d.cfg.Prefix + table)
	}
}

// TablesFromSQL extracts the unprefixed target tables of write statements.
// The prefix only counts directly after a write keyword, so prefixed text
// elsewhere in the statement never matches.
func (d *DB) TablesFromSQL(stmt string) []string {
	return tablesFromSQL(d.writeTarget, stmt)
}

func writeTargetPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\b(?:` +
		`insert\s+(?:ignore\s+)?into|` +
		`replace\s+into|` +
		`update(?:\s+ignore)?|` +
		`delete\s+from|` +
		`truncate(?:\s+table)?|` +
		`alter\s+table|` +
		`drop\s+table(?:\s+if\s+exists)?|` +
		`create\s+(?:temporary\s+)?table(?:\s+if\s+not\s+exists)?` +
		")\\s+[`\"\\[]?" + regexp.QuoteMeta(prefix) + `(\w+)`)
}

func tablesFromSQL(re *regexp.Regexp, stmt string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(stmt, -1) {
		t := strings.ToLower(m[1])
		if !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	return tables
}
