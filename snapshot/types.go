package snapshot

import "github.com/kbukum/resetkit/database"

// File names below the framework directory.
const (
	DataFile        = "tabledata.ser"
	StructureFile   = "tablestructure.ser"
	FingerprintFile = "versionshash.txt"
)

// TableRows holds the captured rows of one table.
type TableRows struct {
	Name string            `json:"name"`
	Rows []database.Record `json:"rows"`
}

// LastID returns the id of the last captured row, 0 if the table was empty
// or has no numeric id.
func (t TableRows) LastID() int64 {
	if len(t.Rows) == 0 {
		return 0
	}
	id, _ := t.Rows[len(t.Rows)-1].ID()
	return id
}

// TableData is the captured content of every table, in capture order.
type TableData []TableRows

// Names returns the table names in capture order.
func (d TableData) Names() []string {
	names := make([]string, len(d))
	for i, t := range d {
		names[i] = t.Name
	}
	return names
}

// Lookup returns the captured rows of table.
func (d TableData) Lookup(table string) (TableRows, bool) {
	for _, t := range d {
		if t.Name == table {
			return t, true
		}
	}
	return TableRows{}, false
}

// TableStructure maps a table name to its columns by name.
type TableStructure map[string]map[string]database.Column

// AutoIncrement reports whether table's id column is an auto-increment key.
func (s TableStructure) AutoIncrement(table string) bool {
	return database.HasAutoIncrementID(s[table])
}

type dataFile struct {
	Tables TableData `json:"tables"`
}

type structureFile struct {
	Tables TableStructure `json:"tables"`
}
