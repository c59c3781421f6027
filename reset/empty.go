package reset

import (
	"context"

	"github.com/kbukum/resetkit/database"
)

// EmptyDetector lists tables that are empty and whose id counter was never
// used, by unprefixed name. Such tables cannot have been touched.
type EmptyDetector func(ctx context.Context, db database.Conn) (map[string]bool, error)

var emptyDetectors = map[database.Family]EmptyDetector{
	database.FamilyMySQL: mysqlEmptyTables,
	database.FamilyMSSQL: mssqlEmptyTables,
}

// EmptyTables runs the detector of db's family. Families without one
// report no tables.
func EmptyTables(ctx context.Context, db database.Conn) (map[string]bool, error) {
	detect, ok := emptyDetectors[db.Family()]
	if !ok {
		return map[string]bool{}, nil
	}
	return detect(ctx, db)
}

func mysqlEmptyTables(ctx context.Context, db database.Conn) (map[string]bool, error) {
	rows, err := db.Query(ctx, "SHOW TABLE STATUS LIKE ?", db.Prefix()+"%")
	if err != nil {
		return nil, err
	}
	empties := make(map[string]bool)
	for _, r := range rows {
		table, ok := unprefixed(db.Prefix(), r["name"])
		if !ok {
			continue
		}
		next, hasCounter := parseInt(r["auto_increment"])
		count, _ := parseInt(r["rows"])
		if hasCounter && count == 0 && next == 1 {
			empties[table] = true
		}
	}
	return empties, nil
}

const mssqlEmptyQuery = `SELECT t.name
  FROM sys.identity_columns i
  JOIN sys.tables t ON t.object_id = i.object_id
 WHERE t.name LIKE ?
   AND i.name = 'id'
   AND i.last_value IS NULL`

func mssqlEmptyTables(ctx context.Context, db database.Conn) (map[string]bool, error) {
	rows, err := db.Query(ctx, mssqlEmptyQuery, db.Prefix()+"%")
	if err != nil {
		return nil, err
	}
	empties := make(map[string]bool)
	for _, r := range rows {
		if table, ok := unprefixed(db.Prefix(), r["name"]); ok {
			empties[table] = true
		}
	}
	return empties, nil
}
