// Package database implements the relational side of the reset harness on
// top of GORM.
//
// DB satisfies Conn, the table-level surface the snapshot, reset and
// siteinfo packages consume: table and column discovery, record reads and
// id-preserving inserts, bulk deletes, structural statement batches, id
// counter resets and the installation's config key/value table.
//
// # Engines
//
// The driver is selected by Config.Driver:
//
//	db, err := database.Open(ctx, database.Config{
//	    Driver: "sqlite",
//	    DSN:    "/tmp/test.db",
//	    Prefix: "t_",
//	}, log)
//
// Engines are grouped into families (Family) that decide which id counter
// strategy the reset engine uses.
//
// # Table names
//
// Every table name crossing the Conn boundary is unprefixed; DB adds the
// configured prefix when building statements and strips it from listings.
//
// # Write tracking
//
// OnWrite registers a callback that receives the table name of every write
// issued through the connection. GORM create, update and delete statements
// report their statement table directly; raw statements are matched with a
// keyword-anchored pattern (TablesFromSQL).
//
// # Values
//
// Record values are normalized to string or nil (NormalizeValue) so rows
// survive serialization unchanged and compare exactly.
package database
