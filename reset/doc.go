// Package reset restores a test database to its captured snapshot.
//
// A reset only touches tables written since the previous reset, except on
// the first reset of a session, which examines every table. Auto-increment
// tables whose captured rows are intact and only gained rows at the end are
// truncated instead of reloaded. Id counters of the restored tables are
// then moved to staggered starting values by a per-engine Strategy, and
// tables created during the test are dropped.
//
//	engine := reset.New(db, store, tracker, sequence.New(0, 0), log)
//	res, err := engine.Reset(ctx)
//
// Any failing statement aborts the reset with a DATABASE_ERROR. The
// database is then in an unknown state and must be reinstalled.
package reset
