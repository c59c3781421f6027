// Package dirty tracks which tables were written since the last reset.
//
// The in-process set is fed by the database write hook. When a second
// process (for example a browser-driving scenario runner) writes to the
// same database, it posts table names to a shared Mailbox. The resetting
// process absorbs the mailbox into its own set before each reset. Entries
// are idempotent table-name flags, so a race between writers only causes
// a redundant restore, never a skipped one.
//
//	tracker := dirty.New(log, dirty.WithMailbox(dirty.NewFileMailbox(fs, path)))
//	tracker.Attach(db)
package dirty
