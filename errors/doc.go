// Package errors provides the error taxonomy shared by the reset engines.
//
// Fatal failures (corrupted snapshot, failing statement, unwritable dataroot)
// are returned as *AppError values carrying a machine-readable code and the
// underlying cause. Recoverable conditions such as "not initialized yet" or
// "snapshot is stale" are reported as status values by the engines and only
// have codes here so callers can surface them consistently.
package errors
