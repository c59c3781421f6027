package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Status conditions. Engines report these as values, not as failures.
const (
	// ErrCodeNotInitialized indicates no snapshot has been captured yet.
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	// ErrCodeStale indicates the snapshot fingerprint no longer matches the codebase.
	ErrCodeStale ErrorCode = "SNAPSHOT_STALE"
)

// Fatal errors
const (
	// ErrCodeSnapshotFormat indicates a snapshot file could not be decoded.
	ErrCodeSnapshotFormat ErrorCode = "SNAPSHOT_FORMAT"
	// ErrCodeDatabaseError indicates a failing database statement.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	// ErrCodeFilesystem indicates a missing or unwritable path.
	ErrCodeFilesystem ErrorCode = "FILESYSTEM_ERROR"
	// ErrCodeInvalidConfig indicates unusable configuration.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeNotTestSite indicates the database or dataroot was not created for testing.
	ErrCodeNotTestSite ErrorCode = "NOT_TEST_SITE"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var fatalCodes = map[ErrorCode]bool{
	ErrCodeSnapshotFormat: true,
	ErrCodeDatabaseError:  true,
	ErrCodeFilesystem:     true,
	ErrCodeInvalidConfig:  true,
	ErrCodeNotTestSite:    true,
	ErrCodeInternal:       true,
}

// IsFatalCode returns true if the code leaves the test environment contaminated
// and the caller must reinstall or recapture.
func IsFatalCode(code ErrorCode) bool {
	return fatalCodes[code]
}
