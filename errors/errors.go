package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the unified error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Fatal reports whether the error leaves the environment contaminated.
func (e *AppError) Fatal() bool { return IsFatalCode(e.Code) }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotInitialized reports that the named state has not been captured yet.
func NotInitialized(what string) *AppError {
	return &AppError{
		Code: ErrCodeNotInitialized, Message: fmt.Sprintf("%s has not been initialized yet.", what),
		Details: map[string]any{"what": what},
	}
}

// Stale reports a fingerprint mismatch.
func Stale(reason string) *AppError {
	return &AppError{
		Code: ErrCodeStale, Message: "Test data was created with a different codebase version: " + reason,
	}
}

// SnapshotFormat reports a snapshot file that cannot be decoded.
func SnapshotFormat(file string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSnapshotFormat,
		Message: fmt.Sprintf("Can not read %s or invalid format, reinitialize test database.", file),
		Details: map[string]any{"file": file}, Cause: cause,
	}
}

// Database wraps a failing database operation.
func Database(op, table string, cause error) *AppError {
	details := map[string]any{"operation": op}
	if table != "" {
		details["table"] = table
	}
	return &AppError{
		Code: ErrCodeDatabaseError, Message: fmt.Sprintf("Database operation %s failed.", op),
		Details: details, Cause: cause,
	}
}

// Filesystem wraps a failing filesystem operation.
func Filesystem(op, path string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeFilesystem, Message: fmt.Sprintf("Filesystem operation %s failed for %s.", op, path),
		Details: map[string]any{"operation": op, "path": path}, Cause: cause,
	}
}

// InvalidConfig reports an unusable configuration value.
func InvalidConfig(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("Invalid configuration: %s", reason),
		Details: details,
	}
}

// NotTestSite reports that the target environment is not a disposable test site.
func NotTestSite(reason string) *AppError {
	return &AppError{
		Code: ErrCodeNotTestSite, Message: "Refusing to touch a site that is not a test site: " + reason,
	}
}

// Internal creates a new AppError for an unexpected error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.", Cause: cause,
	}
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err's chain carries an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
