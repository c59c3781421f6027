package database

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	apperrors "github.com/kbukum/resetkit/errors"
)

// transientMessages match connection failures that drivers only report as
// text, such as a postgres server still replaying its WAL.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"no route to host",
	"bad connection",
	"invalid connection",
	"the database system is starting up",
	"too many connections",
}

// IsConnectionError reports whether err looks like a failure to reach the
// server, the only kind of error worth retrying when opening a connection.
// Schema and SQL errors never match.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrap converts a driver error to a DATABASE_ERROR AppError naming the
// operation and table. AppErrors pass through unchanged.
func wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.Database(op, table, err)
}
