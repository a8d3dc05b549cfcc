package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrResourceBusy means a table lock or serialization conflict could not
	// be resolved within the lock timeout. Callers may retry.
	ErrResourceBusy = errors.New("resource busy")

	// ErrInvalidKeyCount is returned when fewer than one key is requested.
	ErrInvalidKeyCount = errors.New("key count must be positive")

	// ErrUnknownKeyTable is returned for tables without a registered key column.
	ErrUnknownKeyTable = errors.New("table has no registered key column")
)

// PostgreSQL SQLSTATEs that mean "try again later".
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsBusy reports whether err is a lock wait timeout, deadlock, or
// serialization conflict raised by either supported database.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrResourceBusy) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return true
		}
		return false
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "lock timeout")
}

// classifyLockError maps busy conditions onto ErrResourceBusy and leaves
// everything else as is.
func classifyLockError(err error) error {
	if err == nil || errors.Is(err, ErrResourceBusy) {
		return err
	}
	if IsBusy(err) {
		return errors.Join(ErrResourceBusy, err)
	}
	return err
}
