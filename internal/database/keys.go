package database

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

var lockTimeoutMs atomic.Int64

func init() {
	lockTimeoutMs.Store(5000)
}

// SetLockTimeout bounds how long AllocateKeys waits for the table lock.
func SetLockTimeout(d time.Duration) {
	if d > 0 {
		lockTimeoutMs.Store(d.Milliseconds())
	}
}

// LockTimeout returns the current lock wait bound.
func LockTimeout() time.Duration {
	return time.Duration(lockTimeoutMs.Load()) * time.Millisecond
}

// keyColumns lists the tables whose surrogate keys are allocated here.
var keyColumns = map[string]string{
	FactHeader{}.TableName(): "cutting_down_key",
	FactDetail{}.TableName(): "cutting_down_detail_key",
}

// LockKeyTable takes the allocation lock on table for the rest of tx.
// The lock excludes other allocators and concurrent inserts but not readers.
// Taking it twice in one transaction is harmless.
func LockKeyTable(tx *gorm.DB, table string) error {
	column, ok := keyColumns[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKeyTable, table)
	}

	if IsPostgres(tx) {
		// SET LOCAL does not accept bind parameters.
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", LockTimeout().Milliseconds())).Error; err != nil {
			return classifyLockError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
		if err := tx.Exec(fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", table)).Error; err != nil {
			return classifyLockError(fmt.Errorf("failed to lock %s: %w", table, err))
		}
		return nil
	}

	// SQLite locks the whole database; a write that touches no rows is
	// enough to hold the reserved lock until commit. _busy_timeout bounds
	// the wait.
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE 1 = 0", table, column, column)
	if err := tx.Exec(stmt).Error; err != nil {
		return classifyLockError(fmt.Errorf("failed to lock %s: %w", table, err))
	}
	return nil
}

// AllocateKeys reserves n consecutive keys in table and returns the first.
// It must run inside tx; the lock is held until tx ends, so rows using the
// keys have to be inserted in the same transaction.
func AllocateKeys(tx *gorm.DB, table string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKeyCount, n)
	}
	column, ok := keyColumns[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKeyTable, table)
	}

	if err := LockKeyTable(tx, table); err != nil {
		return 0, err
	}

	var maxKey int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", column, table)
	if err := tx.Raw(query).Scan(&maxKey).Error; err != nil {
		return 0, classifyLockError(fmt.Errorf("failed to read max key of %s: %w", table, err))
	}

	return maxKey + 1, nil
}
