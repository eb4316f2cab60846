package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrPersistence marks a batch that could not be committed
var ErrPersistence = errors.New("persistence failed")

// PersistenceError reports why a batch was not committed. Nothing from the
// batch is visible when it is returned.
type PersistenceError struct {
	Attempts  int
	Transient bool // Last failure was a lock timeout or deadlock
	Exhausted bool // Retries ran out on transient failures
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("persist results: gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("persist results (attempt %d): %v", e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// IsTransient reports whether err is a lock wait timeout or deadlock that a
// fresh transaction may not hit again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
		return myErr.Number == 1205 || myErr.Number == 1213
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40P01", "55P03", "40001": // deadlock, lock_not_available, serialization_failure
			return true
		}
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// IsDuplicate reports whether err is a primary key violation
func IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// Extended codes are off on this connection
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}
