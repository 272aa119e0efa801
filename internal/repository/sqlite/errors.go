package sqlite

import (
	"errors"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rpattn/tickstore/internal/domain"
)

// classify maps SQLite constraint and locking failures to temporal error kinds.
// The failing table is recovered from the driver message, which names it as
// "table.column".
func classify(err error, tables domain.TableSet) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	code := sqliteErr.Code()
	message := err.Error()
	var kind error
	switch {
	case code&0xff == sqlite3lib.SQLITE_BUSY, code&0xff == sqlite3lib.SQLITE_LOCKED:
		kind = domain.ErrConcurrentModification
	case code&0xff != sqlite3lib.SQLITE_CONSTRAINT:
		return err
	case code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY,
		code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE,
		strings.Contains(message, "UNIQUE constraint failed"):
		switch {
		case tables.Clock != "" && strings.Contains(message, tables.Clock+".activity_id"):
			kind = domain.ErrDuplicateActivity
		case tables.Clock != "" && strings.Contains(message, tables.Clock+"."):
			kind = domain.ErrDuplicateTick
		case tables.Entity != "" && strings.Contains(message, tables.Entity+".id"):
			kind = domain.ErrConcurrentModification
		default:
			kind = domain.ErrConstraintViolation
		}
	default:
		// triggers, checks, foreign keys and not-null
		kind = domain.ErrConstraintViolation
	}

	return &domain.StorageError{Kind: kind, Err: err}
}
