package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/tickstore/internal/domain"
)

const (
	pgUniqueViolation       = "23505"
	pgCheckViolation        = "23514"
	pgExclusionViolation    = "23P01"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgLockNotAvailable      = "55P03"
	pgForeignKeyViolation   = "23503"
	pgDataException         = "22000"
	clockTickKeySuffix      = "entity_tick_key"
	clockActivityKeySuffix  = "entity_activity_key"
	historyOpenKeySuffix    = "open_key"
	historyExclTickSuffix   = "excl_vclock"
	historyExclEffectSuffix = "excl_effective"
)

// classifyPgError maps a Postgres error raised while writing tables to a
// temporal error kind. Errors it does not recognise are returned untouched.
func classifyPgError(err error, tables domain.TableSet) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	var kind error
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case domain.ConstraintName(tables.Clock, clockTickKeySuffix):
			kind = domain.ErrDuplicateTick
		case domain.ConstraintName(tables.Clock, clockActivityKeySuffix):
			kind = domain.ErrDuplicateActivity
		default:
			if pgErr.TableName == tables.Entity {
				// Another writer created the same entity first.
				kind = domain.ErrConcurrentModification
			} else {
				kind = domain.ErrConstraintViolation
			}
		}
	case pgExclusionViolation, pgCheckViolation, pgForeignKeyViolation, pgDataException:
		kind = domain.ErrConstraintViolation
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		kind = domain.ErrConcurrentModification
	default:
		return err
	}

	return &domain.StorageError{Kind: kind, Constraint: pgErr.ConstraintName, Err: err}
}

// classifyCommitError handles failures surfaced only at commit time, where the
// table set is no longer known.
func classifyCommitError(err error) error {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return &domain.StorageError{Kind: domain.ErrConcurrentModification, Err: err}
	case pgExclusionViolation, pgUniqueViolation:
		return &domain.StorageError{Kind: domain.ErrConstraintViolation, Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}
