package repository

import (
	"context"
	"time"

	"github.com/rpattn/tickstore/internal/domain"

	"github.com/google/uuid"
)

// Reader defines the read side shared by stores and transactions.
type Reader interface {
	LoadEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityRow, error)

	// ValueAt returns the value whose tick range contains tick. A missing value
	// is reported through the boolean, not as an error.
	ValueAt(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, tick int64) (any, bool, error)
	ValueAtTime(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, ts time.Time) (any, bool, error)

	// Intervals returns every interval of one field ordered by start tick, in one query.
	Intervals(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID) ([]domain.Interval, error)

	// TicksFor returns the clock ticks of an entity in ascending order, in one query.
	TicksFor(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, query domain.TickQuery) ([]domain.ClockTick, error)
	TickBound(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, latest bool) (domain.ClockTick, bool, error)
	CountTicks(ctx context.Context, tables domain.TableSet, entityID uuid.UUID) (int64, error)
}

// Tx is the write side of a single atomic save.
type Tx interface {
	Reader

	// LockEntity takes a row lock on the entity held until commit or rollback.
	// The boolean is false when the entity row does not exist yet.
	LockEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityState, bool, error)
	InsertEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, tick int64, values map[string]any) error
	// UpdateEntity writes values and moves the row from fromTick to toTick. It
	// fails with ErrConcurrentModification if the row is no longer at fromTick.
	UpdateEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, fromTick, toTick int64, values map[string]any) error

	OpenInterval(ctx context.Context, tables domain.TableSet, field string, interval domain.Interval) (uuid.UUID, error)
	CloseOpenInterval(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, endTick int64, endTime time.Time) error
	RecordTick(ctx context.Context, tables domain.TableSet, tick domain.ClockTick) error
}

// Store is a temporal storage backend.
type Store interface {
	Reader

	// WithTx runs fn in one transaction, committing on nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// EnsureSchema creates the entity, clock and history tables of each set.
	EnsureSchema(ctx context.Context, sets ...domain.TableSet) error
	// BulkUpdate sets columns on many rows without touching ticks or history.
	BulkUpdate(ctx context.Context, tables domain.TableSet, set map[string]any, ids []uuid.UUID) (int64, error)
	Close()
}
