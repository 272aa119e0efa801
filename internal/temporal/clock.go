package temporal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
)

// Allocator computes tick numbers and timestamps for an entity. It reserves
// nothing; the caller persists the tick in the same transaction that locked
// the entity.
type Allocator struct {
	now func() time.Time
}

// NewAllocator returns an allocator reading time from now.
func NewAllocator(now func() time.Time) Allocator {
	if now == nil {
		now = time.Now
	}
	return Allocator{now: now}
}

// NextTick returns the candidate tick following state.
func (Allocator) NextTick(state domain.EntityState) int64 {
	return state.Tick + 1
}

// Timestamp returns the instant of the next tick. Stores keep microsecond
// precision, and every tick must be strictly later than the previous one so
// that no effective range is empty.
func (a Allocator) Timestamp(state domain.EntityState) time.Time {
	ts := a.now().UTC().Truncate(time.Microsecond)
	if !state.LastTimestamp.IsZero() && !ts.After(state.LastTimestamp) {
		ts = state.LastTimestamp.UTC().Add(time.Microsecond)
	}
	return ts
}

// RecordTick persists one clock tick, linking it to activity when valid.
func (Allocator) RecordTick(ctx context.Context, tx repository.Tx, tables domain.TableSet, entityID uuid.UUID, tick int64, ts time.Time, activity uuid.NullUUID) (domain.ClockTick, error) {
	clock := domain.ClockTick{
		EntityID:   entityID,
		Tick:       tick,
		Timestamp:  ts,
		ActivityID: activity,
	}
	if err := tx.RecordTick(ctx, tables, clock); err != nil {
		return domain.ClockTick{}, err
	}
	return clock, nil
}
