package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClockTick records one tick event of an entity.
type ClockTick struct {
	EntityID   uuid.UUID     `json:"entity_id"`
	Tick       int64         `json:"tick"`
	Timestamp  time.Time     `json:"timestamp"`
	ActivityID uuid.NullUUID `json:"activity_id"`
	// Activity holds whatever a TickQuery decoder produced from joined columns.
	Activity any `json:"activity,omitempty"`
}

// EntityState is the locked, persisted clock state of an entity row.
type EntityState struct {
	Tick          int64
	LastTimestamp time.Time
}

// TickQuery describes the query used to list clock ticks. The clock table is
// aliased as "c"; Joins and Columns are appended verbatim, and Decode turns the
// values of Columns into ClockTick.Activity.
type TickQuery struct {
	Joins   []string
	Columns []string
	Decode  func(values []any) (any, error)
}

// Refined applies refine to q, tolerating a nil refiner.
func (q TickQuery) Refined(refine func(TickQuery) TickQuery) TickQuery {
	if refine == nil {
		return q
	}
	return refine(q)
}
