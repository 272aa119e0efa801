package domain

import (
	"time"

	"github.com/google/uuid"
)

// Interval is one epoch of a tracked field: the value held over the half-open
// tick range [StartTick, EndTick) and time range [StartTime, EndTime).
// A nil end bound means the interval is still open.
type Interval struct {
	ID        uuid.UUID  `json:"id"`
	EntityID  uuid.UUID  `json:"entity_id"`
	Value     any        `json:"value"`
	StartTick int64      `json:"start_tick"`
	EndTick   *int64     `json:"end_tick,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Open reports whether the interval has no end bound yet.
func (i Interval) Open() bool {
	return i.EndTick == nil
}

// ContainsTick reports whether tick falls within [StartTick, EndTick).
func (i Interval) ContainsTick(tick int64) bool {
	if tick < i.StartTick {
		return false
	}
	return i.EndTick == nil || tick < *i.EndTick
}

// ContainsTime reports whether ts falls within [StartTime, EndTime).
func (i Interval) ContainsTime(ts time.Time) bool {
	if ts.Before(i.StartTime) {
		return false
	}
	return i.EndTime == nil || ts.Before(*i.EndTime)
}

// TimelineEntry is one tick of an entity together with the tracked fields that
// received a new value at that tick.
type TimelineEntry struct {
	Clock   ClockTick      `json:"clock"`
	Changed map[string]any `json:"changed_fields"`
}
