package temporal

import (
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Record is the in-memory state of one clocked entity. Values holds every
// declared column; the state captured at load or at the last save is what the
// next save diffs against.
type Record struct {
	Type   string
	ID     uuid.UUID
	Tick   int64
	Values map[string]any

	loaded    map[string]any
	persisted bool
}

// NewRecord returns an unsaved record with a fresh identity.
func NewRecord(entityType string, values map[string]any) *Record {
	return NewRecordWithID(entityType, uuid.New(), values)
}

// NewRecordWithID returns an unsaved record with a caller-chosen identity.
func NewRecordWithID(entityType string, id uuid.UUID, values map[string]any) *Record {
	return &Record{
		Type:   entityType,
		ID:     id,
		Values: copyValues(values),
	}
}

// Persisted reports whether the record has been loaded or saved.
func (r *Record) Persisted() bool {
	return r.persisted
}

// Set assigns a column value in memory.
func (r *Record) Set(field string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	r.Values[field] = value
}

// Get returns a column value.
func (r *Record) Get(field string) (any, bool) {
	value, ok := r.Values[field]
	return value, ok
}

// Clone returns an independent copy, including the loaded state.
func (r *Record) Clone() *Record {
	return &Record{
		Type:      r.Type,
		ID:        r.ID,
		Tick:      r.Tick,
		Values:    copyValues(r.Values),
		loaded:    copyValues(r.loaded),
		persisted: r.persisted,
	}
}

func (r *Record) markSaved(tick int64, values map[string]any) {
	r.Tick = tick
	r.Values = copyValues(values)
	r.loaded = copyValues(values)
	r.persisted = true
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

// sameValue compares column values across the representations drivers and
// callers use for the same data.
func sameValue(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return normalizeUint(v)
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return value
		}
		return normalizeFloat(f.Float64)
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Truncate(time.Microsecond)
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case uuid.UUID:
		return v.String()
	}
	return value
}

func normalizeUint(v uint64) any {
	if v <= math.MaxInt64 {
		return int64(v)
	}
	return v
}

// normalizeFloat maps integral floats inside the int64 range to int64, so a
// REAL column reloaded as 2.0 equals the integer 2 it was saved from.
func normalizeFloat(v float64) any {
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return int64(v)
	}
	return v
}
