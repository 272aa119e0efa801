package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/tickstore/internal/domain"
)

// AsOf selects a point in an entity's history, by tick or by time.
type AsOf struct {
	tick   int64
	at     time.Time
	byTime bool
}

// AtTick selects the state as of tick.
func AtTick(tick int64) AsOf {
	return AsOf{tick: tick}
}

// AtTime selects the state effective at ts.
func AtTime(ts time.Time) AsOf {
	return AsOf{at: ts, byTime: true}
}

func (a AsOf) String() string {
	if a.byTime {
		return "at " + a.at.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("tick %d", a.tick)
}

func (e *Engine) tracked(entityType, field string) (Registered, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return Registered{}, err
	}
	if !registered.IsTracked(field) {
		return Registered{}, fmt.Errorf("%s is not a tracked field on %s: %w", field, entityType, domain.ErrNotFound)
	}
	return registered, nil
}

// ValueAsOf returns the value a tracked field held at the selected point. A
// point before creation, or with no recorded value, yields ok == false and a
// nil error.
func (e *Engine) ValueAsOf(ctx context.Context, entityType string, id uuid.UUID, field string, asOf AsOf) (value any, ok bool, err error) {
	registered, err := e.tracked(entityType, field)
	if err != nil {
		return nil, false, err
	}
	if asOf.byTime {
		return e.store.ValueAtTime(ctx, registered.Tables, field, id, asOf.at)
	}
	if asOf.tick < 1 {
		return nil, false, nil
	}
	return e.store.ValueAt(ctx, registered.Tables, field, id, asOf.tick)
}

// Timeline reconstructs every tick of an entity with the tracked fields that
// took a new value at it. It costs one clock query plus one history query per
// tracked field, however many ticks the entity has.
func (e *Engine) Timeline(ctx context.Context, entityType string, id uuid.UUID) ([]domain.TimelineEntry, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	tables := registered.Tables
	start := time.Now()
	defer func() {
		timelineDuration.WithLabelValues(entityType).Observe(time.Since(start).Seconds())
	}()

	query := domain.TickQuery{}
	if registered.Type.Activity != nil && registered.Type.Activity.Refine != nil {
		query = query.Refined(registered.Type.Activity.Refine)
	}

	var ticks []domain.ClockTick
	histories := make([][]domain.Interval, len(tables.Tracked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.timelineConcurrency)
	g.Go(func() error {
		var err error
		ticks, err = e.store.TicksFor(gctx, tables, id, query)
		return err
	})
	for i, field := range tables.Tracked {
		g.Go(func() error {
			intervals, err := e.store.Intervals(gctx, tables, field, id)
			if err != nil {
				return err
			}
			histories[i] = intervals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("timeline of %s %s: %w", entityType, id, err)
	}

	entries := make([]domain.TimelineEntry, len(ticks))
	byTick := make(map[int64]int, len(ticks))
	for i, tick := range ticks {
		entries[i] = domain.TimelineEntry{Clock: tick, Changed: map[string]any{}}
		byTick[tick.Tick] = i
	}
	for i, field := range tables.Tracked {
		for _, interval := range histories[i] {
			if idx, ok := byTick[interval.StartTick]; ok {
				entries[idx].Changed[field] = interval.Value
			}
		}
	}

	timelineTicks.Observe(float64(len(entries)))
	return entries, nil
}

// FirstTick returns the creation tick of an entity.
func (e *Engine) FirstTick(ctx context.Context, entityType string, id uuid.UUID) (domain.ClockTick, bool, error) {
	return e.tickBound(ctx, entityType, id, false)
}

// LatestTick returns the most recent tick of an entity.
func (e *Engine) LatestTick(ctx context.Context, entityType string, id uuid.UUID) (domain.ClockTick, bool, error) {
	return e.tickBound(ctx, entityType, id, true)
}

// CreatedAt returns the timestamp of the first tick.
func (e *Engine) CreatedAt(ctx context.Context, entityType string, id uuid.UUID) (time.Time, bool, error) {
	tick, ok, err := e.FirstTick(ctx, entityType, id)
	return tick.Timestamp, ok, err
}

// ModifiedAt returns the timestamp of the latest tick.
func (e *Engine) ModifiedAt(ctx context.Context, entityType string, id uuid.UUID) (time.Time, bool, error) {
	tick, ok, err := e.LatestTick(ctx, entityType, id)
	return tick.Timestamp, ok, err
}

func (e *Engine) tickBound(ctx context.Context, entityType string, id uuid.UUID, latest bool) (domain.ClockTick, bool, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return domain.ClockTick{}, false, err
	}
	return e.store.TickBound(ctx, registered.Tables, id, latest)
}

// SnapshotAt collects the value of every tracked field as of tick. Fields
// with no value at tick are left out.
func (e *Engine) SnapshotAt(ctx context.Context, entityType string, id uuid.UUID, tick int64) (domain.Snapshot, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return domain.Snapshot{}, err
	}

	fields := make(map[string]any, len(registered.Tables.Tracked))
	if tick >= 1 {
		for _, field := range registered.Tables.Tracked {
			value, ok, err := e.store.ValueAt(ctx, registered.Tables, field, id, tick)
			if err != nil {
				return domain.Snapshot{}, err
			}
			if ok {
				fields[field] = value
			}
		}
	}
	return domain.NewSnapshot(entityType, id, tick, fields), nil
}

// Diff renders a unified diff of the tracked fields between two ticks.
func (e *Engine) Diff(ctx context.Context, entityType string, id uuid.UUID, fromTick, toTick int64) (string, error) {
	base, err := e.SnapshotAt(ctx, entityType, id, fromTick)
	if err != nil {
		return "", err
	}
	target, err := e.SnapshotAt(ctx, entityType, id, toTick)
	if err != nil {
		return "", err
	}
	return domain.DiffSnapshots(
		fmt.Sprintf("tick %d", fromTick), &base,
		fmt.Sprintf("tick %d", toTick), &target,
	)
}
