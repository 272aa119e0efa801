// Package temporal coordinates clocked entity saves and reconstructs their
// history. Each save allocates the next per-entity tick, closes the open
// interval of every changed tracked field and opens its successor, all inside
// one transaction holding the entity lock.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
)

const defaultTimelineConcurrency = 4

// Engine is the temporal write coordinator and timeline reader.
type Engine struct {
	store    repository.Store
	registry *Registry
	clock    Allocator
	logger   *slog.Logger

	timelineConcurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for tick timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = NewAllocator(now)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimelineConcurrency bounds the number of per-field history fetches a
// timeline runs at once.
func WithTimelineConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.timelineConcurrency = n
		}
	}
}

// NewEngine creates an engine over store for the types in registry.
func NewEngine(store repository.Store, registry *Registry, opts ...Option) *Engine {
	engine := &Engine{
		store:               store,
		registry:            registry,
		clock:               NewAllocator(time.Now),
		logger:              slog.Default(),
		timelineConcurrency: defaultTimelineConcurrency,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Registry returns the registry the engine serves.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// EnsureSchema creates the tables of every registered type.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	types := e.registry.Types()
	sets := make([]domain.TableSet, len(types))
	for i, registered := range types {
		sets[i] = registered.Tables
	}
	return e.store.EnsureSchema(ctx, sets...)
}

type saveOptions struct {
	activity uuid.NullUUID
}

// SaveOption configures a single save.
type SaveOption func(*saveOptions)

// WithActivity links the tick produced by the save to an activity.
func WithActivity(id uuid.UUID) SaveOption {
	return func(o *saveOptions) {
		o.activity = uuid.NullUUID{UUID: id, Valid: true}
	}
}

// saveOutcome is what a committed transaction did.
type saveOutcome struct {
	tick    int64
	ticked  bool
	changed []string
}

// Save persists rec. A new record is created at tick 1 with an open interval
// for every tracked field. A loaded record is diffed against its loaded state:
// changed tracked fields advance the tick, untracked-only changes update the
// row in place and an unchanged record writes nothing. rec is only advanced
// after commit.
func (e *Engine) Save(ctx context.Context, rec *Record, opts ...SaveOption) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is required")
	}
	registered, err := e.registry.Lookup(rec.Type)
	if err != nil {
		return nil, err
	}

	var options saveOptions
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	outcome, err := e.save(ctx, registered, rec, options)
	saveDuration.WithLabelValues(rec.Type).Observe(time.Since(start).Seconds())
	saveTotal.WithLabelValues(rec.Type, saveResult(err)).Inc()
	if err != nil {
		e.logger.Warn("temporal save failed",
			"entity_type", rec.Type,
			"entity_id", rec.ID,
			"tick", rec.Tick,
			"retryable", domain.IsRetryable(err),
			"err", err,
		)
		return nil, err
	}

	if outcome.ticked {
		ticksRecorded.WithLabelValues(rec.Type).Inc()
		for _, field := range outcome.changed {
			intervalsOpened.WithLabelValues(rec.Type, field).Inc()
		}
		e.logger.Debug("temporal save committed",
			"entity_type", rec.Type,
			"entity_id", rec.ID,
			"tick", outcome.tick,
			"changed", outcome.changed,
		)
	}
	return rec, nil
}

func (e *Engine) save(ctx context.Context, registered Registered, rec *Record, options saveOptions) (saveOutcome, error) {
	if registered.Type.Activity != nil && !options.activity.Valid {
		return saveOutcome{}, fmt.Errorf("save %s %s: %w", rec.Type, rec.ID, domain.ErrMissingActivity)
	}
	if registered.Type.Activity == nil && options.activity.Valid {
		return saveOutcome{}, fmt.Errorf("save %s %s: %w", rec.Type, rec.ID, domain.ErrUnexpectedActivity)
	}
	if rec.ID == uuid.Nil {
		return saveOutcome{}, fmt.Errorf("save %s: entity id is required", rec.Type)
	}

	tables := registered.Tables
	values := make(map[string]any, len(tables.Columns))
	for _, column := range tables.ColumnNames() {
		values[column] = rec.Values[column]
	}
	for field := range rec.Values {
		if _, ok := values[field]; !ok {
			return saveOutcome{}, fmt.Errorf("save %s: %s is not a field on %s", rec.Type, field, tables.Entity)
		}
	}

	var outcome saveOutcome
	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		state, exists, err := tx.LockEntity(ctx, tables, rec.ID)
		if err != nil {
			return err
		}

		switch {
		case !exists && rec.persisted:
			return fmt.Errorf("entity %s: %w", rec.ID, domain.ErrNotFound)
		case !exists:
			outcome, err = e.create(ctx, tx, registered, rec.ID, values, options)
			return err
		case !rec.persisted:
			return fmt.Errorf("entity %s was created concurrently: %w", rec.ID, domain.ErrConcurrentModification)
		case state.Tick != rec.Tick:
			return fmt.Errorf("entity %s loaded at tick %d is now at tick %d: %w",
				rec.ID, rec.Tick, state.Tick, domain.ErrConcurrentModification)
		}

		outcome, err = e.update(ctx, tx, registered, rec, state, values, options)
		return err
	})
	if err != nil {
		return saveOutcome{}, err
	}

	rec.markSaved(outcome.tick, values)
	return outcome, nil
}

func (e *Engine) create(ctx context.Context, tx repository.Tx, registered Registered, id uuid.UUID, values map[string]any, options saveOptions) (saveOutcome, error) {
	tables := registered.Tables
	state := domain.EntityState{}
	tick := e.clock.NextTick(state)
	now := e.clock.Timestamp(state)

	if err := tx.InsertEntity(ctx, tables, id, tick, values); err != nil {
		return saveOutcome{}, err
	}
	for _, field := range tables.Tracked {
		if _, err := tx.OpenInterval(ctx, tables, field, domain.Interval{
			EntityID:  id,
			Value:     values[field],
			StartTick: tick,
			StartTime: now,
		}); err != nil {
			return saveOutcome{}, err
		}
	}
	if _, err := e.clock.RecordTick(ctx, tx, tables, id, tick, now, options.activity); err != nil {
		return saveOutcome{}, err
	}

	return saveOutcome{tick: tick, ticked: true, changed: append([]string(nil), tables.Tracked...)}, nil
}

func (e *Engine) update(ctx context.Context, tx repository.Tx, registered Registered, rec *Record, state domain.EntityState, values map[string]any, options saveOptions) (saveOutcome, error) {
	tables := registered.Tables

	var changedTracked []string
	untrackedChanged := false
	for _, column := range tables.ColumnNames() {
		if sameValue(values[column], rec.loaded[column]) {
			continue
		}
		if registered.IsTracked(column) {
			changedTracked = append(changedTracked, column)
		} else {
			untrackedChanged = true
		}
	}

	if len(changedTracked) == 0 {
		if untrackedChanged {
			if err := tx.UpdateEntity(ctx, tables, rec.ID, state.Tick, state.Tick, values); err != nil {
				return saveOutcome{}, err
			}
		}
		return saveOutcome{tick: state.Tick}, nil
	}

	tick := e.clock.NextTick(state)
	now := e.clock.Timestamp(state)

	if err := tx.UpdateEntity(ctx, tables, rec.ID, state.Tick, tick, values); err != nil {
		return saveOutcome{}, err
	}
	for _, field := range changedTracked {
		if err := tx.CloseOpenInterval(ctx, tables, field, rec.ID, tick, now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return saveOutcome{}, fmt.Errorf("field %s of entity %s has no open interval: %w", field, rec.ID, domain.ErrConstraintViolation)
			}
			return saveOutcome{}, err
		}
		if _, err := tx.OpenInterval(ctx, tables, field, domain.Interval{
			EntityID:  rec.ID,
			Value:     values[field],
			StartTick: tick,
			StartTime: now,
		}); err != nil {
			return saveOutcome{}, err
		}
	}
	if _, err := e.clock.RecordTick(ctx, tx, tables, rec.ID, tick, now, options.activity); err != nil {
		return saveOutcome{}, err
	}

	return saveOutcome{tick: tick, ticked: true, changed: changedTracked}, nil
}

// Load reads an entity and captures its state for the next save.
func (e *Engine) Load(ctx context.Context, entityType string, id uuid.UUID) (*Record, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	row, err := e.store.LoadEntity(ctx, registered.Tables, id)
	if err != nil {
		return nil, err
	}
	rec := &Record{Type: entityType, ID: id}
	rec.markSaved(row.Tick, row.Values)
	return rec, nil
}

// BulkCreate is rejected: every entity needs its own tick allocation.
func (e *Engine) BulkCreate(ctx context.Context, records []*Record) error {
	return fmt.Errorf("bulk create of %d records: %w", len(records), domain.ErrUnsupportedOperation)
}

// BulkUpdate sets columns on many entities at once without diffing, subject
// to the type's BulkUpdatePolicy. It never creates ticks or intervals.
func (e *Engine) BulkUpdate(ctx context.Context, entityType string, set map[string]any, ids []uuid.UUID) (int64, error) {
	registered, err := e.registry.Lookup(entityType)
	if err != nil {
		return 0, err
	}

	policy := registered.Type.BulkUpdates
	if policy == BulkUpdateForbidden {
		return 0, fmt.Errorf("bulk update of %s: %w", entityType, domain.ErrUnsupportedOperation)
	}

	columns := make(map[string]struct{}, len(registered.Tables.Columns))
	for _, column := range registered.Tables.ColumnNames() {
		columns[column] = struct{}{}
	}
	var tracked []string
	for column := range set {
		if _, ok := columns[column]; !ok {
			return 0, fmt.Errorf("bulk update of %s: %s is not a field on %s", entityType, column, registered.Tables.Entity)
		}
		if registered.IsTracked(column) {
			tracked = append(tracked, column)
		}
	}

	if len(tracked) > 0 {
		if policy == BulkUpdateUntrackedOnly {
			return 0, fmt.Errorf("bulk update of %s touches tracked fields %v: %w", entityType, tracked, domain.ErrUnsupportedOperation)
		}
		e.logger.Warn("history-blind bulk update of tracked fields",
			"entity_type", entityType,
			"fields", tracked,
			"entities", len(ids),
		)
	}

	return e.store.BulkUpdate(ctx, registered.Tables, set, ids)
}

// Delete is rejected: entities are superseded, never removed.
func (e *Engine) Delete(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("delete: %w", domain.ErrUnsupportedOperation)
	}
	return fmt.Errorf("delete %s %s: %w", rec.Type, rec.ID, domain.ErrUnsupportedOperation)
}
