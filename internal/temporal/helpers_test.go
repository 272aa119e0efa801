package temporal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
	"github.com/rpattn/tickstore/internal/repository/sqlite"
)

var errInjected = errors.New("injected failure")

func animalType() EntityType {
	return EntityType{
		Name:  "animal",
		Table: "animals",
		Columns: []domain.Column{
			{Name: "name", Type: "TEXT"},
			{Name: "color", Type: "TEXT"},
			{Name: "nickname", Type: "TEXT"},
		},
		Tracked: []string{"name", "color"},
	}
}

func auditedAnimalType() EntityType {
	typ := animalType()
	typ.Name = "audited_animal"
	typ.Table = "audited_animals"
	typ.Activity = &ActivityType{
		Name:  "activity",
		Table: "activities",
		Refine: func(q domain.TickQuery) domain.TickQuery {
			q.Joins = append(q.Joins, "LEFT JOIN activities a ON a.id = c.activity_id")
			q.Columns = append(q.Columns, "a.description")
			q.Decode = func(values []any) (any, error) {
				switch v := values[0].(type) {
				case string:
					return v, nil
				case []byte:
					return string(v), nil
				case nil:
					return nil, nil
				default:
					return nil, fmt.Errorf("unexpected description %T", v)
				}
			}
			return q
		},
	}
	return typ
}

// stepClock advances one second on every reading.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func newStepClock() *stepClock {
	return &stepClock{next: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Second)
	return now
}

type testEnv struct {
	engine *Engine
	store  *sqlite.Store
	clock  *stepClock
}

func newTestEnv(t *testing.T, types ...EntityType) testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tickstore.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(store.Close)

	if len(types) == 0 {
		types = []EntityType{animalType(), auditedAnimalType()}
	}
	registry := NewRegistry()
	for _, typ := range types {
		if err := registry.Register(typ); err != nil {
			t.Fatalf("register %s: %v", typ.Name, err)
		}
	}

	clock := newStepClock()
	engine := NewEngine(store, registry,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err := engine.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return testEnv{engine: engine, store: store, clock: clock}
}

func (env testEnv) withStore(store repository.Store) *Engine {
	return NewEngine(store, env.engine.registry,
		WithClock(env.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (env testEnv) tables(t *testing.T, entityType string) domain.TableSet {
	t.Helper()
	registered, err := env.engine.registry.Lookup(entityType)
	if err != nil {
		t.Fatalf("lookup %s: %v", entityType, err)
	}
	return registered.Tables
}

func (env testEnv) intervals(t *testing.T, entityType, field string, id uuid.UUID) []domain.Interval {
	t.Helper()
	intervals, err := env.store.Intervals(context.Background(), env.tables(t, entityType), field, id)
	if err != nil {
		t.Fatalf("list %s intervals: %v", field, err)
	}
	return intervals
}

func (env testEnv) tickCount(t *testing.T, entityType string, id uuid.UUID) int64 {
	t.Helper()
	count, err := env.store.CountTicks(context.Background(), env.tables(t, entityType), id)
	if err != nil {
		t.Fatalf("count ticks: %v", err)
	}
	return count
}

func (env testEnv) insertActivity(t *testing.T, description string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := env.store.DB().Exec(
		"INSERT INTO activities (id, description, actor, created_at) VALUES (?, ?, ?, ?)",
		id.String(), description, "tester", time.Now().UnixMicro(),
	); err != nil {
		t.Fatalf("insert activity: %v", err)
	}
	return id
}

// faultStore hands out transactions that fail on the configured step.
type faultStore struct {
	repository.Store
	failOpenInterval bool
	failRecordTick   bool
}

func (s *faultStore) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(&faultTx{Tx: tx, store: s})
	})
}

type faultTx struct {
	repository.Tx
	store *faultStore
}

func (tx *faultTx) OpenInterval(ctx context.Context, tables domain.TableSet, field string, interval domain.Interval) (uuid.UUID, error) {
	if tx.store.failOpenInterval {
		return uuid.Nil, errInjected
	}
	return tx.Tx.OpenInterval(ctx, tables, field, interval)
}

func (tx *faultTx) RecordTick(ctx context.Context, tables domain.TableSet, tick domain.ClockTick) error {
	if tx.store.failRecordTick {
		return errInjected
	}
	return tx.Tx.RecordTick(ctx, tables, tick)
}

func saveTurtle(t *testing.T, engine *Engine) *Record {
	t.Helper()
	rec, err := engine.Save(context.Background(), NewRecord("animal", map[string]any{
		"name":  "Turtle",
		"color": "green",
	}))
	if err != nil {
		t.Fatalf("create turtle: %v", err)
	}
	return rec
}
