package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
)

func TestSave_TurtleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	if rec.Tick != 1 {
		t.Fatalf("expected tick 1 after create, got %d", rec.Tick)
	}
	for _, field := range []string{"name", "color"} {
		intervals := env.intervals(t, "animal", field, rec.ID)
		if len(intervals) != 1 || !intervals[0].Open() {
			t.Fatalf("expected one open %s interval, got %+v", field, intervals)
		}
	}

	rec.Set("color", "gold")
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("update color: %v", err)
	}
	if rec.Tick != 2 {
		t.Fatalf("expected tick 2 after update, got %d", rec.Tick)
	}

	colors := env.intervals(t, "animal", "color", rec.ID)
	if len(colors) != 2 {
		t.Fatalf("expected two color intervals, got %d", len(colors))
	}
	if colors[0].Value != "green" || colors[0].StartTick != 1 || colors[0].EndTick == nil || *colors[0].EndTick != 2 {
		t.Fatalf("unexpected first color interval: %+v", colors[0])
	}
	if colors[1].Value != "gold" || colors[1].StartTick != 2 || !colors[1].Open() {
		t.Fatalf("unexpected second color interval: %+v", colors[1])
	}

	names := env.intervals(t, "animal", "name", rec.ID)
	if len(names) != 1 || names[0].Value != "Turtle" || names[0].StartTick != 1 || !names[0].Open() {
		t.Fatalf("expected a single open name interval, got %+v", names)
	}
}

func TestSave_TickMonotonicity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	const saves = 12
	for i := 2; i <= saves; i++ {
		rec.Set("color", fmt.Sprintf("shade-%d", i))
		if _, err := env.engine.Save(ctx, rec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	if rec.Tick != saves {
		t.Fatalf("expected tick %d, got %d", saves, rec.Tick)
	}
	ticks, err := env.store.TicksFor(ctx, env.tables(t, "animal"), rec.ID, domain.TickQuery{})
	if err != nil {
		t.Fatalf("list ticks: %v", err)
	}
	if len(ticks) != saves {
		t.Fatalf("expected %d ticks, got %d", saves, len(ticks))
	}
	for i, tick := range ticks {
		if tick.Tick != int64(i+1) {
			t.Fatalf("expected tick %d at position %d, got %d", i+1, i, tick.Tick)
		}
		if i > 0 && !tick.Timestamp.After(ticks[i-1].Timestamp) {
			t.Fatalf("timestamps not increasing at tick %d", tick.Tick)
		}
	}
}

func TestSave_IntervalCoverage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	updates := []map[string]any{
		{"color": "gold"},
		{"name": "Tortoise"},
		{"color": "brown", "name": "Shelly"},
		{"color": "green"},
	}
	for i, update := range updates {
		for field, value := range update {
			rec.Set(field, value)
		}
		if _, err := env.engine.Save(ctx, rec); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	for _, field := range []string{"name", "color"} {
		intervals := env.intervals(t, "animal", field, rec.ID)
		if intervals[0].StartTick != 1 {
			t.Fatalf("%s history does not start at tick 1: %+v", field, intervals[0])
		}
		for i := 0; i < len(intervals)-1; i++ {
			current, next := intervals[i], intervals[i+1]
			if current.Open() {
				t.Fatalf("%s interval %d is open but not last", field, i)
			}
			if *current.EndTick != next.StartTick {
				t.Fatalf("%s tick gap or overlap between %d and %d", field, *current.EndTick, next.StartTick)
			}
			if !current.EndTime.Equal(next.StartTime) {
				t.Fatalf("%s time gap or overlap between %v and %v", field, *current.EndTime, next.StartTime)
			}
		}
		if !intervals[len(intervals)-1].Open() {
			t.Fatalf("%s history has no open interval", field)
		}
	}
}

func TestSave_SparseWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	ticksBefore := env.tickCount(t, "animal", rec.ID)
	namesBefore := len(env.intervals(t, "animal", "name", rec.ID))
	colorsBefore := len(env.intervals(t, "animal", "color", rec.ID))

	rec.Set("color", "gold")
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("update color: %v", err)
	}

	if got := env.tickCount(t, "animal", rec.ID); got != ticksBefore+1 {
		t.Fatalf("expected one new tick, got %d -> %d", ticksBefore, got)
	}
	if got := len(env.intervals(t, "animal", "color", rec.ID)); got != colorsBefore+1 {
		t.Fatalf("expected one new color interval, got %d -> %d", colorsBefore, got)
	}
	if got := len(env.intervals(t, "animal", "name", rec.ID)); got != namesBefore {
		t.Fatalf("expected no new name interval, got %d -> %d", namesBefore, got)
	}
}

func TestSave_NoChangeCreatesNoTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("save unchanged: %v", err)
	}
	if rec.Tick != 1 {
		t.Fatalf("expected tick to stay at 1, got %d", rec.Tick)
	}
	if got := env.tickCount(t, "animal", rec.ID); got != 1 {
		t.Fatalf("expected a single tick, got %d", got)
	}
}

func TestSave_UntrackedChangeUpdatesRowWithoutTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	rec.Set("nickname", "Shelly")
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("save nickname: %v", err)
	}
	if rec.Tick != 1 {
		t.Fatalf("expected tick to stay at 1, got %d", rec.Tick)
	}

	loaded, err := env.engine.Load(ctx, "animal", rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if nickname, _ := loaded.Get("nickname"); nickname != "Shelly" {
		t.Fatalf("expected nickname to be persisted, got %#v", nickname)
	}
	if got := env.tickCount(t, "animal", rec.ID); got != 1 {
		t.Fatalf("expected a single tick, got %d", got)
	}
}

func TestSave_UndeclaredFieldRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Save(context.Background(), NewRecord("animal", map[string]any{
		"name":  "Turtle",
		"wings": 2,
	}))
	if err == nil {
		t.Fatalf("expected error for undeclared field")
	}
}

func TestSave_AtomicCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	faulty := env.withStore(&faultStore{Store: env.store, failOpenInterval: true})

	rec := NewRecord("animal", map[string]any{"name": "Turtle", "color": "green"})
	if _, err := faulty.Save(ctx, rec); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if rec.Persisted() || rec.Tick != 0 {
		t.Fatalf("record advanced after failed save: %+v", rec)
	}
	if _, err := env.engine.Load(ctx, "animal", rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected entity row to be rolled back, got %v", err)
	}
	if got := env.tickCount(t, "animal", rec.ID); got != 0 {
		t.Fatalf("expected no ticks, got %d", got)
	}

	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("retry create: %v", err)
	}
	if rec.Tick != 1 {
		t.Fatalf("expected tick 1 after retry, got %d", rec.Tick)
	}
}

func TestSave_AtomicUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := saveTurtle(t, env.engine)

	for name, store := range map[string]*faultStore{
		"open interval": {Store: env.store, failOpenInterval: true},
		"record tick":   {Store: env.store, failRecordTick: true},
	} {
		attempt := rec.Clone()
		attempt.Set("color", "gold")
		if _, err := env.withStore(store).Save(ctx, attempt); !errors.Is(err, errInjected) {
			t.Fatalf("%s: expected injected failure, got %v", name, err)
		}
		if attempt.Tick != 1 {
			t.Fatalf("%s: record advanced after failed save", name)
		}

		loaded, err := env.engine.Load(ctx, "animal", rec.ID)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if loaded.Tick != 1 {
			t.Fatalf("%s: expected persisted tick 1, got %d", name, loaded.Tick)
		}
		if color, _ := loaded.Get("color"); color != "green" {
			t.Fatalf("%s: expected persisted color green, got %#v", name, color)
		}
		colors := env.intervals(t, "animal", "color", rec.ID)
		if len(colors) != 1 || !colors[0].Open() {
			t.Fatalf("%s: expected the original open color interval, got %+v", name, colors)
		}
		if got := env.tickCount(t, "animal", rec.ID); got != 1 {
			t.Fatalf("%s: expected a single tick, got %d", name, got)
		}
	}

	rec.Set("color", "gold")
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("retry update: %v", err)
	}
	if rec.Tick != 2 {
		t.Fatalf("expected tick 2 after retry, got %d", rec.Tick)
	}
}

func TestSave_StaleRecordIsConcurrentModification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	first := rec.Clone()
	second := rec.Clone()

	first.Set("color", "gold")
	if _, err := env.engine.Save(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second.Set("color", "blue")
	_, err := env.engine.Save(ctx, second)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("expected conflict to be retryable")
	}

	reloaded, err := env.engine.Load(ctx, "animal", rec.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	reloaded.Set("color", "blue")
	if _, err := env.engine.Save(ctx, reloaded); err != nil {
		t.Fatalf("retry after reload: %v", err)
	}
	if reloaded.Tick != 3 {
		t.Fatalf("expected tick 3, got %d", reloaded.Tick)
	}
}

func TestSave_ConcurrentWritersNeverShareATick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := saveTurtle(t, env.engine)

	const (
		writers = 4
		saves   = 5
	)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < saves; i++ {
				for attempt := 0; ; attempt++ {
					if attempt == 100 {
						errs <- fmt.Errorf("writer %d gave up", w)
						return
					}
					current, err := env.engine.Load(ctx, "animal", rec.ID)
					if err != nil {
						errs <- err
						return
					}
					current.Set("color", fmt.Sprintf("writer-%d-%d", w, i))
					if _, err := env.engine.Save(ctx, current); err != nil {
						if domain.IsRetryable(err) {
							continue
						}
						errs <- err
						return
					}
					break
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer failed: %v", err)
	}

	want := int64(1 + writers*saves)
	latest, ok, err := env.engine.LatestTick(ctx, "animal", rec.ID)
	if err != nil || !ok {
		t.Fatalf("latest tick: ok=%v err=%v", ok, err)
	}
	if latest.Tick != want {
		t.Fatalf("expected latest tick %d, got %d", want, latest.Tick)
	}
	if got := env.tickCount(t, "animal", rec.ID); got != want {
		t.Fatalf("expected %d ticks, got %d", want, got)
	}
	if got := len(env.intervals(t, "animal", "color", rec.ID)); int64(got) != want {
		t.Fatalf("expected %d color intervals, got %d", want, got)
	}
}

func TestSave_CreateOverExistingIDIsConcurrentModification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	duplicate := NewRecordWithID("animal", rec.ID, map[string]any{"name": "Impostor"})
	if _, err := env.engine.Save(ctx, duplicate); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestSave_MissingActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := NewRecord("audited_animal", map[string]any{"name": "Turtle", "color": "green"})
	if _, err := env.engine.Save(ctx, rec); !errors.Is(err, domain.ErrMissingActivity) {
		t.Fatalf("expected missing activity, got %v", err)
	}
	if _, err := env.engine.Load(ctx, "audited_animal", rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected nothing written, got %v", err)
	}
}

func TestSave_UnexpectedActivity(t *testing.T) {
	env := newTestEnv(t)

	rec := NewRecord("animal", map[string]any{"name": "Turtle"})
	_, err := env.engine.Save(context.Background(), rec, WithActivity(uuid.New()))
	if !errors.Is(err, domain.ErrUnexpectedActivity) {
		t.Fatalf("expected unexpected activity, got %v", err)
	}
}

func TestSave_DuplicateActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	activity := env.insertActivity(t, "hatched")

	rec := NewRecord("audited_animal", map[string]any{"name": "Turtle", "color": "green"})
	if _, err := env.engine.Save(ctx, rec, WithActivity(activity)); err != nil {
		t.Fatalf("create with activity: %v", err)
	}

	rec.Set("color", "gold")
	_, err := env.engine.Save(ctx, rec, WithActivity(activity))
	if !errors.Is(err, domain.ErrDuplicateActivity) {
		t.Fatalf("expected duplicate activity, got %v", err)
	}
	if rec.Tick != 1 {
		t.Fatalf("expected tick to stay at 1, got %d", rec.Tick)
	}
	if got := env.tickCount(t, "audited_animal", rec.ID); got != 1 {
		t.Fatalf("expected a single tick, got %d", got)
	}

	if _, err := env.engine.Save(ctx, rec, WithActivity(env.insertActivity(t, "moulted"))); err != nil {
		t.Fatalf("save with fresh activity: %v", err)
	}
	if rec.Tick != 2 {
		t.Fatalf("expected tick 2, got %d", rec.Tick)
	}
}

func TestBulkCreateAndDeleteUnsupported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := saveTurtle(t, env.engine)
	if err := env.engine.BulkCreate(ctx, []*Record{NewRecord("animal", nil)}); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected bulk create to be unsupported, got %v", err)
	}
	if err := env.engine.Delete(ctx, rec); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected delete to be unsupported, got %v", err)
	}
}

func TestBulkUpdate_Policies(t *testing.T) {
	forbidden := animalType()
	forbidden.Name, forbidden.Table = "plant", "plants"
	forbidden.BulkUpdates = BulkUpdateForbidden

	blind := animalType()
	blind.Name, blind.Table = "rock", "rocks"
	blind.BulkUpdates = BulkUpdateHistoryBlind

	env := newTestEnv(t, animalType(), forbidden, blind)
	ctx := context.Background()

	create := func(entityType string) *Record {
		rec, err := env.engine.Save(ctx, NewRecord(entityType, map[string]any{"name": "A", "color": "green"}))
		if err != nil {
			t.Fatalf("create %s: %v", entityType, err)
		}
		return rec
	}

	animal := create("animal")
	if _, err := env.engine.BulkUpdate(ctx, "animal", map[string]any{"color": "red"}, []uuid.UUID{animal.ID}); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected tracked bulk update to be rejected, got %v", err)
	}
	updated, err := env.engine.BulkUpdate(ctx, "animal", map[string]any{"nickname": "Al"}, []uuid.UUID{animal.ID})
	if err != nil || updated != 1 {
		t.Fatalf("untracked bulk update: updated=%d err=%v", updated, err)
	}

	plant := create("plant")
	if _, err := env.engine.BulkUpdate(ctx, "plant", map[string]any{"nickname": "Fern"}, []uuid.UUID{plant.ID}); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected forbidden bulk update, got %v", err)
	}

	rock := create("rock")
	if _, err := env.engine.BulkUpdate(ctx, "rock", map[string]any{"color": "grey"}, []uuid.UUID{rock.ID}); err != nil {
		t.Fatalf("history-blind bulk update: %v", err)
	}
	loaded, err := env.engine.Load(ctx, "rock", rock.ID)
	if err != nil {
		t.Fatalf("load rock: %v", err)
	}
	if color, _ := loaded.Get("color"); color != "grey" || loaded.Tick != 1 {
		t.Fatalf("expected grey rock still at tick 1, got %#v at %d", color, loaded.Tick)
	}
	if got := len(env.intervals(t, "rock", "color", rock.ID)); got != 1 {
		t.Fatalf("expected history to be untouched, got %d intervals", got)
	}
}

func TestSave_NumericReloadIsNotAChange(t *testing.T) {
	tortoise := EntityType{
		Name:  "tortoise",
		Table: "tortoises",
		Columns: []domain.Column{
			{Name: "weight", Type: "REAL"},
			{Name: "age", Type: "INTEGER"},
		},
		Tracked: []string{"weight", "age"},
	}
	env := newTestEnv(t, tortoise)
	ctx := context.Background()

	created, err := env.engine.Save(ctx, NewRecord("tortoise", map[string]any{"weight": 2, "age": 90}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, weight := range []any{2, int64(2), uint(2), float32(2), 2.0} {
		rec, err := env.engine.Load(ctx, "tortoise", created.ID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		rec.Set("weight", weight)
		rec.Set("age", uint64(90))
		if _, err := env.engine.Save(ctx, rec); err != nil {
			t.Fatalf("re-save weight %#v: %v", weight, err)
		}
		if rec.Tick != 1 {
			t.Fatalf("re-saving weight %#v moved the tick to %d", weight, rec.Tick)
		}
	}
	if got := env.tickCount(t, "tortoise", created.ID); got != 1 {
		t.Fatalf("expected a single tick, got %d", got)
	}
	if got := len(env.intervals(t, "tortoise", "weight", created.ID)); got != 1 {
		t.Fatalf("expected a single weight interval, got %d", got)
	}

	rec, err := env.engine.Load(ctx, "tortoise", created.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec.Set("weight", 2.5)
	if _, err := env.engine.Save(ctx, rec); err != nil {
		t.Fatalf("save new weight: %v", err)
	}
	if rec.Tick != 2 {
		t.Fatalf("expected a real change to tick, got %d", rec.Tick)
	}
}

