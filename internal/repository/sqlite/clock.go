package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
)

func activityColumn(tables domain.TableSet) string {
	if tables.HasActivity {
		return "c.activity_id"
	}
	return "NULL"
}

// TicksFor lists every clock tick of an entity in one query.
func (r reader) TicksFor(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, query domain.TickQuery) ([]domain.ClockTick, error) {
	var builder strings.Builder
	builder.WriteString("SELECT c.tick, c.timestamp, ")
	builder.WriteString(activityColumn(tables))
	for _, column := range query.Columns {
		builder.WriteString(", ")
		builder.WriteString(column)
	}
	builder.WriteString(" FROM ")
	builder.WriteString(ident(tables.Clock))
	builder.WriteString(" c ")
	for _, join := range query.Joins {
		builder.WriteString(join)
		builder.WriteString(" ")
	}
	builder.WriteString("WHERE c.entity_id = ? ORDER BY c.tick ASC")

	rows, err := r.q.QueryContext(ctx, builder.String(), entityID.String())
	if err != nil {
		return nil, fmt.Errorf("list clock ticks: %w", err)
	}
	defer rows.Close()

	ticks := []domain.ClockTick{}
	for rows.Next() {
		var timestamp int64
		tick := domain.ClockTick{EntityID: entityID}
		extras := make([]any, len(query.Columns))
		dest := make([]any, 0, 3+len(extras))
		dest = append(dest, &tick.Tick, &timestamp, &tick.ActivityID)
		for i := range extras {
			dest = append(dest, &extras[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan clock tick: %w", err)
		}
		tick.Timestamp = fromMicros(timestamp)
		if query.Decode != nil {
			activity, err := query.Decode(extras)
			if err != nil {
				return nil, fmt.Errorf("decode activity for tick %d: %w", tick.Tick, err)
			}
			tick.Activity = activity
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clock ticks: %w", err)
	}
	return ticks, nil
}

// TickBound returns the first or the latest tick of an entity.
func (r reader) TickBound(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, latest bool) (domain.ClockTick, bool, error) {
	order := "ASC"
	if latest {
		order = "DESC"
	}
	query := fmt.Sprintf(
		"SELECT c.tick, c.timestamp, %s FROM %s c WHERE c.entity_id = ? ORDER BY c.tick %s LIMIT 1",
		activityColumn(tables), ident(tables.Clock), order,
	)

	var timestamp int64
	tick := domain.ClockTick{EntityID: entityID}
	if err := r.q.QueryRowContext(ctx, query, entityID.String()).Scan(&tick.Tick, &timestamp, &tick.ActivityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ClockTick{}, false, nil
		}
		return domain.ClockTick{}, false, fmt.Errorf("read clock tick: %w", err)
	}
	tick.Timestamp = fromMicros(timestamp)
	return tick, true, nil
}

// CountTicks returns the number of persisted ticks of an entity.
func (r reader) CountTicks(ctx context.Context, tables domain.TableSet, entityID uuid.UUID) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE entity_id = ?", ident(tables.Clock))
	var count int64
	if err := r.q.QueryRowContext(ctx, query, entityID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count clock ticks: %w", err)
	}
	return count, nil
}

// RecordTick inserts one clock row.
func (t *sqliteTx) RecordTick(ctx context.Context, tables domain.TableSet, tick domain.ClockTick) error {
	var (
		query string
		args  []any
	)
	if tables.HasActivity {
		query = fmt.Sprintf("INSERT INTO %s (entity_id, tick, timestamp, activity_id) VALUES (?, ?, ?, ?)", ident(tables.Clock))
		args = []any{tick.EntityID.String(), tick.Tick, toMicros(tick.Timestamp), tick.ActivityID}
	} else {
		query = fmt.Sprintf("INSERT INTO %s (entity_id, tick, timestamp) VALUES (?, ?, ?)", ident(tables.Clock))
		args = []any{tick.EntityID.String(), tick.Tick, toMicros(tick.Timestamp)}
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record tick %d: %w", tick.Tick, classify(err, tables))
	}
	return nil
}
