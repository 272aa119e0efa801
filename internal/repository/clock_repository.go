package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/tickstore/internal/domain"
)

func activityColumn(tables domain.TableSet) string {
	if tables.HasActivity {
		return "c.activity_id"
	}
	return "NULL::uuid"
}

// TicksFor lists every clock tick of an entity in one query. Extra columns and
// joins from query are appended so related activity data arrives with the ticks.
func (r pgReader) TicksFor(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, query domain.TickQuery) ([]domain.ClockTick, error) {
	var builder strings.Builder
	builder.WriteString("SELECT c.tick, c.timestamp, ")
	builder.WriteString(activityColumn(tables))
	for _, column := range query.Columns {
		builder.WriteString(", ")
		builder.WriteString(column)
	}
	builder.WriteString(" FROM ")
	builder.WriteString(temporalIdent(tables, tables.Clock))
	builder.WriteString(" c ")
	for _, join := range query.Joins {
		builder.WriteString(join)
		builder.WriteString(" ")
	}
	builder.WriteString("WHERE c.entity_id = $1 ORDER BY c.tick ASC")

	rows, err := r.q.Query(ctx, builder.String(), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clock ticks: %w", err)
	}
	defer rows.Close()

	ticks := []domain.ClockTick{}
	for rows.Next() {
		tick := domain.ClockTick{EntityID: entityID}
		extras := make([]any, len(query.Columns))
		dest := make([]any, 0, 3+len(extras))
		dest = append(dest, &tick.Tick, &tick.Timestamp, &tick.ActivityID)
		for i := range extras {
			dest = append(dest, &extras[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan clock tick: %w", err)
		}
		if query.Decode != nil {
			activity, err := query.Decode(extras)
			if err != nil {
				return nil, fmt.Errorf("failed to decode activity for tick %d: %w", tick.Tick, err)
			}
			tick.Activity = activity
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clock ticks: %w", err)
	}

	return ticks, nil
}

// TickBound returns the first or the latest tick of an entity.
func (r pgReader) TickBound(ctx context.Context, tables domain.TableSet, entityID uuid.UUID, latest bool) (domain.ClockTick, bool, error) {
	order := "ASC"
	if latest {
		order = "DESC"
	}
	query := fmt.Sprintf(
		"SELECT c.tick, c.timestamp, %s FROM %s c WHERE c.entity_id = $1 ORDER BY c.tick %s LIMIT 1",
		activityColumn(tables), temporalIdent(tables, tables.Clock), order,
	)

	tick := domain.ClockTick{EntityID: entityID}
	if err := r.q.QueryRow(ctx, query, entityID).Scan(&tick.Tick, &tick.Timestamp, &tick.ActivityID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ClockTick{}, false, nil
		}
		return domain.ClockTick{}, false, fmt.Errorf("failed to read clock tick: %w", err)
	}
	return tick, true, nil
}

// CountTicks returns the number of persisted ticks of an entity.
func (r pgReader) CountTicks(ctx context.Context, tables domain.TableSet, entityID uuid.UUID) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE entity_id = $1", temporalIdent(tables, tables.Clock))
	var count int64
	if err := r.q.QueryRow(ctx, query, entityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clock ticks: %w", err)
	}
	return count, nil
}

// RecordTick inserts one clock row. The (entity, tick) and (entity, activity)
// unique constraints reject duplicates.
func (t *pgTx) RecordTick(ctx context.Context, tables domain.TableSet, tick domain.ClockTick) error {
	var (
		query string
		args  []any
	)
	if tables.HasActivity {
		query = fmt.Sprintf(
			"INSERT INTO %s (entity_id, tick, timestamp, activity_id) VALUES ($1, $2, $3, $4)",
			temporalIdent(tables, tables.Clock),
		)
		args = []any{tick.EntityID, tick.Tick, tick.Timestamp, tick.ActivityID}
	} else {
		query = fmt.Sprintf(
			"INSERT INTO %s (entity_id, tick, timestamp) VALUES ($1, $2, $3)",
			temporalIdent(tables, tables.Clock),
		)
		args = []any{tick.EntityID, tick.Tick, tick.Timestamp}
	}

	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record tick %d: %w", tick.Tick, classifyPgError(err, tables))
	}
	return nil
}
