package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
)

func historyTable(tables domain.TableSet, field string) (domain.HistoryTable, error) {
	history, ok := tables.HistoryFor(field)
	if !ok {
		return domain.HistoryTable{}, fmt.Errorf("field %q of %s has no history: %w", field, tables.Entity, domain.ErrNotFound)
	}
	return history, nil
}

// ValueAt returns the value whose [start_tick, end_tick) contains tick.
func (r reader) ValueAt(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, tick int64) (any, bool, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s
		  WHERE entity_id = ? AND start_tick <= ? AND (end_tick IS NULL OR end_tick > ?)`,
		ident(history.Field), ident(history.Table),
	)
	return r.scanValue(ctx, query, entityID.String(), tick, tick)
}

// ValueAtTime returns the value whose [start_time, end_time) contains ts.
func (r reader) ValueAtTime(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, ts time.Time) (any, bool, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, false, err
	}
	micros := toMicros(ts)
	query := fmt.Sprintf(
		`SELECT %s FROM %s
		  WHERE entity_id = ? AND start_time <= ? AND (end_time IS NULL OR end_time > ?)`,
		ident(history.Field), ident(history.Table),
	)
	return r.scanValue(ctx, query, entityID.String(), micros, micros)
}

func (r reader) scanValue(ctx context.Context, query string, args ...any) (any, bool, error) {
	var value any
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("look up field value: %w", err)
	}
	return value, true, nil
}

// Intervals returns the full history of one field ordered by start tick.
func (r reader) Intervals(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID) ([]domain.Interval, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, entity_id, %s, start_tick, end_tick, start_time, end_time
		   FROM %s
		  WHERE entity_id = ?
		  ORDER BY start_tick ASC`,
		ident(history.Field), ident(history.Table),
	)

	rows, err := r.q.QueryContext(ctx, query, entityID.String())
	if err != nil {
		return nil, fmt.Errorf("list %s history: %w", field, err)
	}
	defer rows.Close()

	intervals := []domain.Interval{}
	for rows.Next() {
		var (
			interval  domain.Interval
			endTick   sql.NullInt64
			startTime int64
			endTime   sql.NullInt64
		)
		if err := rows.Scan(
			&interval.ID,
			&interval.EntityID,
			&interval.Value,
			&interval.StartTick,
			&endTick,
			&startTime,
			&endTime,
		); err != nil {
			return nil, fmt.Errorf("scan %s history: %w", field, err)
		}
		interval.StartTime = fromMicros(startTime)
		if endTick.Valid {
			end := endTick.Int64
			interval.EndTick = &end
		}
		if endTime.Valid {
			end := fromMicros(endTime.Int64)
			interval.EndTime = &end
		}
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s history: %w", field, err)
	}
	return intervals, nil
}

// OpenInterval inserts an interval with no upper bounds.
func (t *sqliteTx) OpenInterval(ctx context.Context, tables domain.TableSet, field string, interval domain.Interval) (uuid.UUID, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return uuid.Nil, err
	}

	id := interval.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, entity_id, %s, start_tick, start_time) VALUES (?, ?, ?, ?, ?)",
		ident(history.Table), ident(history.Field),
	)
	if _, err := t.tx.ExecContext(ctx, query,
		id.String(),
		interval.EntityID.String(),
		interval.Value,
		interval.StartTick,
		toMicros(interval.StartTime),
	); err != nil {
		return uuid.Nil, fmt.Errorf("open %s interval: %w", field, classify(err, tables))
	}
	return id, nil
}

// CloseOpenInterval sets the upper bounds of the field's open interval.
func (t *sqliteTx) CloseOpenInterval(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, endTick int64, endTime time.Time) error {
	history, err := historyTable(tables, field)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET end_tick = ?, end_time = ? WHERE entity_id = ? AND end_tick IS NULL",
		ident(history.Table),
	)
	result, err := t.tx.ExecContext(ctx, query, endTick, toMicros(endTime), entityID.String())
	if err != nil {
		return fmt.Errorf("close %s interval: %w", field, classify(err, tables))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close %s interval: %w", field, err)
	}
	if affected == 0 {
		return fmt.Errorf("no open %s interval for entity %s: %w", field, entityID, domain.ErrNotFound)
	}
	return nil
}
