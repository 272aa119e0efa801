package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/tickstore/internal/domain"
)

func historyTable(tables domain.TableSet, field string) (domain.HistoryTable, error) {
	history, ok := tables.HistoryFor(field)
	if !ok {
		return domain.HistoryTable{}, fmt.Errorf("field %q of %s has no history: %w", field, tables.Entity, domain.ErrNotFound)
	}
	return history, nil
}

// ValueAt is a single range-containment lookup served by the exclusion
// constraint's GiST index.
func (r pgReader) ValueAt(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, tick int64) (any, bool, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entity_id = $1 AND vclock @> $2::bigint",
		ident(history.Field), temporalIdent(tables, history.Table),
	)
	return r.scanValue(ctx, query, entityID, tick)
}

// ValueAtTime looks up the value effective at ts.
func (r pgReader) ValueAtTime(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, ts time.Time) (any, bool, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entity_id = $1 AND effective @> $2::timestamptz",
		ident(history.Field), temporalIdent(tables, history.Table),
	)
	return r.scanValue(ctx, query, entityID, ts)
}

func (r pgReader) scanValue(ctx context.Context, query string, args ...any) (any, bool, error) {
	var value any
	if err := r.q.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to look up field value: %w", err)
	}
	return value, true, nil
}

// Intervals returns the full history of one field.
func (r pgReader) Intervals(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID) ([]domain.Interval, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, entity_id, %s, vclock, effective
		   FROM %s
		  WHERE entity_id = $1
		  ORDER BY lower(vclock)`,
		ident(history.Field), temporalIdent(tables, history.Table),
	)

	rows, err := r.q.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s history: %w", field, err)
	}
	defer rows.Close()

	intervals := []domain.Interval{}
	for rows.Next() {
		var (
			interval  domain.Interval
			vclock    pgtype.Range[pgtype.Int8]
			effective pgtype.Range[pgtype.Timestamptz]
		)
		if err := rows.Scan(&interval.ID, &interval.EntityID, &interval.Value, &vclock, &effective); err != nil {
			return nil, fmt.Errorf("failed to scan %s history: %w", field, err)
		}
		applyRanges(&interval, vclock, effective)
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s history: %w", field, err)
	}

	return intervals, nil
}

func applyRanges(interval *domain.Interval, vclock pgtype.Range[pgtype.Int8], effective pgtype.Range[pgtype.Timestamptz]) {
	interval.StartTick = vclock.Lower.Int64
	if vclock.UpperType != pgtype.Unbounded && vclock.Upper.Valid {
		end := vclock.Upper.Int64
		interval.EndTick = &end
	}
	interval.StartTime = effective.Lower.Time
	if effective.UpperType != pgtype.Unbounded && effective.Upper.Valid {
		end := effective.Upper.Time
		interval.EndTime = &end
	}
}

// OpenInterval inserts [StartTick, ∞) / [StartTime, ∞) for the field.
func (t *pgTx) OpenInterval(ctx context.Context, tables domain.TableSet, field string, interval domain.Interval) (uuid.UUID, error) {
	history, err := historyTable(tables, field)
	if err != nil {
		return uuid.Nil, err
	}

	id := interval.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	vclock := pgtype.Range[pgtype.Int8]{
		Lower:     pgtype.Int8{Int64: interval.StartTick, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}
	effective := pgtype.Range[pgtype.Timestamptz]{
		Lower:     pgtype.Timestamptz{Time: interval.StartTime, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, entity_id, %s, vclock, effective) VALUES ($1, $2, $3, $4::int8range, $5::tstzrange)",
		temporalIdent(tables, history.Table), ident(history.Field),
	)
	if _, err := t.tx.Exec(ctx, query, id, interval.EntityID, interval.Value, vclock, effective); err != nil {
		return uuid.Nil, fmt.Errorf("failed to open %s interval: %w", field, classifyPgError(err, tables))
	}
	return id, nil
}

// CloseOpenInterval sets the upper bounds of the field's open interval.
func (t *pgTx) CloseOpenInterval(ctx context.Context, tables domain.TableSet, field string, entityID uuid.UUID, endTick int64, endTime time.Time) error {
	history, err := historyTable(tables, field)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE %s
		    SET vclock = int8range(lower(vclock), $2::bigint),
		        effective = tstzrange(lower(effective), $3::timestamptz)
		  WHERE entity_id = $1 AND upper_inf(vclock)`,
		temporalIdent(tables, history.Table),
	)
	tag, err := t.tx.Exec(ctx, query, entityID, endTick, endTime)
	if err != nil {
		return fmt.Errorf("failed to close %s interval: %w", field, classifyPgError(err, tables))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no open %s interval for entity %s: %w", field, entityID, domain.ErrNotFound)
	}
	return nil
}
