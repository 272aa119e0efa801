package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/tickstore/internal/domain"
)

// LoadEntity reads the current row of an entity.
func (r pgReader) LoadEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityRow, error) {
	columns := tables.ColumnNames()
	query := fmt.Sprintf("SELECT tick, %s FROM %s WHERE id = $1", joinIdents(columns), ident(tables.Entity))

	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return domain.EntityRow{}, fmt.Errorf("failed to load entity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.EntityRow{}, fmt.Errorf("failed to load entity: %w", err)
		}
		return domain.EntityRow{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}

	values, err := rows.Values()
	if err != nil {
		return domain.EntityRow{}, fmt.Errorf("failed to decode entity %s: %w", id, err)
	}

	tick, ok := values[0].(int64)
	if !ok {
		return domain.EntityRow{}, fmt.Errorf("entity %s has non-integer tick %T", id, values[0])
	}

	row := domain.EntityRow{Tick: tick, Values: make(map[string]any, len(columns))}
	for i, column := range columns {
		row.Values[column] = values[i+1]
	}

	return row, rows.Err()
}

// LockEntity takes FOR UPDATE on the entity row and reads the timestamp of its
// latest tick in the same statement.
func (t *pgTx) LockEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityState, bool, error) {
	query := fmt.Sprintf(
		`SELECT e.tick, c.timestamp
		   FROM %s e
		   LEFT JOIN %s c ON c.entity_id = e.id AND c.tick = e.tick
		  WHERE e.id = $1
		    FOR UPDATE OF e`,
		ident(tables.Entity), temporalIdent(tables, tables.Clock),
	)

	var (
		tick      int64
		timestamp pgtype.Timestamptz
	)
	if err := t.tx.QueryRow(ctx, query, id).Scan(&tick, &timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityState{}, false, nil
		}
		return domain.EntityState{}, false, fmt.Errorf("failed to lock entity: %w", classifyPgError(err, tables))
	}

	state := domain.EntityState{Tick: tick}
	if timestamp.Valid {
		state.LastTimestamp = timestamp.Time
	}
	return state, true, nil
}

// InsertEntity writes a new entity row at tick.
func (t *pgTx) InsertEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, tick int64, values map[string]any) error {
	columns := tables.ColumnNames()
	placeholders := make([]string, 0, len(columns)+2)
	args := make([]any, 0, len(columns)+2)

	placeholders = append(placeholders, "$1", "$2")
	args = append(args, id, tick)
	for i, column := range columns {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+3))
		args = append(args, values[column])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, tick, %s) VALUES (%s)",
		ident(tables.Entity), joinIdents(columns), strings.Join(placeholders, ", "),
	)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create entity: %w", classifyPgError(err, tables))
	}
	return nil
}

// UpdateEntity rewrites the entity row, guarded by its expected tick.
func (t *pgTx) UpdateEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, fromTick, toTick int64, values map[string]any) error {
	columns := tables.ColumnNames()
	assignments := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+3)

	args = append(args, id, fromTick, toTick)
	assignments = append(assignments, "tick = $3")
	for _, column := range columns {
		args = append(args, values[column])
		assignments = append(assignments, fmt.Sprintf("%s = $%d", ident(column), len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $1 AND tick = $2",
		ident(tables.Entity), strings.Join(assignments, ", "),
	)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", classifyPgError(err, tables))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s is no longer at tick %d: %w", id, fromTick, domain.ErrConcurrentModification)
	}
	return nil
}

// BulkUpdate sets the same column values on every listed entity. Ticks and
// history are not touched.
func (s *postgresStore) BulkUpdate(ctx context.Context, tables domain.TableSet, set map[string]any, ids []uuid.UUID) (int64, error) {
	if len(set) == 0 || len(ids) == 0 {
		return 0, nil
	}

	columns := make([]string, 0, len(set))
	for _, column := range tables.ColumnNames() {
		if _, ok := set[column]; ok {
			columns = append(columns, column)
		}
	}
	if len(columns) != len(set) {
		return 0, fmt.Errorf("bulk update names columns not declared on %s", tables.Entity)
	}

	args := []any{ids}
	assignments := make([]string, 0, len(columns))
	for _, column := range columns {
		args = append(args, set[column])
		assignments = append(assignments, fmt.Sprintf("%s = $%d", ident(column), len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = ANY($1)",
		ident(tables.Entity), strings.Join(assignments, ", "),
	)
	tag, err := s.conn.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update entities: %w", classifyPgError(err, tables))
	}
	return tag.RowsAffected(), nil
}
