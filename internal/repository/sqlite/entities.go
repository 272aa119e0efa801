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

// LoadEntity reads the current row of an entity.
func (r reader) LoadEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityRow, error) {
	if err := ctx.Err(); err != nil {
		return domain.EntityRow{}, err
	}
	columns := tables.ColumnNames()
	query := fmt.Sprintf("SELECT tick, %s FROM %s WHERE id = ?", joinIdents(columns), ident(tables.Entity))

	values := make([]any, len(columns))
	dest := make([]any, 0, len(columns)+1)
	var tick int64
	dest = append(dest, &tick)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := r.q.QueryRowContext(ctx, query, id.String()).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EntityRow{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
		}
		return domain.EntityRow{}, fmt.Errorf("load entity: %w", err)
	}

	row := domain.EntityRow{Tick: tick, Values: make(map[string]any, len(columns))}
	for i, column := range columns {
		row.Values[column] = values[i]
	}
	return row, nil
}

// LockEntity reads the entity clock state. The immediate transaction already
// holds the database write lock, so no other writer can interleave.
func (t *sqliteTx) LockEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID) (domain.EntityState, bool, error) {
	query := fmt.Sprintf(
		`SELECT e.tick, c.timestamp
		   FROM %s e
		   LEFT JOIN %s c ON c.entity_id = e.id AND c.tick = e.tick
		  WHERE e.id = ?`,
		ident(tables.Entity), ident(tables.Clock),
	)

	var (
		tick      int64
		timestamp sql.NullInt64
	)
	if err := t.tx.QueryRowContext(ctx, query, id.String()).Scan(&tick, &timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EntityState{}, false, nil
		}
		return domain.EntityState{}, false, fmt.Errorf("lock entity: %w", classify(err, tables))
	}

	state := domain.EntityState{Tick: tick}
	if timestamp.Valid {
		state.LastTimestamp = fromMicros(timestamp.Int64)
	}
	return state, true, nil
}

// InsertEntity writes a new entity row at tick.
func (t *sqliteTx) InsertEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, tick int64, values map[string]any) error {
	columns := tables.ColumnNames()
	args := make([]any, 0, len(columns)+2)
	args = append(args, id.String(), tick)
	for _, column := range columns {
		args = append(args, values[column])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, tick, %s) VALUES (%s)",
		ident(tables.Entity), joinIdents(columns), placeholders(len(args)),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create entity: %w", classify(err, tables))
	}
	return nil
}

// UpdateEntity rewrites the entity row, guarded by its expected tick.
func (t *sqliteTx) UpdateEntity(ctx context.Context, tables domain.TableSet, id uuid.UUID, fromTick, toTick int64, values map[string]any) error {
	columns := tables.ColumnNames()
	assignments := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+3)

	assignments = append(assignments, "tick = ?")
	args = append(args, toTick)
	for _, column := range columns {
		assignments = append(assignments, ident(column)+" = ?")
		args = append(args, values[column])
	}
	args = append(args, id.String(), fromTick)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = ? AND tick = ?",
		ident(tables.Entity), strings.Join(assignments, ", "),
	)
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entity: %w", classify(err, tables))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("entity %s is no longer at tick %d: %w", id, fromTick, domain.ErrConcurrentModification)
	}
	return nil
}

// BulkUpdate sets the same column values on every listed entity without
// touching ticks or history.
func (s *Store) BulkUpdate(ctx context.Context, tables domain.TableSet, set map[string]any, ids []uuid.UUID) (int64, error) {
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

	assignments := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+len(ids))
	for _, column := range columns {
		assignments = append(assignments, ident(column)+" = ?")
		args = append(args, set[column])
	}
	for _, id := range ids {
		args = append(args, id.String())
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id IN (%s)",
		ident(tables.Entity), strings.Join(assignments, ", "), placeholders(len(ids)),
	)
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update entities: %w", classify(err, tables))
	}
	return result.RowsAffected()
}
