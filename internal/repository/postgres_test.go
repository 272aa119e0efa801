package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/tickstore/internal/domain"
)

func testTables() domain.TableSet {
	return domain.TableSet{
		Schema: "temporal",
		Entity: "animals",
		Columns: []domain.Column{
			{Name: "name", Type: "TEXT"},
			{Name: "color", Type: "TEXT"},
		},
		Clock: "animals_clock",
		History: map[string]domain.HistoryTable{
			"color": {Field: "color", Table: "animals_history_color", Type: "TEXT"},
		},
		Tracked:       []string{"color"},
		HasActivity:   true,
		ActivityTable: "activities",
	}
}

func TestClassifyPgError_MapsConstraints(t *testing.T) {
	tables := testTables()
	cases := []struct {
		name string
		err  *pgconn.PgError
		want error
	}{
		{
			name: "duplicate tick",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "animals_clock_entity_tick_key"},
			want: domain.ErrDuplicateTick,
		},
		{
			name: "duplicate activity",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "animals_clock_entity_activity_key"},
			want: domain.ErrDuplicateActivity,
		},
		{
			name: "second open interval",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "animals_history_color_open_key", TableName: "animals_history_color"},
			want: domain.ErrConstraintViolation,
		},
		{
			name: "entity created concurrently",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "animals_pkey", TableName: "animals"},
			want: domain.ErrConcurrentModification,
		},
		{
			name: "overlapping range",
			err:  &pgconn.PgError{Code: pgExclusionViolation, ConstraintName: "animals_history_color_excl_vclock"},
			want: domain.ErrConstraintViolation,
		},
		{
			name: "deadlock",
			err:  &pgconn.PgError{Code: pgDeadlockDetected},
			want: domain.ErrConcurrentModification,
		},
	}

	for _, tc := range cases {
		err := classifyPgError(tc.err, tables)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr != tc.err {
			t.Fatalf("%s: driver error no longer reachable", tc.name)
		}
	}
}

func TestClassifyPgError_PassesThroughUnknown(t *testing.T) {
	plain := errors.New("boom")
	if err := classifyPgError(plain, testTables()); err != plain {
		t.Fatalf("expected untouched error, got %v", err)
	}
	syntax := &pgconn.PgError{Code: "42601"}
	if err := classifyPgError(syntax, testTables()); err != error(syntax) {
		t.Fatalf("expected untouched syntax error, got %v", err)
	}
}

func TestPostgresSchema_RendersRangesAndExclusion(t *testing.T) {
	statements := PostgresSchema(testTables())
	ddl := strings.Join(statements, ";\n")

	for _, fragment := range []string{
		`CREATE SCHEMA IF NOT EXISTS "temporal"`,
		`CREATE TABLE IF NOT EXISTS "temporal"."animals_clock"`,
		`activity_id UUID NOT NULL REFERENCES "activities" (id)`,
		`CONSTRAINT "animals_clock_entity_activity_key" UNIQUE (entity_id, activity_id)`,
		`CONSTRAINT "animals_clock_entity_tick_key" PRIMARY KEY (entity_id, tick)`,
		`vclock INT8RANGE NOT NULL`,
		`effective TSTZRANGE NOT NULL`,
		`CONSTRAINT "animals_history_color_excl_vclock" EXCLUDE USING gist (entity_id WITH =, vclock WITH &&)`,
		`CONSTRAINT "animals_history_color_excl_effective" EXCLUDE USING gist (entity_id WITH =, effective WITH &&)`,
		`WHERE upper_inf(vclock)`,
	} {
		if !strings.Contains(ddl, fragment) {
			t.Fatalf("schema missing %q:\n%s", fragment, ddl)
		}
	}
}

func TestApplyRanges(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := pgtype.Range[pgtype.Int8]{
		Lower:     pgtype.Int8{Int64: 1, Valid: true},
		Upper:     pgtype.Int8{Int64: 3, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Exclusive,
		Valid:     true,
	}
	open := pgtype.Range[pgtype.Timestamptz]{
		Lower:     pgtype.Timestamptz{Time: start, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}

	var interval domain.Interval
	applyRanges(&interval, closed, open)
	if interval.StartTick != 1 || interval.EndTick == nil || *interval.EndTick != 3 {
		t.Fatalf("unexpected tick bounds: %+v", interval)
	}
	if !interval.StartTime.Equal(start) || interval.EndTime != nil {
		t.Fatalf("unexpected time bounds: %+v", interval)
	}
}
