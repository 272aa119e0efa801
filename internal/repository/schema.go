package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/tickstore/internal/domain"
)

// PostgresSchema renders the DDL for one clocked type: the entity table, its
// clock table and one history table per tracked field. Overlap of tick and
// effective ranges is excluded by the database itself.
func PostgresSchema(tables domain.TableSet) []string {
	var statements []string

	if tables.Schema != "" {
		statements = append(statements, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ident(tables.Schema)))
	}

	var entity strings.Builder
	fmt.Fprintf(&entity, "CREATE TABLE IF NOT EXISTS %s (\n", ident(tables.Entity))
	entity.WriteString("    id UUID PRIMARY KEY,\n")
	entity.WriteString("    tick BIGINT NOT NULL DEFAULT 0")
	for _, column := range tables.Columns {
		fmt.Fprintf(&entity, ",\n    %s %s", ident(column.Name), column.Type)
	}
	entity.WriteString("\n)")
	statements = append(statements, entity.String())

	clock := temporalIdent(tables, tables.Clock)
	var clockDDL strings.Builder
	fmt.Fprintf(&clockDDL, "CREATE TABLE IF NOT EXISTS %s (\n", clock)
	fmt.Fprintf(&clockDDL, "    entity_id UUID NOT NULL REFERENCES %s (id),\n", ident(tables.Entity))
	clockDDL.WriteString("    tick BIGINT NOT NULL CHECK (tick > 0),\n")
	clockDDL.WriteString("    timestamp TIMESTAMPTZ NOT NULL,\n")
	if tables.HasActivity {
		if tables.ActivityTable != "" {
			fmt.Fprintf(&clockDDL, "    activity_id UUID NOT NULL REFERENCES %s (id),\n", ident(tables.ActivityTable))
		} else {
			clockDDL.WriteString("    activity_id UUID NOT NULL,\n")
		}
		fmt.Fprintf(&clockDDL, "    CONSTRAINT %s UNIQUE (entity_id, activity_id),\n",
			ident(domain.ConstraintName(tables.Clock, clockActivityKeySuffix)))
	}
	fmt.Fprintf(&clockDDL, "    CONSTRAINT %s PRIMARY KEY (entity_id, tick)\n)",
		ident(domain.ConstraintName(tables.Clock, clockTickKeySuffix)))
	statements = append(statements, clockDDL.String())

	for _, field := range tables.Tracked {
		history := tables.History[field]
		table := temporalIdent(tables, history.Table)
		statements = append(statements,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id UUID PRIMARY KEY,
    entity_id UUID NOT NULL REFERENCES %s (id),
    %s %s,
    vclock INT8RANGE NOT NULL,
    effective TSTZRANGE NOT NULL,
    CHECK (NOT isempty(vclock) AND NOT isempty(effective)),
    CONSTRAINT %s EXCLUDE USING gist (entity_id WITH =, vclock WITH &&),
    CONSTRAINT %s EXCLUDE USING gist (entity_id WITH =, effective WITH &&)
)`,
				table,
				ident(tables.Entity),
				ident(history.Field), history.Type,
				ident(domain.ConstraintName(history.Table, historyExclTickSuffix)),
				ident(domain.ConstraintName(history.Table, historyExclEffectSuffix)),
			),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (entity_id) WHERE upper_inf(vclock)",
				ident(domain.ConstraintName(history.Table, historyOpenKeySuffix)), table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gist (effective)",
				ident(domain.ConstraintName("ix_"+history.Table, "effective")), table),
		)
	}

	return statements
}

// EnsureSchema applies PostgresSchema for every set in a single transaction.
func (s *postgresStore) EnsureSchema(ctx context.Context, sets ...domain.TableSet) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for _, tables := range sets {
			for _, statement := range PostgresSchema(tables) {
				if _, err := tx.Exec(ctx, statement); err != nil {
					return fmt.Errorf("failed to create tables for %s: %w", tables.Entity, err)
				}
			}
		}
		return nil
	})
}
