package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/tickstore/internal/domain"
)

const migrationTable = "schema_migrations"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// applyMigrations runs the embedded migrations at most once per file.
func applyMigrations(sqlDB *sql.DB) error {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFiles, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upMigration returns the SQL of the "-- +migrate Up" section.
func upMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	end := strings.Index(content, down)
	if end == -1 || end < start {
		return content[start+len(up):]
	}
	return content[start+len(up) : end]
}

// Schema renders the DDL for one clocked type. SQLite has no schemas, so
// tables.Schema is ignored. Range exclusion becomes a pair of triggers per
// history table that abort any write overlapping an existing interval.
func Schema(tables domain.TableSet) []string {
	var statements []string

	var entity strings.Builder
	fmt.Fprintf(&entity, "CREATE TABLE IF NOT EXISTS %s (\n", ident(tables.Entity))
	entity.WriteString("    id TEXT PRIMARY KEY,\n")
	entity.WriteString("    tick INTEGER NOT NULL DEFAULT 0")
	for _, column := range tables.Columns {
		fmt.Fprintf(&entity, ",\n    %s %s", ident(column.Name), column.Type)
	}
	entity.WriteString("\n)")
	statements = append(statements, entity.String())

	var clock strings.Builder
	fmt.Fprintf(&clock, "CREATE TABLE IF NOT EXISTS %s (\n", ident(tables.Clock))
	fmt.Fprintf(&clock, "    entity_id TEXT NOT NULL REFERENCES %s (id),\n", ident(tables.Entity))
	clock.WriteString("    tick INTEGER NOT NULL CHECK (tick > 0),\n")
	clock.WriteString("    timestamp INTEGER NOT NULL,\n")
	if tables.HasActivity {
		if tables.ActivityTable != "" {
			fmt.Fprintf(&clock, "    activity_id TEXT NOT NULL REFERENCES %s (id),\n", ident(tables.ActivityTable))
		} else {
			clock.WriteString("    activity_id TEXT NOT NULL,\n")
		}
		clock.WriteString("    UNIQUE (entity_id, activity_id),\n")
	}
	clock.WriteString("    PRIMARY KEY (entity_id, tick)\n)")
	statements = append(statements, clock.String())

	for _, field := range tables.Tracked {
		history := tables.History[field]
		table := ident(history.Table)
		statements = append(statements,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL REFERENCES %s (id),
    %s %s,
    start_tick INTEGER NOT NULL,
    end_tick INTEGER,
    start_time INTEGER NOT NULL,
    end_time INTEGER,
    CHECK (end_tick IS NULL OR end_tick > start_tick),
    CHECK (end_time IS NULL OR end_time > start_time),
    CHECK ((end_tick IS NULL) = (end_time IS NULL))
)`, table, ident(tables.Entity), ident(history.Field), history.Type),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (entity_id) WHERE end_tick IS NULL",
				ident(domain.ConstraintName(history.Table, "open_key")), table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (entity_id, start_tick)",
				ident(domain.ConstraintName("ix_"+history.Table, "start_tick")), table),
			exclusionTrigger(history.Table, "INSERT", ""),
			exclusionTrigger(history.Table, "UPDATE", " AND o.id <> NEW.id"),
		)
	}

	return statements
}

func exclusionTrigger(table, event, self string) string {
	name := domain.ConstraintName(table, "excl_"+strings.ToLower(event))
	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s
BEFORE %[2]s ON %[3]s
WHEN EXISTS (
    SELECT 1 FROM %[3]s o
     WHERE o.entity_id = NEW.entity_id%[4]s
       AND ((o.start_tick < COALESCE(NEW.end_tick, %[5]d) AND COALESCE(o.end_tick, %[5]d) > NEW.start_tick)
         OR (o.start_time < COALESCE(NEW.end_time, %[5]d) AND COALESCE(o.end_time, %[5]d) > NEW.start_time))
)
BEGIN
    SELECT RAISE(ABORT, '%[6]s: overlapping range');
END`, ident(name), event, ident(table), self, unbounded, name)
}

// EnsureSchema creates the tables of every set in one transaction.
func (s *Store) EnsureSchema(ctx context.Context, sets ...domain.TableSet) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	for _, tables := range sets {
		for _, statement := range Schema(tables) {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to create tables for %s: %w", tables.Entity, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
