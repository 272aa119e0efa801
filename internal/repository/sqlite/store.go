// Package sqlite provides a SQLite-backed temporal store. SQLite has no range
// types, so every range is stored as two scalar bounds and overlap is rejected
// by triggers inside the same transaction as the write.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
)

// unbounded stands in for a missing upper bound in overlap comparisons.
const unbounded = int64(9223372036854775807)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q querier
}

type sqliteTx struct {
	reader
	tx *sql.Tx
}

// Store persists temporal state in SQLite.
type Store struct {
	reader
	sqlDB *sql.DB
}

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

// Open opens a SQLite temporal store. Transactions start with BEGIN IMMEDIATE,
// so the database write lock doubles as the entity lock.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{reader: reader{q: sqlDB}, sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() {
	if s == nil || s.sqlDB == nil {
		return
	}
	if err := s.sqlDB.Close(); err != nil {
		slog.Warn("close sqlite db", "err", err)
	}
}

// DB exposes the underlying handle for callers that own activity tables.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

// WithTx runs fn in one immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err, domain.TableSet{}))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqliteTx{reader: reader{q: tx}, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err, domain.TableSet{}))
	}
	return nil
}

func ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = ident(name)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*sqliteTx)(nil)
)
