package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/tickstore/internal/db"
	"github.com/rpattn/tickstore/internal/domain"
)

// pgReader implements Reader over either the pool or a transaction.
type pgReader struct {
	q db.DBTX
}

// pgTx implements Tx on top of one pgx transaction.
type pgTx struct {
	pgReader
	tx pgx.Tx
}

// postgresStore implements Store on Postgres using native range types and
// GiST exclusion constraints.
type postgresStore struct {
	pgReader
	conn *db.Connection
}

// NewPostgresStore creates a temporal store backed by conn.
func NewPostgresStore(conn *db.Connection) Store {
	return &postgresStore{
		pgReader: pgReader{q: conn.Pool},
		conn:     conn,
	}
}

// WithTx runs fn inside one READ COMMITTED transaction. Entity-level
// serialisation comes from the row lock taken by LockEntity.
func (s *postgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx})
	})
	if err != nil {
		return classifyCommitError(err)
	}
	return nil
}

func (s *postgresStore) Close() {
	s.conn.Close()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// temporalIdent qualifies a clock or history table with the type's schema.
func temporalIdent(tables domain.TableSet, name string) string {
	if tables.Schema == "" {
		return ident(name)
	}
	return pgx.Identifier{tables.Schema, name}.Sanitize()
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = ident(name)
	}
	return strings.Join(quoted, ", ")
}

var (
	_ Store = (*postgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
