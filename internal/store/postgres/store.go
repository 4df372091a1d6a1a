// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolfees/schoolfees/internal/platform/db"
	"github.com/schoolfees/schoolfees/internal/store"
)

//go:embed schema.sql
var schema string

// Store persists school-fee records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// WithTx executes the callback inside a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := fn(ctx, &txRepo{tx: tx})
		return mapError(err)
	})
}

type txRepo struct {
	tx pgx.Tx
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Message)
		}
	}
	return err
}

// exec runs a write and reports ErrNotFound when no row was touched.
func (r *txRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// execVersioned runs a versioned update, distinguishing stale versions from missing rows.
func (r *txRepo) execVersioned(ctx context.Context, table, id string, sql string, args ...any) error {
	tag, err := r.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", table, keyColumn(table))
	if err := r.tx.QueryRow(ctx, q, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

func keyColumn(table string) string {
	if table == "fee_transactions" {
		return "reference"
	}
	return "id"
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txRepo)(nil)
)
