package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	sqlTxKey contextKey = "sql_tx"
	pgTxKey  contextKey = "pg_tx"
)

// Transactor runs fn inside a transaction carried by the context passed to
// fn. Repositories pick the transaction up from that context. A nested call
// joins the outer transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Querier is the subset of *sql.DB and *sql.Tx the SQLite repositories use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PGQuerier is the subset of *pgxpool.Pool and pgx.Tx the PostgreSQL
// repositories use.
type PGQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLTransactor implements Transactor over database/sql.
type SQLTransactor struct {
	DB *sql.DB
}

func (t SQLTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := SQLTxFromContext(ctx); ok {
		return fn(ctx)
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(context.WithValue(ctx, sqlTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SQLTxFromContext returns the transaction opened by SQLTransactor, if any.
func SQLTxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(sqlTxKey).(*sql.Tx)
	return tx, ok
}

// QuerierFrom returns the transaction in ctx or falls back to conn.
func QuerierFrom(ctx context.Context, conn *sql.DB) Querier {
	if tx, ok := SQLTxFromContext(ctx); ok {
		return tx
	}
	return conn
}

// PGTransactor implements Transactor over a pgx pool.
type PGTransactor struct {
	Pool *pgxpool.Pool
}

func (t PGTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := PGTxFromContext(ctx); ok {
		return fn(ctx)
	}
	tx, err := t.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(context.WithValue(ctx, pgTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PGTxFromContext returns the transaction opened by PGTransactor, if any.
func PGTxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(pgTxKey).(pgx.Tx)
	return tx, ok
}

// PGQuerierFrom returns the transaction in ctx or falls back to pool.
func PGQuerierFrom(ctx context.Context, pool *pgxpool.Pool) PGQuerier {
	if tx, ok := PGTxFromContext(ctx); ok {
		return tx
	}
	return pool
}
