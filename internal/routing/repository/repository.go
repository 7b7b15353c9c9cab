// Package repository stores the routing core in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository implements ports.Store on pgx. Outside WithinTx it runs on the
// pool; inside, on the transaction.
type Repository struct {
	pool       *pgxpool.Pool
	q          DBTX
	inTx       bool
	onRollback *[]func(ctx context.Context)
}

var _ ports.Store = (*Repository)(nil)

// New creates a Repository on pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// WithinTx runs fn in a transaction. A failed commit is reported as
// apperr.KindTransactionFailed; any error from fn rolls back and is returned
// as is. Nested calls join the outer transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.TransactionFailed("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var hooks []func(ctx context.Context)
	if err := fn(&Repository{pool: r.pool, q: tx, inTx: true, onRollback: &hooks}); err != nil {
		runRollbackHooks(ctx, hooks)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		runRollbackHooks(ctx, hooks)
		return apperr.TransactionFailed("commit", err)
	}
	return nil
}

// OnRollback implements ports.Store.
func (r *Repository) OnRollback(fn func(ctx context.Context)) {
	if r.onRollback == nil {
		return
	}
	*r.onRollback = append(*r.onRollback, fn)
}

// runRollbackHooks runs in reverse registration order, detached from the
// caller's cancellation.
func runRollbackHooks(ctx context.Context, hooks []func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](ctx)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, what+" not found", err)
	}
	return err
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.Conflict(op + ": already exists")
		case "23503":
			return apperr.NotFound(op + ": referenced record not found")
		case "40001", "40P01":
			return apperr.TransactionFailed(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
