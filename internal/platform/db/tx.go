package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx begins a transaction on the site-scoped connection in ctx and
// returns a context carrying it.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxRunner returns a function running fn in a transaction. Nested calls join
// the transaction already in ctx. Without a site connection in ctx the
// transaction is opened on pool.
func TxRunner(pool *pgxpool.Pool) func(ctx context.Context, fn func(ctx context.Context) error) error {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if TxFromContext(ctx) != nil {
			return fn(ctx)
		}

		var (
			txCtx context.Context
			tx    pgx.Tx
			err   error
		)
		if ConnFromContext(ctx) != nil {
			txCtx, tx, err = WithTx(ctx)
		} else {
			tx, err = pool.Begin(ctx)
			txCtx = context.WithValue(ctx, DBTxKey, tx)
		}
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(txCtx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}
