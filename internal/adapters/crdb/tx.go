package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
	UniqueViolationCode      = "23505"
	InvalidTextCode          = "22P02"

	activeHoldConstraint = "hold_ledger_one_active"
	heldBidConstraint    = "bids_one_held"
)

type txKey struct{}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (r *Repository) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// WithTx runs fn in one transaction at the repository's isolation level.
// Calls made with the context passed to fn join the transaction; a nested
// WithTx joins it too.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: r.isolation})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

// mapError turns driver errors the engine cares about into domain kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == SerializationFailureCode || pgErr.Code == DeadlockDetectedCode:
		return errors.Mark(errors.Wrap(err, "transaction aborted"), domain.ErrConcurrentModification)
	case pgErr.Code == UniqueViolationCode && pgErr.ConstraintName == activeHoldConstraint:
		return errors.Mark(errors.Wrap(err, "active hold exists"), domain.ErrConflictingHold)
	case pgErr.Code == UniqueViolationCode && pgErr.ConstraintName == heldBidConstraint:
		return errors.Mark(errors.Wrap(err, "held bid exists"), domain.ErrInvariantViolation)
	case pgErr.Code == InvalidTextCode:
		return errors.Mark(errors.Wrap(err, "malformed value"), domain.ErrInvalidInput)
	}
	return err
}

func isolationLevel(name string) pgx.TxIsoLevel {
	switch name {
	case "SERIALIZABLE":
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(domain.ErrNotFound, format, args...)
	}
	return mapError(err)
}

var _ querier = (*pgxpool.Pool)(nil)
