package store

import (
	"context"
	"database/sql"
	"time"

	"crowdledger/internal/ledger/ports"
	dErrors "crowdledger/pkg/domain-errors"
)

// ledgerLockKey is the pg_advisory_xact_lock key that serializes ledger
// transactions across every process sharing the database.
const ledgerLockKey int64 = 0x63726f77646c6472

// PostgresTx runs each ledger transaction in a SQL transaction holding the
// ledger advisory lock until commit or rollback.
type PostgresTx struct {
	store   *Postgres
	timeout time.Duration
}

// NewPostgresTx returns the transaction boundary for store.
func NewPostgresTx(store *Postgres) *PostgresTx {
	return &PostgresTx{store: store}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.store.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire ledger lock")
	}

	if err := fn(t.store.bound(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit transaction")
	}
	return nil
}
