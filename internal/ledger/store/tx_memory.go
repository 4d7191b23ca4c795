package store

import (
	"context"
	"time"

	"crowdledger/internal/ledger/ports"
	dErrors "crowdledger/pkg/domain-errors"
)

// defaultTxTimeout bounds a ledger transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

// InMemoryTx serializes every ledger transaction behind a single lock and stages
// writes so that a failed transaction leaves no trace.
type InMemoryTx struct {
	store   *InMemory
	timeout time.Duration
}

// NewInMemoryTx returns the transaction boundary for store.
func NewInMemoryTx(store *InMemory) *InMemoryTx {
	return &InMemoryTx{store: store}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(store ports.Store) error) error {
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

	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	staged := newState()
	if err := fn(t.store.view(staged)); err != nil {
		return err
	}

	t.store.mu.Lock()
	staged.mergeInto(t.store.committed)
	t.store.mu.Unlock()
	return nil
}
