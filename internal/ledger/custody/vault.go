// Package custody holds the ledger's outbound value adapters.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
)

// ErrRecipientRejected is returned when a recipient refuses incoming value.
var ErrRecipientRejected = errors.New("recipient rejected transfer")

// ReceiveHook runs when value is about to be credited to a recipient. It may call
// back into the ledger. A non-nil error rejects the transfer.
type ReceiveHook func(ctx context.Context, transfer *models.Transfer) error

// Vault is an in-process custodian: it credits recipients' balances and records
// everything it paid out. Recipients can be configured to reject value or to run
// a hook on receipt, which is how refusal and re-entrancy are exercised.
type Vault struct {
	mu       sync.Mutex
	balances map[id.Identity]decimal.Decimal
	rejected map[id.Identity]bool
	hooks    map[id.Identity]ReceiveHook
	logger   *slog.Logger
}

type Option func(*Vault)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// NewVault returns an empty vault.
func NewVault(opts ...Option) *Vault {
	v := &Vault{
		balances: make(map[id.Identity]decimal.Decimal),
		rejected: make(map[id.Identity]bool),
		hooks:    make(map[id.Identity]ReceiveHook),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Transfer credits transfer.Amount to transfer.Recipient. The receive hook runs
// without the vault lock held so it can re-enter the ledger.
func (v *Vault) Transfer(ctx context.Context, transfer *models.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	rejected := v.rejected[transfer.Recipient]
	hook := v.hooks[transfer.Recipient]
	v.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, transfer); err != nil {
			return fmt.Errorf("receive hook for %s: %w", transfer.Recipient, err)
		}
	}
	if rejected {
		return fmt.Errorf("transfer %s to %s: %w", transfer.ID, transfer.Recipient, ErrRecipientRejected)
	}

	v.mu.Lock()
	v.balances[transfer.Recipient] = v.balances[transfer.Recipient].Add(transfer.Amount)
	v.mu.Unlock()

	if v.logger != nil {
		v.logger.InfoContext(ctx, "custody transfer delivered",
			"transfer_id", transfer.ID,
			"kind", transfer.Kind,
			"recipient", transfer.Recipient.String(),
			"amount", transfer.Amount.String(),
		)
	}
	return nil
}

// Balance returns the total delivered to identity.
func (v *Vault) Balance(identity id.Identity) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[identity]
}

// TotalPaid returns the total delivered to every recipient.
func (v *Vault) TotalPaid() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := decimal.Zero
	for _, b := range v.balances {
		total = total.Add(b)
	}
	return total
}

// Reject makes identity refuse incoming value until Accept is called.
func (v *Vault) Reject(identity id.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejected[identity] = true
}

// Accept clears a previous Reject.
func (v *Vault) Accept(identity id.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rejected, identity)
}

// OnReceive installs a receive hook for identity. A nil hook removes it.
func (v *Vault) OnReceive(identity id.Identity, hook ReceiveHook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if hook == nil {
		delete(v.hooks, identity)
		return
	}
	v.hooks[identity] = hook
}
