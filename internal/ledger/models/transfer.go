package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

// TransferKind names the settlement path that moved value out of the ledger.
type TransferKind string

const (
	TransferKindPayout      TransferKind = "payout"
	TransferKindRefund      TransferKind = "refund"
	TransferKindPlatformFee TransferKind = "platform_fee"
)

// TransferStatus tracks an outbound transfer through reserve, call and finalize.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

// Transfer records value reserved for an external transfer.
//
// Invariants:
//   - Created pending in the same transaction that zeroes the reserved balance
//   - Moves to completed or failed exactly once
//   - A pending transfer that outlives its request needs reconciliation
type Transfer struct {
	ID         uuid.UUID       `json:"id"`
	Kind       TransferKind    `json:"kind"`
	CampaignID id.CampaignID   `json:"campaign_id,omitempty"`
	Recipient  id.Identity     `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Status     TransferStatus  `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// NewTransfer builds a pending transfer.
func NewTransfer(kind TransferKind, campaignID id.CampaignID, recipient id.Identity, amount, fee decimal.Decimal, now time.Time) *Transfer {
	return &Transfer{
		ID:         uuid.New(),
		Kind:       kind,
		CampaignID: campaignID,
		Recipient:  recipient,
		Amount:     amount,
		Fee:        fee,
		Status:     TransferStatusPending,
		CreatedAt:  now,
	}
}

func (t *Transfer) IsPending() bool {
	return t.Status == TransferStatusPending
}

// Complete marks the transfer as delivered.
func (t *Transfer) Complete(now time.Time) error {
	return t.settle(TransferStatusCompleted, now)
}

// Fail marks the transfer as not delivered; the reserved value has been restored.
func (t *Transfer) Fail(now time.Time) error {
	return t.settle(TransferStatusFailed, now)
}

func (t *Transfer) settle(status TransferStatus, now time.Time) error {
	if !t.IsPending() {
		return dErrors.New(dErrors.CodeInvalidState, "transfer already settled")
	}
	t.Status = status
	t.SettledAt = &now
	return nil
}
