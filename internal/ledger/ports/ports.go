// Package ports defines the interfaces the ledger service consumes.
// Stores and custody adapters implement them; the service never sees a concrete backend.
package ports

//go:generate mockgen -destination=mocks/mocks.go -package=mocks crowdledger/internal/ledger/ports Transferer,StoreTx

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
)

// CampaignStore persists campaigns. Ids are allocated by NextCampaignID inside the
// same transaction that creates the campaign, so a rolled-back creation never
// consumes an id.
type CampaignStore interface {
	NextCampaignID(ctx context.Context) (id.CampaignID, error)
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	UpdateCampaign(ctx context.Context, campaign *models.Campaign) error

	// FindCampaign returns sentinel.ErrNotFound for unknown ids.
	FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error)

	// FindCampaigns returns campaigns in the requested order, or sentinel.ErrNotFound
	// if any id is unknown.
	FindCampaigns(ctx context.Context, campaignIDs []id.CampaignID) ([]*models.Campaign, error)

	// ListCampaigns returns every campaign ordered by id.
	ListCampaigns(ctx context.Context) ([]*models.Campaign, error)
	ListCampaignsByCreator(ctx context.Context, creator id.Identity) ([]*models.Campaign, error)
	CountCampaigns(ctx context.Context) (int, error)
	CountCampaignsByCreator(ctx context.Context, creator id.Identity) (int, error)
}

// ContributionStore persists cumulative contributions keyed by (campaign, contributor).
type ContributionStore interface {
	// FindContribution returns zero when the contributor never contributed.
	FindContribution(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error)
	SaveContribution(ctx context.Context, contribution *models.Contribution) error
	ListContributions(ctx context.Context, campaignID id.CampaignID) ([]*models.Contribution, error)
}

// FeePoolStore persists the platform fee pool total.
type FeePoolStore interface {
	FeePool(ctx context.Context) (decimal.Decimal, error)
	SaveFeePool(ctx context.Context, amount decimal.Decimal) error
}

// TransferStore persists outbound transfer reservations.
type TransferStore interface {
	CreateTransfer(ctx context.Context, transfer *models.Transfer) error
	UpdateTransfer(ctx context.Context, transfer *models.Transfer) error
	FindTransfer(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error)
	ListPendingTransfers(ctx context.Context) ([]*models.Transfer, error)
}

// EventStore is the append-only ledger event log.
type EventStore interface {
	// AppendEvent assigns event.Seq and stores the event.
	AppendEvent(ctx context.Context, event *models.Event) error
	// ListEvents returns up to limit events with Seq > afterSeq in Seq order.
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.Event, error)
}

// Store is the single owned ledger state.
type Store interface {
	CampaignStore
	ContributionStore
	FeePoolStore
	TransferStore
	EventStore
}

// StoreTx is the ledger's critical section. fn runs with exclusive access to the
// ledger; its writes commit only if fn returns nil.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Transferer moves value out of the ledger's custody to transfer.Recipient.
// Implementations may call back into the ledger before returning.
type Transferer interface {
	Transfer(ctx context.Context, transfer *models.Transfer) error
}
