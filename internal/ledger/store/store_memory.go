package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
)

// InMemory is a process-local ledger store. Reads outside a transaction see only
// committed state. Direct writes are serialized with transactions; they must not
// be called from inside RunInTx.
type InMemory struct {
	mu        sync.RWMutex
	committed *state

	// txMu is the ledger's critical section, held for the whole of RunInTx.
	txMu sync.Mutex

	relayCursor uint64
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{committed: newState()}
}

// view builds a read-write layer over the committed state. The overlay is nil
// for plain reads and writes, which then hit committed state directly under s.mu.
func (s *InMemory) view(overlay *state) *memoryView {
	return &memoryView{base: s, staged: overlay}
}

func (s *InMemory) direct(ctx context.Context, fn func(v *memoryView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.view(nil))
}

func (s *InMemory) read(ctx context.Context, fn func(v *memoryView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.view(nil))
}

func (s *InMemory) NextCampaignID(ctx context.Context) (campaignID id.CampaignID, err error) {
	err = s.direct(ctx, func(v *memoryView) error {
		campaignID, err = v.NextCampaignID(ctx)
		return err
	})
	return campaignID, err
}

func (s *InMemory) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return s.direct(ctx, func(v *memoryView) error { return v.CreateCampaign(ctx, campaign) })
}

func (s *InMemory) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return s.direct(ctx, func(v *memoryView) error { return v.UpdateCampaign(ctx, campaign) })
}

func (s *InMemory) FindCampaign(ctx context.Context, campaignID id.CampaignID) (campaign *models.Campaign, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		campaign, err = v.FindCampaign(ctx, campaignID)
		return err
	})
	return campaign, err
}

func (s *InMemory) FindCampaigns(ctx context.Context, campaignIDs []id.CampaignID) (campaigns []*models.Campaign, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		campaigns, err = v.FindCampaigns(ctx, campaignIDs)
		return err
	})
	return campaigns, err
}

func (s *InMemory) ListCampaigns(ctx context.Context) (campaigns []*models.Campaign, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		campaigns, err = v.ListCampaigns(ctx)
		return err
	})
	return campaigns, err
}

func (s *InMemory) ListCampaignsByCreator(ctx context.Context, creator id.Identity) (campaigns []*models.Campaign, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		campaigns, err = v.ListCampaignsByCreator(ctx, creator)
		return err
	})
	return campaigns, err
}

func (s *InMemory) CountCampaigns(ctx context.Context) (count int, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		count, err = v.CountCampaigns(ctx)
		return err
	})
	return count, err
}

func (s *InMemory) CountCampaignsByCreator(ctx context.Context, creator id.Identity) (count int, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		count, err = v.CountCampaignsByCreator(ctx, creator)
		return err
	})
	return count, err
}

func (s *InMemory) FindContribution(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (amount decimal.Decimal, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		amount, err = v.FindContribution(ctx, campaignID, contributor)
		return err
	})
	return amount, err
}

func (s *InMemory) SaveContribution(ctx context.Context, contribution *models.Contribution) error {
	return s.direct(ctx, func(v *memoryView) error { return v.SaveContribution(ctx, contribution) })
}

func (s *InMemory) ListContributions(ctx context.Context, campaignID id.CampaignID) (list []*models.Contribution, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		list, err = v.ListContributions(ctx, campaignID)
		return err
	})
	return list, err
}

func (s *InMemory) FeePool(ctx context.Context) (amount decimal.Decimal, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		amount, err = v.FeePool(ctx)
		return err
	})
	return amount, err
}

func (s *InMemory) SaveFeePool(ctx context.Context, amount decimal.Decimal) error {
	return s.direct(ctx, func(v *memoryView) error { return v.SaveFeePool(ctx, amount) })
}

func (s *InMemory) CreateTransfer(ctx context.Context, transfer *models.Transfer) error {
	return s.direct(ctx, func(v *memoryView) error { return v.CreateTransfer(ctx, transfer) })
}

func (s *InMemory) UpdateTransfer(ctx context.Context, transfer *models.Transfer) error {
	return s.direct(ctx, func(v *memoryView) error { return v.UpdateTransfer(ctx, transfer) })
}

func (s *InMemory) FindTransfer(ctx context.Context, transferID uuid.UUID) (transfer *models.Transfer, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		transfer, err = v.FindTransfer(ctx, transferID)
		return err
	})
	return transfer, err
}

func (s *InMemory) ListPendingTransfers(ctx context.Context) (list []*models.Transfer, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		list, err = v.ListPendingTransfers(ctx)
		return err
	})
	return list, err
}

func (s *InMemory) AppendEvent(ctx context.Context, event *models.Event) error {
	return s.direct(ctx, func(v *memoryView) error { return v.AppendEvent(ctx, event) })
}

func (s *InMemory) ListEvents(ctx context.Context, afterSeq uint64, limit int) (events []*models.Event, err error) {
	err = s.read(ctx, func(v *memoryView) error {
		events, err = v.ListEvents(ctx, afterSeq, limit)
		return err
	})
	return events, err
}

// RelayCursor returns the Seq of the last event the outbox relay delivered.
func (s *InMemory) RelayCursor(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relayCursor, nil
}

// SaveRelayCursor advances the relay cursor. It never moves backwards.
func (s *InMemory) SaveRelayCursor(ctx context.Context, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayCursor = max(s.relayCursor, seq)
	return nil
}
