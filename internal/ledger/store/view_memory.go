package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
	"crowdledger/pkg/platform/sentinel"
)

// memoryView implements ports.Store over committed state plus an optional staged
// layer. With a staged layer, writes land in the layer and reads prefer it; the
// caller holds txMu, so committed state can only change through this view's commit.
type memoryView struct {
	base   *InMemory
	staged *state
}

// committed runs fn against committed state. Transaction views take the read
// lock; direct views already hold s.mu.
func (v *memoryView) committed(fn func(st *state)) {
	if v.staged != nil {
		v.base.mu.RLock()
		defer v.base.mu.RUnlock()
	}
	fn(v.base.committed)
}

// target is where writes go.
func (v *memoryView) target() *state {
	if v.staged != nil {
		return v.staged
	}
	return v.base.committed
}

func (v *memoryView) lastCampaignID() uint64 {
	var last uint64
	v.committed(func(st *state) { last = st.lastCampaignID })
	if v.staged != nil && v.staged.lastCampaignID > last {
		last = v.staged.lastCampaignID
	}
	return last
}

func (v *memoryView) NextCampaignID(_ context.Context) (id.CampaignID, error) {
	next := v.lastCampaignID() + 1
	v.target().lastCampaignID = next
	return id.CampaignID(next), nil
}

func (v *memoryView) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if _, err := v.FindCampaign(ctx, campaign.ID); err == nil {
		return fmt.Errorf("campaign %s: %w", campaign.ID, sentinel.ErrConflict)
	}
	if uint64(campaign.ID) > v.lastCampaignID() {
		return fmt.Errorf("campaign %s was not allocated: %w", campaign.ID, sentinel.ErrInvalidState)
	}
	v.target().campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (v *memoryView) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if _, err := v.FindCampaign(ctx, campaign.ID); err != nil {
		return err
	}
	v.target().campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (v *memoryView) FindCampaign(_ context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	if v.staged != nil {
		if c, ok := v.staged.campaigns[campaignID]; ok {
			return cloneCampaign(c), nil
		}
	}
	var found *models.Campaign
	v.committed(func(st *state) {
		if c, ok := st.campaigns[campaignID]; ok {
			found = cloneCampaign(c)
		}
	})
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return found, nil
}

func (v *memoryView) FindCampaigns(ctx context.Context, campaignIDs []id.CampaignID) ([]*models.Campaign, error) {
	out := make([]*models.Campaign, 0, len(campaignIDs))
	for _, campaignID := range campaignIDs {
		c, err := v.FindCampaign(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("campaign %s: %w", campaignID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (v *memoryView) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	return v.filterCampaigns(ctx, func(*models.Campaign) bool { return true })
}

func (v *memoryView) ListCampaignsByCreator(ctx context.Context, creator id.Identity) ([]*models.Campaign, error) {
	return v.filterCampaigns(ctx, func(c *models.Campaign) bool { return c.Creator == creator })
}

func (v *memoryView) CountCampaigns(ctx context.Context) (int, error) {
	list, err := v.ListCampaigns(ctx)
	return len(list), err
}

func (v *memoryView) CountCampaignsByCreator(ctx context.Context, creator id.Identity) (int, error) {
	list, err := v.ListCampaignsByCreator(ctx, creator)
	return len(list), err
}

// filterCampaigns walks ids in allocation order; ids are dense so this is also id order.
func (v *memoryView) filterCampaigns(ctx context.Context, keep func(*models.Campaign) bool) ([]*models.Campaign, error) {
	last := v.lastCampaignID()
	out := make([]*models.Campaign, 0)
	for n := uint64(1); n <= last; n++ {
		c, err := v.FindCampaign(ctx, id.CampaignID(n))
		if err != nil {
			// allocated but not created in this layer yet
			continue
		}
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *memoryView) FindContribution(_ context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error) {
	key := contributionKey{campaignID: campaignID, contributor: contributor}
	if v.staged != nil {
		if amount, ok := v.staged.contributions[key]; ok {
			return amount, nil
		}
	}
	amount := decimal.Zero
	v.committed(func(st *state) {
		if a, ok := st.contributions[key]; ok {
			amount = a
		}
	})
	return amount, nil
}

func (v *memoryView) SaveContribution(_ context.Context, contribution *models.Contribution) error {
	key := contributionKey{campaignID: contribution.CampaignID, contributor: contribution.Contributor}
	v.target().contributions[key] = contribution.Amount
	return nil
}

func (v *memoryView) ListContributions(_ context.Context, campaignID id.CampaignID) ([]*models.Contribution, error) {
	merged := make(map[id.Identity]decimal.Decimal)
	v.committed(func(st *state) {
		for k, amount := range st.contributions {
			if k.campaignID == campaignID {
				merged[k.contributor] = amount
			}
		}
	})
	if v.staged != nil {
		for k, amount := range v.staged.contributions {
			if k.campaignID == campaignID {
				merged[k.contributor] = amount
			}
		}
	}
	out := make([]*models.Contribution, 0, len(merged))
	for contributor, amount := range merged {
		out = append(out, &models.Contribution{CampaignID: campaignID, Contributor: contributor, Amount: amount})
	}
	sortContributions(out)
	return out, nil
}

func (v *memoryView) FeePool(_ context.Context) (decimal.Decimal, error) {
	if v.staged != nil && v.staged.feePool != nil {
		return *v.staged.feePool, nil
	}
	pool := decimal.Zero
	v.committed(func(st *state) {
		if st.feePool != nil {
			pool = *st.feePool
		}
	})
	return pool, nil
}

func (v *memoryView) SaveFeePool(_ context.Context, amount decimal.Decimal) error {
	v.target().feePool = &amount
	return nil
}

func (v *memoryView) CreateTransfer(ctx context.Context, transfer *models.Transfer) error {
	if _, err := v.FindTransfer(ctx, transfer.ID); err == nil {
		return fmt.Errorf("transfer %s: %w", transfer.ID, sentinel.ErrConflict)
	}
	v.target().transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (v *memoryView) UpdateTransfer(ctx context.Context, transfer *models.Transfer) error {
	if _, err := v.FindTransfer(ctx, transfer.ID); err != nil {
		return err
	}
	v.target().transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (v *memoryView) FindTransfer(_ context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	if v.staged != nil {
		if t, ok := v.staged.transfers[transferID]; ok {
			return cloneTransfer(t), nil
		}
	}
	var found *models.Transfer
	v.committed(func(st *state) {
		if t, ok := st.transfers[transferID]; ok {
			found = cloneTransfer(t)
		}
	})
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return found, nil
}

func (v *memoryView) ListPendingTransfers(_ context.Context) ([]*models.Transfer, error) {
	merged := make(map[uuid.UUID]*models.Transfer)
	v.committed(func(st *state) {
		for k, t := range st.transfers {
			merged[k] = t
		}
	})
	if v.staged != nil {
		for k, t := range v.staged.transfers {
			merged[k] = t
		}
	}
	out := make([]*models.Transfer, 0)
	for _, t := range merged {
		if t.IsPending() {
			out = append(out, cloneTransfer(t))
		}
	}
	slices.SortFunc(out, func(a, b *models.Transfer) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (v *memoryView) AppendEvent(_ context.Context, event *models.Event) error {
	var committedCount int
	v.committed(func(st *state) { committedCount = len(st.events) })
	seq := uint64(committedCount) + 1
	if v.staged != nil {
		seq += uint64(len(v.staged.events))
	}
	event.Seq = seq
	t := v.target()
	t.events = append(t.events, cloneEvent(event))
	return nil
}

func (v *memoryView) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]*models.Event, error) {
	var all []*models.Event
	v.committed(func(st *state) {
		all = slices.Clone(st.events)
	})
	if v.staged != nil {
		all = append(all, v.staged.events...)
	}
	// Seq n lives at index n-1.
	if afterSeq >= uint64(len(all)) {
		return []*models.Event{}, nil
	}
	window := all[afterSeq:]
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	out := make([]*models.Event, 0, len(window))
	for _, e := range window {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}
