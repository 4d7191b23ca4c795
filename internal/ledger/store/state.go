// Package store holds the ledger's persistence backends: an in-memory store for
// tests and single-node deployments, and a Postgres store for durable ledgers.
// Both expose the same serialized transaction boundary through RunInTx.
package store

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
)

type contributionKey struct {
	campaignID  id.CampaignID
	contributor id.Identity
}

// state is one snapshot layer of ledger data. The committed store owns one; each
// in-memory transaction stages writes in another and merges it on commit.
type state struct {
	lastCampaignID uint64
	campaigns      map[id.CampaignID]*models.Campaign
	contributions  map[contributionKey]decimal.Decimal
	feePool        *decimal.Decimal
	transfers      map[uuid.UUID]*models.Transfer
	events         []*models.Event
}

func newState() *state {
	return &state{
		campaigns:     make(map[id.CampaignID]*models.Campaign),
		contributions: make(map[contributionKey]decimal.Decimal),
		transfers:     make(map[uuid.UUID]*models.Transfer),
	}
}

// mergeInto applies the staged layer s onto base.
func (s *state) mergeInto(base *state) {
	if s.lastCampaignID > base.lastCampaignID {
		base.lastCampaignID = s.lastCampaignID
	}
	for k, v := range s.campaigns {
		base.campaigns[k] = v
	}
	for k, v := range s.contributions {
		base.contributions[k] = v
	}
	if s.feePool != nil {
		pool := *s.feePool
		base.feePool = &pool
	}
	for k, v := range s.transfers {
		base.transfers[k] = v
	}
	base.events = append(base.events, s.events...)
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	return &cp
}

func cloneTransfer(t *models.Transfer) *models.Transfer {
	cp := *t
	if t.SettledAt != nil {
		settled := *t.SettledAt
		cp.SettledAt = &settled
	}
	return &cp
}

func cloneEvent(e *models.Event) *models.Event {
	cp := *e
	return &cp
}

func sortContributions(list []*models.Contribution) {
	slices.SortFunc(list, func(a, b *models.Contribution) int {
		return bytes.Compare(a.Contributor[:], b.Contributor[:])
	})
}
