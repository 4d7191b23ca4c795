package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	id "crowdledger/pkg/domain"
)

// EventType names an observable ledger fact.
type EventType string

const (
	EventCampaignCreated       EventType = "campaign_created"
	EventCampaignStatusChanged EventType = "campaign_status_changed"
	EventContributionReceived  EventType = "contribution_received"
	EventContributionRefunded  EventType = "contribution_refunded"
	EventFundsWithdrawn        EventType = "funds_withdrawn"
	EventPlatformFeesWithdrawn EventType = "platform_fees_withdrawn"
)

// Event is an append-only ledger fact. Seq is assigned by the store on append and
// is strictly increasing in commit order. Fields not relevant to Type are zero.
type Event struct {
	Seq                   uint64          `json:"seq"`
	Type                  EventType       `json:"type"`
	CampaignID            id.CampaignID   `json:"campaign_id,omitempty"`
	Actor                 id.Identity     `json:"actor"`
	Amount                decimal.Decimal `json:"amount,omitzero"`
	Fee                   decimal.Decimal `json:"fee,omitzero"`
	Status                CampaignStatus  `json:"status,omitempty"`
	Title                 string          `json:"title,omitempty"`
	GoalAmount            decimal.Decimal `json:"goal_amount,omitzero"`
	Deadline              *time.Time      `json:"deadline,omitempty"`
	PlatformFeePercentage *int            `json:"platform_fee_percentage,omitempty"`
	TransferID            *uuid.UUID      `json:"transfer_id,omitempty"`
	OccurredAt            time.Time       `json:"occurred_at"`
}

// NewCampaignCreatedEvent records a new campaign and its fixed terms.
func NewCampaignCreatedEvent(c *Campaign) *Event {
	deadline := c.Deadline
	pct := c.PlatformFeePercentage
	return &Event{
		Type:                  EventCampaignCreated,
		CampaignID:            c.ID,
		Actor:                 c.Creator,
		Title:                 c.Title,
		GoalAmount:            c.GoalAmount,
		Deadline:              &deadline,
		PlatformFeePercentage: &pct,
		Status:                c.Status,
		OccurredAt:            c.CreatedAt,
	}
}

// NewStatusChangedEvent records the campaign leaving active.
func NewStatusChangedEvent(c *Campaign, actor id.Identity, now time.Time) *Event {
	return &Event{
		Type:       EventCampaignStatusChanged,
		CampaignID: c.ID,
		Actor:      actor,
		Status:     c.Status,
		OccurredAt: now,
	}
}

// NewContributionReceivedEvent records value added by a contributor.
func NewContributionReceivedEvent(campaignID id.CampaignID, contributor id.Identity, amount decimal.Decimal, now time.Time) *Event {
	return &Event{
		Type:       EventContributionReceived,
		CampaignID: campaignID,
		Actor:      contributor,
		Amount:     amount,
		OccurredAt: now,
	}
}

// NewContributionRefundedEvent records a completed refund transfer.
func NewContributionRefundedEvent(t *Transfer, now time.Time) *Event {
	return transferEvent(EventContributionRefunded, t, now)
}

// NewFundsWithdrawnEvent records a completed creator payout. Amount is the payout
// and Fee the platform's share.
func NewFundsWithdrawnEvent(t *Transfer, now time.Time) *Event {
	return transferEvent(EventFundsWithdrawn, t, now)
}

// NewPlatformFeesWithdrawnEvent records a completed fee pool withdrawal.
func NewPlatformFeesWithdrawnEvent(t *Transfer, now time.Time) *Event {
	return transferEvent(EventPlatformFeesWithdrawn, t, now)
}

func transferEvent(eventType EventType, t *Transfer, now time.Time) *Event {
	transferID := t.ID
	return &Event{
		Type:       eventType,
		CampaignID: t.CampaignID,
		Actor:      t.Recipient,
		Amount:     t.Amount,
		Fee:        t.Fee,
		TransferID: &transferID,
		OccurredAt: now,
	}
}
