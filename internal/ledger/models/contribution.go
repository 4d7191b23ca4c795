package models

import (
	"github.com/shopspring/decimal"

	id "crowdledger/pkg/domain"
)

// Contribution is the cumulative value one contributor has put into one campaign.
// A refunded contribution reads as zero.
type Contribution struct {
	CampaignID  id.CampaignID   `json:"campaign_id"`
	Contributor id.Identity     `json:"contributor"`
	Amount      decimal.Decimal `json:"amount"`
}
