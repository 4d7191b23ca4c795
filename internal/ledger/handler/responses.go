package handler

import (
	"time"

	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/service"
)

// CampaignResponse is the public view of a campaign.
type CampaignResponse struct {
	ID                    string    `json:"id"`
	Creator               string    `json:"creator"`
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	GoalAmount            string    `json:"goal_amount"`
	AmountRaised          string    `json:"amount_raised"`
	Deadline              time.Time `json:"deadline"`
	PlatformFeePercentage int       `json:"platform_fee_percentage"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func toCampaignResponse(c *models.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:                    c.ID.String(),
		Creator:               c.Creator.String(),
		Title:                 c.Title,
		Description:           c.Description,
		GoalAmount:            c.GoalAmount.String(),
		AmountRaised:          c.AmountRaised.String(),
		Deadline:              c.Deadline.UTC(),
		PlatformFeePercentage: c.PlatformFeePercentage,
		Status:                string(c.Status),
		CreatedAt:             c.CreatedAt.UTC(),
		UpdatedAt:             c.UpdatedAt.UTC(),
	}
}

type CampaignListResponse struct {
	Campaigns []CampaignResponse `json:"campaigns"`
}

func toCampaignList(list []*models.Campaign) CampaignListResponse {
	out := make([]CampaignResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCampaignResponse(c))
	}
	return CampaignListResponse{Campaigns: out}
}

type CreateCampaignResponse struct {
	ID string `json:"id"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ContributionResponse struct {
	CampaignID  string `json:"campaign_id"`
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
}

type ContributionListResponse struct {
	Contributions []ContributionResponse `json:"contributions"`
}

func toContributionList(list []*models.Contribution) ContributionListResponse {
	out := make([]ContributionResponse, 0, len(list))
	for _, c := range list {
		out = append(out, ContributionResponse{
			CampaignID:  c.CampaignID.String(),
			Contributor: c.Contributor.String(),
			Amount:      c.Amount.String(),
		})
	}
	return ContributionListResponse{Contributions: out}
}

// AmountResponse reports a transferred or pooled amount.
type AmountResponse struct {
	Amount string `json:"amount"`
}

type WithdrawalResponse struct {
	TransferID string `json:"transfer_id"`
	Payout     string `json:"payout"`
	Fee        string `json:"fee"`
}

func toWithdrawalResponse(w *service.Withdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		TransferID: w.TransferID,
		Payout:     w.Payout.String(),
		Fee:        w.Fee.String(),
	}
}

type OwnerResponse struct {
	Owner string `json:"owner"`
}

type TransferListResponse struct {
	Transfers []*models.Transfer `json:"transfers"`
}

type EventListResponse struct {
	Events    []*models.Event `json:"events"`
	NextAfter uint64          `json:"next_after"`
}
