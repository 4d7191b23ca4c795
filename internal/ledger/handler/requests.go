package handler

import (
	"strings"

	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10_000
	maxAmountLength      = 100
)

// CreateCampaignRequest is the body of POST /v1/campaigns. Amounts are decimal
// strings in base units so that values above 2^53 survive JSON.
type CreateCampaignRequest struct {
	Title                 string `json:"title"`
	Description           string `json:"description"`
	GoalAmount            string `json:"goal_amount"`
	DurationSeconds       int64  `json:"duration_seconds"`
	PlatformFeePercentage int    `json:"platform_fee_percentage"`

	goal decimal.Decimal
}

// Validate checks sizes and syntax. Ledger rules are enforced by the service.
func (r *CreateCampaignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Title) > maxTitleLength {
		return dErrors.New(dErrors.CodeInvalidInput, "title too long")
	}
	if len(r.Description) > maxDescriptionLength {
		return dErrors.New(dErrors.CodeInvalidInput, "description too long")
	}
	goal, err := parseAmount(r.GoalAmount)
	if err != nil {
		return err
	}
	r.goal = goal
	return nil
}

// Params converts the validated request into service parameters.
func (r *CreateCampaignRequest) Params() models.CampaignParams {
	return models.CampaignParams{
		Title:                 r.Title,
		Description:           r.Description,
		GoalAmount:            r.goal,
		DurationSeconds:       r.DurationSeconds,
		PlatformFeePercentage: r.PlatformFeePercentage,
	}
}

// ContributeRequest is the body of POST /v1/campaigns/{id}/contributions.
type ContributeRequest struct {
	Amount string `json:"amount"`

	amount decimal.Decimal
}

func (r *ContributeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.amount = amount
	return nil
}

func (r *ContributeRequest) Value() decimal.Decimal {
	return r.amount
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAmountLength {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount too long")
	}
	return id.ParseAmount(raw)
}
