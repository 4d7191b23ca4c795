package models

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

const (
	// MinCampaignDurationSeconds is the shortest allowed funding window (seven days).
	MinCampaignDurationSeconds int64 = 7 * 24 * 60 * 60
	// MaxFeePercentage caps the platform fee.
	MaxFeePercentage = 100

	maxCampaignDurationSeconds = math.MaxInt64 / int64(time.Second)
)

// CampaignParams are the creator-supplied fields of a new campaign.
type CampaignParams struct {
	Title                 string
	Description           string
	GoalAmount            decimal.Decimal
	DurationSeconds       int64
	PlatformFeePercentage int
}

// Campaign is the aggregate root of the ledger.
//
// Invariants:
//   - Creator, Title, Description, GoalAmount, Deadline and PlatformFeePercentage never change
//   - GoalAmount is a positive whole number of base units
//   - AmountRaised equals the sum of non-refunded contributions until a withdrawal zeroes it
//   - Status leaves active at most once; successful and failed are absorbing
//   - A campaign whose AmountRaised reached GoalAmount is successful and never failed
type Campaign struct {
	ID                    id.CampaignID   `json:"id"`
	Creator               id.Identity     `json:"creator"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	GoalAmount            decimal.Decimal `json:"goal_amount"`
	AmountRaised          decimal.Decimal `json:"amount_raised"`
	Deadline              time.Time       `json:"deadline"`
	PlatformFeePercentage int             `json:"platform_fee_percentage"`
	Status                CampaignStatus  `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewCampaign validates params and builds an active campaign with a deadline
// relative to now. Checks run in a fixed order so the first violated rule is reported.
func NewCampaign(campaignID id.CampaignID, creator id.Identity, params CampaignParams, now time.Time) (*Campaign, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if creator.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "creator identity required")
	}
	return &Campaign{
		ID:                    campaignID,
		Creator:               creator,
		Title:                 strings.TrimSpace(params.Title),
		Description:           strings.TrimSpace(params.Description),
		GoalAmount:            params.GoalAmount,
		AmountRaised:          decimal.Zero,
		Deadline:              now.Add(time.Duration(params.DurationSeconds) * time.Second),
		PlatformFeePercentage: params.PlatformFeePercentage,
		Status:                CampaignStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Validate checks creation-time rules.
func (p CampaignParams) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "title required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "description required")
	}
	if !p.GoalAmount.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "goal must be positive")
	}
	if err := id.CheckAmountRange(p.GoalAmount); err != nil {
		return err
	}
	if !id.IsWholeUnits(p.GoalAmount) {
		return dErrors.New(dErrors.CodeInvalidInput, "goal must be whole base units")
	}
	if p.DurationSeconds < MinCampaignDurationSeconds {
		return dErrors.New(dErrors.CodeInvalidInput, "duration too short")
	}
	if p.DurationSeconds > maxCampaignDurationSeconds {
		return dErrors.New(dErrors.CodeInvalidInput, "duration too long")
	}
	if p.PlatformFeePercentage < 0 || p.PlatformFeePercentage > MaxFeePercentage {
		return dErrors.New(dErrors.CodeInvalidInput, "bad fee")
	}
	return nil
}

func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// HasEnded reports whether the funding window has closed at now.
func (c *Campaign) HasEnded(now time.Time) bool {
	return !now.Before(c.Deadline)
}

// GoalReached reports whether AmountRaised has met GoalAmount.
func (c *Campaign) GoalReached() bool {
	return c.AmountRaised.GreaterThanOrEqual(c.GoalAmount)
}

// CanContribute checks the campaign side of a contribution.
// The value itself is checked by ValidateContribution afterwards.
func (c *Campaign) CanContribute(now time.Time) error {
	if !c.IsActive() {
		return dErrors.New(dErrors.CodeInvalidState, "campaign not active")
	}
	if c.HasEnded(now) {
		return dErrors.New(dErrors.CodeInvalidState, "campaign ended")
	}
	return nil
}

// ApplyContribution adds value to AmountRaised and transitions the campaign to
// successful when the goal is reached. Returns true when the status changed.
// Call CanContribute and ValidateContribution first.
func (c *Campaign) ApplyContribution(value decimal.Decimal, now time.Time) bool {
	c.AmountRaised = c.AmountRaised.Add(value)
	c.UpdatedAt = now
	if c.GoalReached() && c.Status.CanTransitionTo(CampaignStatusSuccessful) {
		c.Status = CampaignStatusSuccessful
		return true
	}
	return false
}

// CanMarkFailed checks whether the creator may close an unsuccessful campaign.
func (c *Campaign) CanMarkFailed(now time.Time) error {
	if !c.HasEnded(now) {
		return dErrors.New(dErrors.CodeInvalidState, "campaign still running")
	}
	if !c.IsActive() {
		return dErrors.New(dErrors.CodeInvalidState, "already settled")
	}
	if c.GoalReached() {
		return dErrors.New(dErrors.CodeInvalidState, "goal was met")
	}
	return nil
}

// ApplyFailure transitions the campaign to failed.
// Call CanMarkFailed first.
func (c *Campaign) ApplyFailure(now time.Time) {
	c.Status = CampaignStatusFailed
	c.UpdatedAt = now
}

// CanRefund checks whether refund claims are open.
func (c *Campaign) CanRefund() error {
	if c.Status != CampaignStatusFailed {
		return dErrors.New(dErrors.CodeInvalidState, "refunds not available")
	}
	return nil
}

// ApplyRefundReservation removes a refunded contribution from AmountRaised.
func (c *Campaign) ApplyRefundReservation(amount decimal.Decimal, now time.Time) {
	c.AmountRaised = c.AmountRaised.Sub(amount)
	c.UpdatedAt = now
}

// CanWithdraw checks whether the creator may collect the raised funds.
func (c *Campaign) CanWithdraw() error {
	if c.Status != CampaignStatusSuccessful {
		return dErrors.New(dErrors.CodeInvalidState, "campaign not successful")
	}
	if !c.AmountRaised.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidState, "funds already withdrawn")
	}
	return nil
}

// Settlement splits AmountRaised into the creator payout and the platform fee.
func (c *Campaign) Settlement() (payout, fee decimal.Decimal) {
	return SplitFee(c.AmountRaised, c.PlatformFeePercentage)
}

// ApplyWithdrawalReservation zeroes AmountRaised ahead of the payout transfer.
// Call CanWithdraw first.
func (c *Campaign) ApplyWithdrawalReservation(now time.Time) {
	c.AmountRaised = decimal.Zero
	c.UpdatedAt = now
}

// CanRaise rejects a contribution that would push AmountRaised past
// id.MaxAmount.
func (c *Campaign) CanRaise(value decimal.Decimal) error {
	if c.AmountRaised.Add(value).GreaterThan(id.MaxAmount) {
		return dErrors.New(dErrors.CodeInvalidInput, "contribution overflows campaign total")
	}
	return nil
}

// RestoreRaised adds back an amount whose outbound transfer failed.
func (c *Campaign) RestoreRaised(amount decimal.Decimal, now time.Time) {
	c.AmountRaised = c.AmountRaised.Add(amount)
	c.UpdatedAt = now
}

// ValidateContribution checks the contributed value.
func ValidateContribution(value decimal.Decimal) error {
	if !value.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "zero contribution")
	}
	if err := id.CheckAmountRange(value); err != nil {
		return err
	}
	if !id.IsWholeUnits(value) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be whole base units")
	}
	return nil
}
