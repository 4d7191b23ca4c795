package domain

import (
	"strconv"

	dErrors "crowdledger/pkg/domain-errors"
)

// CampaignID identifies a campaign. Ids are assigned sequentially starting at 1;
// zero never names a campaign.
type CampaignID uint64

// ParseCampaignID parses a decimal campaign id.
func ParseCampaignID(s string) (CampaignID, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "campaign id required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid campaign id")
	}
	return CampaignID(v), nil
}

func (c CampaignID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// IsNil reports whether the id is unset.
func (c CampaignID) IsNil() bool {
	return c == 0
}
