package models

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusSuccessful CampaignStatus = "successful"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusSuccessful, CampaignStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is absorbing.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusSuccessful || s == CampaignStatusFailed
}

// CanTransitionTo allows only Active → Successful and Active → Failed.
func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	return s == CampaignStatusActive && target.IsTerminal()
}

func (s CampaignStatus) String() string {
	return string(s)
}
