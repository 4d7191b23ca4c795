// Package access holds the ledger's role checks. The platform owner is fixed when
// the ledger is created; creators are whoever created a campaign.
package access

import (
	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

// Control answers role questions for one ledger instance.
type Control struct {
	owner id.Identity
}

// New fixes the platform owner. The zero identity is rejected.
func New(owner id.Identity) (*Control, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "platform owner required")
	}
	return &Control{owner: owner}, nil
}

// Owner returns the platform owner.
func (c *Control) Owner() id.Identity {
	return c.owner
}

func (c *Control) IsPlatformOwner(caller id.Identity) bool {
	return !caller.IsNil() && caller == c.owner
}

// RequirePlatformOwner rejects callers other than the platform owner.
func (c *Control) RequirePlatformOwner(caller id.Identity) error {
	if !c.IsPlatformOwner(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "only platform owner")
	}
	return nil
}

// RequireCreator rejects callers other than the campaign creator.
func (c *Control) RequireCreator(campaign *models.Campaign, caller id.Identity) error {
	if caller.IsNil() || campaign.Creator != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "only creator")
	}
	return nil
}
