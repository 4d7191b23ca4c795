package service

import (
	"context"

	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/ports"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
	"crowdledger/pkg/requestcontext"
)

// Contribute adds value from contributor to an active campaign. Reaching the
// goal moves the campaign to successful in the same transaction.
// Checks run in order: existence, status, deadline, value.
func (s *Service) Contribute(ctx context.Context, campaignID id.CampaignID, contributor id.Identity, value decimal.Decimal) (err error) {
	ctx, end := s.startOp(ctx, "Contribute", campaignAttr(campaignID), identityAttr("contributor", contributor))
	defer end(&err)

	if contributor.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	now := requestcontext.Now(ctx)
	var goalReached bool
	err = s.tx.RunInTx(ctx, func(store ports.Store) error {
		campaign, err := store.FindCampaign(ctx, campaignID)
		if err != nil {
			return wrapStoreErr(err, "campaign not found", "failed to load campaign")
		}
		if err := campaign.CanContribute(now); err != nil {
			return err
		}
		if err := models.ValidateContribution(value); err != nil {
			return err
		}
		if err := campaign.CanRaise(value); err != nil {
			return err
		}

		current, err := store.FindContribution(ctx, campaignID, contributor)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contribution")
		}
		if err := store.SaveContribution(ctx, &models.Contribution{
			CampaignID:  campaignID,
			Contributor: contributor,
			Amount:      current.Add(value),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save contribution")
		}

		goalReached = campaign.ApplyContribution(value, now)
		if err := store.UpdateCampaign(ctx, campaign); err != nil {
			return wrapStoreErr(err, "campaign not found", "failed to update campaign")
		}

		if err := store.AppendEvent(ctx, models.NewContributionReceivedEvent(campaignID, contributor, value, now)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record contribution event")
		}
		if goalReached {
			if err := store.AppendEvent(ctx, models.NewStatusChangedEvent(campaign, contributor, now)); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record status event")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.incrementContributions()
	s.logAudit(ctx, string(models.EventContributionReceived),
		"campaign_id", campaignID.String(),
		"contributor", contributor.String(),
		"amount", value.String(),
	)
	if goalReached {
		s.incrementStatusChange(string(models.CampaignStatusSuccessful))
		s.logAudit(ctx, string(models.EventCampaignStatusChanged),
			"campaign_id", campaignID.String(),
			"status", string(models.CampaignStatusSuccessful),
		)
	}
	return nil
}
