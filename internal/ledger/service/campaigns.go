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

// maxBatchSize caps GetCampaignsBatch.
const maxBatchSize = 100

// CreateCampaign registers a campaign owned by caller and returns its id.
func (s *Service) CreateCampaign(ctx context.Context, caller id.Identity, params models.CampaignParams) (campaignID id.CampaignID, err error) {
	ctx, end := s.startOp(ctx, "CreateCampaign", identityAttr("caller", caller))
	defer end(&err)

	if caller.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if err := params.Validate(); err != nil {
		return 0, err
	}

	now := requestcontext.Now(ctx)
	var created *models.Campaign
	err = s.tx.RunInTx(ctx, func(store ports.Store) error {
		next, err := store.NextCampaignID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate campaign id")
		}
		campaign, err := models.NewCampaign(next, caller, params, now)
		if err != nil {
			return err
		}
		if err := store.CreateCampaign(ctx, campaign); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create campaign")
		}
		if err := store.AppendEvent(ctx, models.NewCampaignCreatedEvent(campaign)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record campaign event")
		}
		created = campaign
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.incrementCampaignsCreated()
	s.logAudit(ctx, string(models.EventCampaignCreated),
		"campaign_id", created.ID.String(),
		"creator", caller.String(),
		"goal_amount", created.GoalAmount.String(),
		"deadline", created.Deadline,
	)
	return created.ID, nil
}

// GetCampaign returns the campaign record.
func (s *Service) GetCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	campaign, err := s.store.FindCampaign(ctx, campaignID)
	if err != nil {
		return nil, wrapStoreErr(err, "campaign not found", "failed to load campaign")
	}
	return campaign, nil
}

// GetCampaignsBatch returns campaigns in the requested order. Any unknown id fails the batch.
func (s *Service) GetCampaignsBatch(ctx context.Context, campaignIDs []id.CampaignID) ([]*models.Campaign, error) {
	if len(campaignIDs) == 0 {
		return []*models.Campaign{}, nil
	}
	if len(campaignIDs) > maxBatchSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "too many campaign ids")
	}
	campaigns, err := s.store.FindCampaigns(ctx, campaignIDs)
	if err != nil {
		return nil, wrapStoreErr(err, "campaign not found", "failed to load campaigns")
	}
	return campaigns, nil
}

// ListCampaigns returns every campaign ordered by id.
func (s *Service) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	campaigns, err := s.store.ListCampaigns(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list campaigns")
	}
	return campaigns, nil
}

// ListCampaignsByCreator returns the campaigns created by creator ordered by id.
func (s *Service) ListCampaignsByCreator(ctx context.Context, creator id.Identity) ([]*models.Campaign, error) {
	campaigns, err := s.store.ListCampaignsByCreator(ctx, creator)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list campaigns")
	}
	return campaigns, nil
}

// GetTotalCampaigns returns the number of campaigns ever created.
func (s *Service) GetTotalCampaigns(ctx context.Context) (int, error) {
	count, err := s.store.CountCampaigns(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count campaigns")
	}
	return count, nil
}

// GetUserTotalCampaigns returns the number of campaigns created by creator.
func (s *Service) GetUserTotalCampaigns(ctx context.Context, creator id.Identity) (int, error) {
	count, err := s.store.CountCampaignsByCreator(ctx, creator)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count campaigns")
	}
	return count, nil
}

// GetContribution returns contributor's current contribution, zero if none.
func (s *Service) GetContribution(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return decimal.Zero, err
	}
	amount, err := s.store.FindContribution(ctx, campaignID, contributor)
	if err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contribution")
	}
	return amount, nil
}

// ListContributions returns every recorded contribution to a campaign.
func (s *Service) ListContributions(ctx context.Context, campaignID id.CampaignID) ([]*models.Contribution, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	list, err := s.store.ListContributions(ctx, campaignID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list contributions")
	}
	return list, nil
}

// GetPlatformOwner returns the fee recipient fixed at ledger creation.
func (s *Service) GetPlatformOwner() id.Identity {
	return s.access.Owner()
}

// GetPlatformTotalFees returns the unwithdrawn platform fee pool.
func (s *Service) GetPlatformTotalFees(ctx context.Context) (decimal.Decimal, error) {
	pool, err := s.store.FeePool(ctx)
	if err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fee pool")
	}
	return pool, nil
}

// ListEvents returns up to limit ledger events after the given sequence number.
func (s *Service) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.Event, error) {
	events, err := s.store.ListEvents(ctx, afterSeq, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	return events, nil
}
