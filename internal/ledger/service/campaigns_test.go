package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

// =============================================================================
// CreateCampaign
// =============================================================================

func (s *ServiceSuite) TestCreateCampaign() {
	s.Run("assigns sequential ids and records terms", func() {
		first := s.createCampaign(eth("10"), 3)
		second := s.createCampaign(eth("5"), 0)
		s.Equal(id.CampaignID(1), first)
		s.Equal(id.CampaignID(2), second)

		c := s.campaign(first)
		s.Equal(creator, c.Creator)
		s.Equal(models.CampaignStatusActive, c.Status)
		s.True(c.AmountRaised.IsZero())
		s.Equal(s.start.Add(7*24*time.Hour), c.Deadline)
		s.Equal(3, c.PlatformFeePercentage)
		s.Equal(2.0, testutil.ToFloat64(s.metrics.CampaignsCreated))
	})

	s.Run("emits CampaignCreated", func() {
		events, err := s.svc.ListEvents(context.Background(), 0, 1)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(models.EventCampaignCreated, events[0].Type)
		s.Equal(creator, events[0].Actor)
		s.equalAmount(eth("10"), events[0].GoalAmount)
	})
}

func (s *ServiceSuite) TestCreateCampaign_Validation() {
	base := models.CampaignParams{
		Title:                 "t",
		Description:           "d",
		GoalAmount:            eth("1"),
		DurationSeconds:       week,
		PlatformFeePercentage: 3,
	}
	cases := []struct {
		name   string
		mutate func(p *models.CampaignParams)
		msg    string
	}{
		{"empty title", func(p *models.CampaignParams) { p.Title = "" }, "title required"},
		{"empty description", func(p *models.CampaignParams) { p.Description = "" }, "description required"},
		{"zero goal", func(p *models.CampaignParams) { p.GoalAmount = decimal.Zero }, "goal must be positive"},
		{"six days", func(p *models.CampaignParams) { p.DurationSeconds = 6 * 24 * 60 * 60 }, "duration too short"},
		{"fee 101", func(p *models.CampaignParams) { p.PlatformFeePercentage = 101 }, "bad fee"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			p := base
			tc.mutate(&p)
			_, err := s.svc.CreateCampaign(s.ctx(), creator, p)
			s.requireCode(err, dErrors.CodeInvalidInput, tc.msg)
		})
	}

	s.Run("rejections leave no trace", func() {
		total, err := s.svc.GetTotalCampaigns(context.Background())
		s.Require().NoError(err)
		s.Zero(total)
		s.Empty(s.eventTypes())
	})

	s.Run("anonymous caller is unauthorized", func() {
		_, err := s.svc.CreateCampaign(s.ctx(), id.Identity{}, base)
		s.requireCode(err, dErrors.CodeUnauthorized, "")
	})

	s.Run("next valid creation still gets id 1", func() {
		s.Equal(id.CampaignID(1), s.createCampaign(eth("1"), 0))
	})
}

// =============================================================================
// Queries
// =============================================================================

func (s *ServiceSuite) TestQueries() {
	first := s.createCampaign(eth("10"), 3)
	second := s.createCampaign(eth("20"), 3)
	otherID, err := s.svc.CreateCampaign(s.ctx(), alice, models.CampaignParams{
		Title: "t", Description: "d", GoalAmount: eth("1"), DurationSeconds: week,
	})
	s.Require().NoError(err)

	s.Run("unknown campaign is not found", func() {
		_, err := s.svc.GetCampaign(context.Background(), 999)
		s.requireCode(err, dErrors.CodeNotFound, "campaign not found")
	})

	s.Run("contribution reads zero for non-contributors", func() {
		s.True(s.contribution(first, bob).IsZero())
		_, err := s.svc.GetContribution(context.Background(), 999, bob)
		s.requireCode(err, dErrors.CodeNotFound, "")
	})

	s.Run("counts per creator", func() {
		n, err := s.svc.GetUserTotalCampaigns(context.Background(), creator)
		s.Require().NoError(err)
		s.Equal(2, n)

		n, err = s.svc.GetUserTotalCampaigns(context.Background(), bob)
		s.Require().NoError(err)
		s.Zero(n)

		total, err := s.svc.GetTotalCampaigns(context.Background())
		s.Require().NoError(err)
		s.Equal(3, total)
	})

	s.Run("lists by creator in id order", func() {
		list, err := s.svc.ListCampaignsByCreator(context.Background(), creator)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(first, list[0].ID)
		s.Equal(second, list[1].ID)

		all, err := s.svc.ListCampaigns(context.Background())
		s.Require().NoError(err)
		s.Len(all, 3)
	})

	s.Run("batch returns requested order and fails on unknown ids", func() {
		list, err := s.svc.GetCampaignsBatch(context.Background(), []id.CampaignID{otherID, first})
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(alice, list[0].Creator)

		_, err = s.svc.GetCampaignsBatch(context.Background(), []id.CampaignID{first, 999})
		s.requireCode(err, dErrors.CodeNotFound, "")

		empty, err := s.svc.GetCampaignsBatch(context.Background(), nil)
		s.Require().NoError(err)
		s.Empty(empty)

		tooMany := make([]id.CampaignID, maxBatchSize+1)
		_, err = s.svc.GetCampaignsBatch(context.Background(), tooMany)
		s.requireCode(err, dErrors.CodeInvalidInput, "")
	})

	s.Run("fee pool starts empty", func() {
		s.True(s.feePool().IsZero())
	})
}
