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
// Contribute
// =============================================================================

func (s *ServiceSuite) TestContribute() {
	campaignID := s.createCampaign(eth("10"), 3)

	s.Run("accumulates per contributor and raises total", func() {
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("3")))
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("1")))
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("2")))

		s.equalAmount(eth("4"), s.contribution(campaignID, alice))
		s.equalAmount(eth("2"), s.contribution(campaignID, bob))
		c := s.campaign(campaignID)
		s.equalAmount(eth("6"), c.AmountRaised)
		s.Equal(models.CampaignStatusActive, c.Status)
	})

	s.Run("sum of contributions equals amount raised", func() {
		list, err := s.svc.ListContributions(context.Background(), campaignID)
		s.Require().NoError(err)
		sum := decimal.Zero
		for _, c := range list {
			sum = sum.Add(c.Amount)
		}
		s.equalAmount(s.campaign(campaignID).AmountRaised, sum)
	})

	s.Run("reaching the goal transitions inline", func() {
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("4")))
		c := s.campaign(campaignID)
		s.Equal(models.CampaignStatusSuccessful, c.Status)
		s.equalAmount(eth("10"), c.AmountRaised)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.StatusChanges.WithLabelValues("successful")))
	})

	s.Run("successful campaign no longer accepts value", func() {
		err := s.svc.Contribute(s.ctx(), campaignID, alice, eth("1"))
		s.requireCode(err, dErrors.CodeInvalidState, "campaign not active")
	})

	s.Run("events follow operation order", func() {
		s.Equal([]models.EventType{
			models.EventCampaignCreated,
			models.EventContributionReceived,
			models.EventContributionReceived,
			models.EventContributionReceived,
			models.EventContributionReceived,
			models.EventCampaignStatusChanged,
		}, s.eventTypes())
	})
}

func (s *ServiceSuite) TestContribute_CheckOrder() {
	campaignID := s.createCampaign(eth("10"), 3)

	s.Run("unknown campaign beats zero value", func() {
		err := s.svc.Contribute(s.ctx(), 999, alice, decimal.Zero)
		s.requireCode(err, dErrors.CodeNotFound, "campaign not found")
	})

	s.Run("ended campaign beats zero value", func() {
		err := s.svc.Contribute(s.afterDeadline(campaignID), campaignID, alice, decimal.Zero)
		s.requireCode(err, dErrors.CodeInvalidState, "campaign ended")
	})

	s.Run("exactly at the deadline is ended", func() {
		c := s.campaign(campaignID)
		err := s.svc.Contribute(s.at(c.Deadline), campaignID, alice, eth("1"))
		s.requireCode(err, dErrors.CodeInvalidState, "campaign ended")

		s.Require().NoError(s.svc.Contribute(s.at(c.Deadline.Add(-time.Second)), campaignID, alice, eth("1")))
	})

	s.Run("zero value", func() {
		err := s.svc.Contribute(s.ctx(), campaignID, alice, decimal.Zero)
		s.requireCode(err, dErrors.CodeInvalidInput, "zero contribution")
	})

	s.Run("fractional base units", func() {
		err := s.svc.Contribute(s.ctx(), campaignID, alice, decimal.RequireFromString("0.5"))
		s.requireCode(err, dErrors.CodeInvalidInput, "")
	})

	s.Run("anonymous contributor", func() {
		err := s.svc.Contribute(s.ctx(), campaignID, id.Identity{}, eth("1"))
		s.requireCode(err, dErrors.CodeUnauthorized, "")
	})

	s.Run("rejections change nothing", func() {
		s.equalAmount(eth("1"), s.campaign(campaignID).AmountRaised)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.ContributionsReceived))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Rejections.WithLabelValues("Contribute", "not_found")))
	})
}

func (s *ServiceSuite) TestContribute_AmountBounds() {
	s.Run("exponent-form goal is rejected without expanding it", func() {
		_, err := s.svc.CreateCampaign(s.ctx(), creator, models.CampaignParams{
			Title:           "t",
			Description:     "d",
			GoalAmount:      decimal.New(1, 5_000_000),
			DurationSeconds: models.MinCampaignDurationSeconds,
		})
		s.requireCode(err, dErrors.CodeInvalidInput, "amount out of range")
	})

	s.Run("raised total cannot pass max amount", func() {
		campaignID := s.createCampaign(id.MaxAmount, 0)
		near := id.MaxAmount.Sub(eth("1"))
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, near))

		err := s.svc.Contribute(s.ctx(), campaignID, bob, eth("2"))
		s.requireCode(err, dErrors.CodeInvalidInput, "contribution overflows campaign total")
		s.equalAmount(near, s.campaign(campaignID).AmountRaised)
		s.True(s.contribution(campaignID, bob).IsZero())

		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("1")))
		s.Equal(models.CampaignStatusSuccessful, s.campaign(campaignID).Status)
	})
}
