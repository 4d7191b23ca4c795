//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"crowdledger/internal/ledger/custody"
	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/ports"
	"crowdledger/internal/ledger/service"
	"crowdledger/internal/ledger/store"
	id "crowdledger/pkg/domain"
	"crowdledger/pkg/platform/sentinel"
	"crowdledger/pkg/requestcontext"
	"crowdledger/pkg/testutil/containers"
)

var (
	alice = id.MustIdentity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob   = id.MustIdentity("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	carol = id.MustIdentity("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
)

var errAbort = errors.New("abort")

type PostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.Postgres
	tx    *store.PostgresTx
	ctx   context.Context
	now   time.Time
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.tx = store.NewPostgresTx(s.store)
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.Reset(s.ctx))
}

func (s *PostgresSuite) createCampaign(creator id.Identity) id.CampaignID {
	var campaignID id.CampaignID
	err := s.tx.RunInTx(s.ctx, func(st ports.Store) error {
		next, err := st.NextCampaignID(s.ctx)
		if err != nil {
			return err
		}
		campaignID = next
		c, err := models.NewCampaign(next, creator, models.CampaignParams{
			Title:           "t",
			Description:     "d",
			GoalAmount:      decimal.NewFromInt(100),
			DurationSeconds: models.MinCampaignDurationSeconds,
		}, s.now)
		if err != nil {
			return err
		}
		return st.CreateCampaign(s.ctx, c)
	})
	s.Require().NoError(err)
	return campaignID
}

func (s *PostgresSuite) TestEnsureOwner() {
	s.Require().NoError(s.store.EnsureOwner(s.ctx, alice))
	s.Require().NoError(s.store.EnsureOwner(s.ctx, alice), "same owner is idempotent")
	s.ErrorIs(s.store.EnsureOwner(s.ctx, bob), sentinel.ErrOwnerMismatch)
}

func (s *PostgresSuite) TestCampaignIDs() {
	s.Equal(id.CampaignID(1), s.createCampaign(alice))
	s.Equal(id.CampaignID(2), s.createCampaign(bob))

	err := s.tx.RunInTx(s.ctx, func(st ports.Store) error {
		_, err := st.NextCampaignID(s.ctx)
		s.Require().NoError(err)
		return errAbort
	})
	s.ErrorIs(err, errAbort)
	s.Equal(id.CampaignID(3), s.createCampaign(alice), "rolled back allocation is reused")

	err = s.store.CreateCampaign(s.ctx, &models.Campaign{ID: 99, Creator: alice})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresSuite) TestCampaignQueries() {
	first := s.createCampaign(alice)
	second := s.createCampaign(bob)
	third := s.createCampaign(alice)

	c, err := s.store.FindCampaign(s.ctx, second)
	s.Require().NoError(err)
	s.Equal(bob, c.Creator)
	s.True(decimal.NewFromInt(100).Equal(c.GoalAmount))
	s.Equal(models.CampaignStatusActive, c.Status)
	s.True(c.Deadline.Equal(s.now.Add(time.Duration(models.MinCampaignDurationSeconds) * time.Second)))

	_, err = s.store.FindCampaign(s.ctx, 42)
	s.ErrorIs(err, sentinel.ErrNotFound)

	list, err := s.store.FindCampaigns(s.ctx, []id.CampaignID{third, first})
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(third, list[0].ID)
	s.Equal(first, list[1].ID)

	_, err = s.store.FindCampaigns(s.ctx, []id.CampaignID{first, 42})
	s.ErrorIs(err, sentinel.ErrNotFound)

	byAlice, err := s.store.ListCampaignsByCreator(s.ctx, alice)
	s.Require().NoError(err)
	s.Len(byAlice, 2)

	count, err := s.store.CountCampaignsByCreator(s.ctx, carol)
	s.Require().NoError(err)
	s.Zero(count)

	total, err := s.store.CountCampaigns(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, total)
}

func (s *PostgresSuite) TestContributionsAndFeePool() {
	campaignID := s.createCampaign(alice)

	err := s.tx.RunInTx(s.ctx, func(st ports.Store) error {
		for _, c := range []*models.Contribution{
			{CampaignID: campaignID, Contributor: carol, Amount: decimal.NewFromInt(3)},
			{CampaignID: campaignID, Contributor: bob, Amount: decimal.NewFromInt(2)},
			{CampaignID: campaignID, Contributor: bob, Amount: decimal.NewFromInt(4)},
		} {
			if err := st.SaveContribution(s.ctx, c); err != nil {
				return err
			}
		}
		return st.SaveFeePool(s.ctx, decimal.RequireFromString("123456789012345678901234567890"))
	})
	s.Require().NoError(err)

	amount, err := s.store.FindContribution(s.ctx, campaignID, bob)
	s.Require().NoError(err)
	s.Equal("4", amount.String(), "save overwrites the cumulative amount")

	missing, err := s.store.FindContribution(s.ctx, campaignID, alice)
	s.Require().NoError(err)
	s.True(missing.IsZero())

	list, err := s.store.ListContributions(s.ctx, campaignID)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(carol, list[0].Contributor, "ordered by address bytes")

	pool, err := s.store.FeePool(s.ctx)
	s.Require().NoError(err)
	s.Equal("123456789012345678901234567890", pool.String())
}

func (s *PostgresSuite) TestRollbackDiscardsWrites() {
	campaignID := s.createCampaign(alice)

	err := s.tx.RunInTx(s.ctx, func(st ports.Store) error {
		s.Require().NoError(st.SaveContribution(s.ctx, &models.Contribution{
			CampaignID: campaignID, Contributor: bob, Amount: decimal.NewFromInt(5),
		}))
		s.Require().NoError(st.AppendEvent(s.ctx, &models.Event{Type: models.EventContributionReceived}))
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	amount, err := s.store.FindContribution(s.ctx, campaignID, bob)
	s.Require().NoError(err)
	s.True(amount.IsZero())

	events, err := s.store.ListEvents(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *PostgresSuite) TestEventsAndRelayCursor() {
	for i := 0; i < 3; i++ {
		err := s.tx.RunInTx(s.ctx, func(st ports.Store) error {
			return st.AppendEvent(s.ctx, &models.Event{Type: models.EventContributionReceived, Actor: bob, Amount: decimal.NewFromInt(int64(i + 1))})
		})
		s.Require().NoError(err)
	}

	events, err := s.store.ListEvents(s.ctx, 1, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(uint64(2), events[0].Seq)
	s.Equal(bob, events[0].Actor)
	s.Equal("3", events[1].Amount.String())

	s.Require().NoError(s.store.SaveRelayCursor(s.ctx, 2))
	s.Require().NoError(s.store.SaveRelayCursor(s.ctx, 1))
	cursor, err := s.store.RelayCursor(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(2), cursor, "cursor never moves backwards")
}

func (s *PostgresSuite) TestTransfers() {
	pending := models.NewTransfer(models.TransferKindRefund, 0, bob, decimal.NewFromInt(5), decimal.Zero, s.now)
	done := models.NewTransfer(models.TransferKindPlatformFee, 0, alice, decimal.NewFromInt(9), decimal.Zero, s.now)
	s.Require().NoError(s.store.CreateTransfer(s.ctx, pending))
	s.Require().NoError(s.store.CreateTransfer(s.ctx, done))
	s.Require().NoError(done.Complete(s.now.Add(time.Second)))
	s.Require().NoError(s.store.UpdateTransfer(s.ctx, done))

	s.ErrorIs(s.store.CreateTransfer(s.ctx, pending), sentinel.ErrConflict)

	list, err := s.store.ListPendingTransfers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(pending.ID, list[0].ID)

	found, err := s.store.FindTransfer(s.ctx, done.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferStatusCompleted, found.Status)
	s.Require().NotNil(found.SettledAt)
}

func (s *PostgresSuite) TestConcurrentTransactionsSerialize() {
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.tx.RunInTx(s.ctx, func(st ports.Store) error {
				pool, err := st.FeePool(s.ctx)
				if err != nil {
					return err
				}
				return st.SaveFeePool(s.ctx, pool.Add(decimal.NewFromInt(1)))
			})
		}()
	}
	wg.Wait()

	pool, err := s.store.FeePool(s.ctx)
	s.Require().NoError(err)
	s.Equal("20", pool.String())
}

func (s *PostgresSuite) TestServiceEndToEnd() {
	vault := custody.NewVault()
	svc, err := service.New(s.store, s.tx, vault, bob)
	s.Require().NoError(err)

	ctx := requestcontext.WithTime(s.ctx, s.now)
	goal := decimal.NewFromInt(1000)
	campaignID, err := svc.CreateCampaign(ctx, alice, models.CampaignParams{
		Title:                 "Library roof",
		Description:           "Tiles",
		GoalAmount:            goal,
		DurationSeconds:       models.MinCampaignDurationSeconds,
		PlatformFeePercentage: 3,
	})
	s.Require().NoError(err)
	s.Require().NoError(svc.Contribute(ctx, campaignID, carol, goal))

	withdrawal, err := svc.WithdrawFunds(ctx, campaignID, alice)
	s.Require().NoError(err)
	s.Equal("970", withdrawal.Payout.String())
	s.Equal("30", withdrawal.Fee.String())

	fees, err := svc.WithdrawPlatformFees(ctx, bob)
	s.Require().NoError(err)
	s.Equal("30", fees.String())

	pending, err := s.store.ListPendingTransfers(s.ctx)
	s.Require().NoError(err)
	s.Empty(pending)
	s.True(decimal.NewFromInt(1000).Equal(vault.TotalPaid()))
}
