package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"crowdledger/internal/ledger/custody"
	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/ports"
	"crowdledger/internal/ledger/ports/mocks"
	"crowdledger/internal/ledger/store"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
)

// =============================================================================
// Successful campaign: withdraw and platform fees
// =============================================================================

func (s *ServiceSuite) TestWithdrawFunds() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("7")))
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("5")))
	s.Equal(models.CampaignStatusSuccessful, s.campaign(campaignID).Status)

	s.Run("only the creator", func() {
		_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, alice)
		s.requireCode(err, dErrors.CodeUnauthorized, "only creator")
	})

	s.Run("pays raised minus fee and credits the pool", func() {
		result, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
		s.Require().NoError(err)
		s.equalAmount(eth("11.64"), result.Payout)
		s.equalAmount(eth("0.36"), result.Fee)
		s.NotEmpty(result.TransferID)

		s.equalAmount(eth("11.64"), s.vault.Balance(creator))
		s.equalAmount(eth("0.36"), s.feePool())
		c := s.campaign(campaignID)
		s.True(c.AmountRaised.IsZero())
	})

	s.Run("second withdrawal is rejected", func() {
		_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
		s.requireCode(err, dErrors.CodeInvalidState, "funds already withdrawn")
		s.equalAmount(eth("11.64"), s.vault.Balance(creator))
	})

	s.Run("contributions stay on record after withdrawal", func() {
		s.equalAmount(eth("7"), s.contribution(campaignID, alice))
		s.equalAmount(eth("5"), s.contribution(campaignID, bob))
	})

	s.Run("metrics", func() {
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Transfers.WithLabelValues("payout", "completed")))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Rejections.WithLabelValues("WithdrawFunds", "unauthorized")))
	})
}

func (s *ServiceSuite) TestWithdrawFunds_NotSuccessful() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("1")))

	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.requireCode(err, dErrors.CodeInvalidState, "campaign not successful")

	_, err = s.svc.WithdrawFunds(s.ctx(), 42, creator)
	s.requireCode(err, dErrors.CodeNotFound, "campaign not found")
}

func (s *ServiceSuite) TestWithdrawPlatformFees() {
	s.Run("owner check comes before the empty pool", func() {
		_, err := s.svc.WithdrawPlatformFees(s.ctx(), creator)
		s.requireCode(err, dErrors.CodeUnauthorized, "only platform owner")

		_, err = s.svc.WithdrawPlatformFees(s.ctx(), owner)
		s.requireCode(err, dErrors.CodeInvalidState, "nothing to withdraw")
	})

	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("12")))
	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.Require().NoError(err)

	s.Run("pays the whole pool to the owner", func() {
		amount, err := s.svc.WithdrawPlatformFees(s.ctx(), owner)
		s.Require().NoError(err)
		s.equalAmount(eth("0.36"), amount)
		s.equalAmount(eth("0.36"), s.vault.Balance(owner))
		s.True(s.feePool().IsZero())
	})

	s.Run("pool empty again", func() {
		_, err := s.svc.WithdrawPlatformFees(s.ctx(), owner)
		s.requireCode(err, dErrors.CodeInvalidState, "nothing to withdraw")
	})

	s.Run("value is conserved", func() {
		s.equalAmount(eth("12"), s.vault.TotalPaid())
	})
}

func (s *ServiceSuite) TestWithdrawPlatformFees_AccumulatesAcrossCampaigns() {
	first := s.createCampaign(eth("10"), 3)
	second := s.createCampaign(eth("99"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), first, alice, eth("10")))
	s.Require().NoError(s.svc.Contribute(s.ctx(), second, bob, eth("99")))

	_, err := s.svc.WithdrawFunds(s.ctx(), first, creator)
	s.Require().NoError(err)
	_, err = s.svc.WithdrawFunds(s.ctx(), second, creator)
	s.Require().NoError(err)

	s.equalAmount(eth("0.3").Add(eth("2.97")), s.feePool())
}

// =============================================================================
// Failed campaign: mark failed and claim refunds
// =============================================================================

func (s *ServiceSuite) TestRefundFlow() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("3")))
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("2")))
	ended := s.afterDeadline(campaignID)

	s.Run("claims before failure are rejected", func() {
		_, err := s.svc.ClaimRefund(ended, campaignID, alice)
		s.requireCode(err, dErrors.CodeInvalidState, "refunds not available")
	})

	s.Run("only the creator marks failure", func() {
		err := s.svc.RefundContributors(ended, campaignID, alice)
		s.requireCode(err, dErrors.CodeUnauthorized, "only creator")
	})

	s.Run("creator marks failure after the deadline", func() {
		s.Require().NoError(s.svc.RefundContributors(ended, campaignID, creator))
		s.Equal(models.CampaignStatusFailed, s.campaign(campaignID).Status)
		s.True(s.vault.TotalPaid().IsZero())
	})

	s.Run("failure is recorded once", func() {
		err := s.svc.RefundContributors(ended, campaignID, creator)
		s.requireCode(err, dErrors.CodeInvalidState, "already settled")
	})

	s.Run("failed campaign takes no contributions", func() {
		err := s.svc.Contribute(s.ctx(), campaignID, alice, eth("1"))
		s.requireCode(err, dErrors.CodeInvalidState, "campaign not active")
	})

	s.Run("each contributor claims their own contribution", func() {
		amount, err := s.svc.ClaimRefund(ended, campaignID, alice)
		s.Require().NoError(err)
		s.equalAmount(eth("3"), amount)
		s.equalAmount(eth("3"), s.vault.Balance(alice))
		s.True(s.contribution(campaignID, alice).IsZero())
		s.equalAmount(eth("2"), s.campaign(campaignID).AmountRaised)

		amount, err = s.svc.ClaimRefund(ended, campaignID, bob)
		s.Require().NoError(err)
		s.equalAmount(eth("2"), amount)
		s.True(s.campaign(campaignID).AmountRaised.IsZero())
	})

	s.Run("second claim has nothing to refund", func() {
		_, err := s.svc.ClaimRefund(ended, campaignID, alice)
		s.requireCode(err, dErrors.CodeInvalidInput, "nothing to refund")
	})

	s.Run("non contributor has nothing to refund", func() {
		_, err := s.svc.ClaimRefund(ended, campaignID, creator)
		s.requireCode(err, dErrors.CodeInvalidInput, "nothing to refund")
	})

	s.Run("no fee on failed campaigns", func() {
		s.True(s.feePool().IsZero())
		s.equalAmount(eth("5"), s.vault.TotalPaid())
	})

	s.Run("events", func() {
		s.Equal([]models.EventType{
			models.EventCampaignCreated,
			models.EventContributionReceived,
			models.EventContributionReceived,
			models.EventCampaignStatusChanged,
			models.EventContributionRefunded,
			models.EventContributionRefunded,
		}, s.eventTypes())
	})
}

func (s *ServiceSuite) TestRefundContributors_Guards() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("3")))

	s.Run("deadline not reached", func() {
		err := s.svc.RefundContributors(s.ctx(), campaignID, creator)
		s.requireCode(err, dErrors.CodeInvalidState, "campaign still running")
	})

	s.Run("unknown campaign", func() {
		err := s.svc.RefundContributors(s.ctx(), 77, creator)
		s.requireCode(err, dErrors.CodeNotFound, "campaign not found")
	})

	s.Run("successful campaign is already settled", func() {
		s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("7")))
		err := s.svc.RefundContributors(s.afterDeadline(campaignID), campaignID, creator)
		s.requireCode(err, dErrors.CodeInvalidState, "already settled")
	})
}

// =============================================================================
// Transfer failure and re-entrancy
// =============================================================================

func (s *ServiceSuite) TestClaimRefund_TransferFailureRestores() {
	campaignID := s.failedCampaign()
	ended := s.afterDeadline(campaignID)
	s.vault.Reject(alice)

	_, err := s.svc.ClaimRefund(ended, campaignID, alice)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed")
	s.ErrorIs(err, custody.ErrRecipientRejected)

	s.equalAmount(eth("3"), s.contribution(campaignID, alice))
	s.equalAmount(eth("5"), s.campaign(campaignID).AmountRaised)
	s.True(s.vault.Balance(alice).IsZero())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Transfers.WithLabelValues("refund", "failed")))
	s.Zero(testutil.ToFloat64(s.metrics.RollbackFailures))

	pending, err := s.store.ListPendingTransfers(context.Background())
	s.Require().NoError(err)
	s.Empty(pending)

	s.vault.Accept(alice)
	amount, err := s.svc.ClaimRefund(ended, campaignID, alice)
	s.Require().NoError(err)
	s.equalAmount(eth("3"), amount)
}

func (s *ServiceSuite) TestWithdrawFunds_TransferFailureRestores() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("12")))
	s.vault.Reject(creator)

	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed")

	c := s.campaign(campaignID)
	s.equalAmount(eth("12"), c.AmountRaised)
	s.True(s.feePool().IsZero())

	s.vault.Accept(creator)
	result, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.Require().NoError(err)
	s.equalAmount(eth("11.64"), result.Payout)
	s.equalAmount(eth("0.36"), s.feePool())
}

func (s *ServiceSuite) TestWithdrawPlatformFees_TransferFailureRestores() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("12")))
	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.Require().NoError(err)
	s.vault.Reject(owner)

	_, err = s.svc.WithdrawPlatformFees(s.ctx(), owner)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed")
	s.equalAmount(eth("0.36"), s.feePool())

	s.vault.Accept(owner)
	amount, err := s.svc.WithdrawPlatformFees(s.ctx(), owner)
	s.Require().NoError(err)
	s.equalAmount(eth("0.36"), amount)
}

func (s *ServiceSuite) TestClaimRefund_ReentrantClaimSeesReservation() {
	campaignID := s.failedCampaign()
	ended := s.afterDeadline(campaignID)

	var nestedErr error
	calls := 0
	s.vault.OnReceive(alice, func(ctx context.Context, _ *models.Transfer) error {
		calls++
		_, nestedErr = s.svc.ClaimRefund(ended, campaignID, alice)
		return nil
	})

	amount, err := s.svc.ClaimRefund(ended, campaignID, alice)
	s.Require().NoError(err)
	s.equalAmount(eth("3"), amount)

	s.Equal(1, calls)
	s.requireCode(nestedErr, dErrors.CodeInvalidInput, "nothing to refund")
	s.equalAmount(eth("3"), s.vault.Balance(alice))
	s.equalAmount(eth("2"), s.campaign(campaignID).AmountRaised)
}

func (s *ServiceSuite) TestWithdrawFunds_ReentrantWithdrawSeesReservation() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("10")))

	var nestedErr error
	s.vault.OnReceive(creator, func(ctx context.Context, _ *models.Transfer) error {
		s.vault.OnReceive(creator, nil)
		_, nestedErr = s.svc.WithdrawFunds(ctx, campaignID, creator)
		return nil
	})

	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.Require().NoError(err)
	s.requireCode(nestedErr, dErrors.CodeInvalidState, "funds already withdrawn")
	s.equalAmount(eth("9.7"), s.vault.Balance(creator))
}

func (s *ServiceSuite) TestWithdrawFunds_BooksFeeBeforePayout() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("10")))

	var raisedDuring, poolDuring decimal.Decimal
	s.vault.OnReceive(creator, func(ctx context.Context, transfer *models.Transfer) error {
		raisedDuring = s.campaign(campaignID).AmountRaised
		poolDuring = s.feePool()
		s.equalAmount(eth("10"), transfer.Amount.Add(raisedDuring).Add(poolDuring))
		return nil
	})

	result, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.Require().NoError(err)
	s.True(raisedDuring.IsZero())
	s.equalAmount(eth("0.3"), poolDuring)
	s.equalAmount(result.Fee, s.feePool())
}

func (s *ServiceSuite) TestWithdrawFunds_FailedPayoutAfterFeeWithdrawalStaysPending() {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("10")))

	var ownerErr error
	s.vault.OnReceive(creator, func(ctx context.Context, _ *models.Transfer) error {
		_, ownerErr = s.svc.WithdrawPlatformFees(s.ctx(), owner)
		return errors.New("creator wallet reverted")
	})

	_, err := s.svc.WithdrawFunds(s.ctx(), campaignID, creator)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed; reservation pending reconciliation")
	s.Require().NoError(ownerErr)
	s.equalAmount(eth("0.3"), s.vault.Balance(owner))
	s.True(s.feePool().IsZero())
	s.True(s.campaign(campaignID).AmountRaised.IsZero())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RollbackFailures))

	pending, err := s.svc.ListPendingTransfers(s.ctx(), owner)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(models.TransferKindPayout, pending[0].Kind)
	s.equalAmount(eth("9.7"), pending[0].Amount)
}

// failedCampaign returns a campaign marked failed with alice at 3 ETH and bob at 2 ETH.
func (s *ledgerSuite) failedCampaign() id.CampaignID {
	campaignID := s.createCampaign(eth("10"), 3)
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, alice, eth("3")))
	s.Require().NoError(s.svc.Contribute(s.ctx(), campaignID, bob, eth("2")))
	s.Require().NoError(s.svc.RefundContributors(s.afterDeadline(campaignID), campaignID, creator))
	return campaignID
}

// =============================================================================
// Collaborator failures (gomock)
// =============================================================================

func (s *ServiceSuite) TestSettle_CancelledTransferStillRestores() {
	campaignID := s.failedCampaign()
	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)

	svc, err := New(s.store, store.NewInMemoryTx(s.store), transferer, owner, WithMetrics(s.metrics))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.afterDeadline(campaignID))
	transferer.EXPECT().
		Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, transfer *models.Transfer) error {
			s.Equal(models.TransferKindRefund, transfer.Kind)
			s.Equal(alice, transfer.Recipient)
			s.equalAmount(eth("3"), transfer.Amount)
			cancel()
			return ctx.Err()
		})

	_, err = svc.ClaimRefund(ctx, campaignID, alice)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed")
	s.ErrorIs(err, context.Canceled)
	s.equalAmount(eth("3"), s.contribution(campaignID, alice))
}

func (s *ServiceSuite) TestSettle_RestoreFailureIsCounted() {
	campaignID := s.failedCampaign()
	ctrl := gomock.NewController(s.T())
	transferer := mocks.NewMockTransferer(ctrl)
	txMock := mocks.NewMockStoreTx(ctrl)
	realTx := store.NewInMemoryTx(s.store)

	svc, err := New(s.store, txMock, transferer, owner, WithMetrics(s.metrics))
	s.Require().NoError(err)

	gomock.InOrder(
		txMock.EXPECT().RunInTx(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, fn func(ports.Store) error) error {
				return realTx.RunInTx(ctx, fn)
			}),
		transferer.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(errors.New("node unavailable")),
		txMock.EXPECT().RunInTx(gomock.Any(), gomock.Any()).Return(errors.New("database gone")),
	)

	_, err = svc.ClaimRefund(s.afterDeadline(campaignID), campaignID, alice)
	s.requireCode(err, dErrors.CodeTransferFailed, "transfer failed; reservation pending reconciliation")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RollbackFailures))

	pending, err := s.store.ListPendingTransfers(context.Background())
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(alice, pending[0].Recipient)
	s.True(s.contribution(campaignID, alice).IsZero())
}
