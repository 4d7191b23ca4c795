package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/ports"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
	"crowdledger/pkg/requestcontext"
)

// Withdrawal is the outcome of a creator withdrawal.
type Withdrawal struct {
	TransferID string          `json:"transfer_id"`
	Payout     decimal.Decimal `json:"payout"`
	Fee        decimal.Decimal `json:"fee"`
}

// reservation is value set aside inside the critical section for one outbound
// transfer. restore undoes the reservation additively; finalize books whatever
// must only happen once the transfer succeeded.
type reservation struct {
	transfer *models.Transfer
	restore  func(ctx context.Context, store ports.Store, now time.Time) error
	finalize func(ctx context.Context, store ports.Store, transfer *models.Transfer, now time.Time) error
}

// RefundContributors closes a campaign that missed its goal. Only the creator
// may call it, and only once the deadline has passed. No funds move; each
// contributor then claims individually.
func (s *Service) RefundContributors(ctx context.Context, campaignID id.CampaignID, caller id.Identity) (err error) {
	ctx, end := s.startOp(ctx, "RefundContributors", campaignAttr(campaignID), identityAttr("caller", caller))
	defer end(&err)

	now := requestcontext.Now(ctx)
	err = s.tx.RunInTx(ctx, func(store ports.Store) error {
		campaign, err := store.FindCampaign(ctx, campaignID)
		if err != nil {
			return wrapStoreErr(err, "campaign not found", "failed to load campaign")
		}
		if err := s.access.RequireCreator(campaign, caller); err != nil {
			return err
		}
		if err := campaign.CanMarkFailed(now); err != nil {
			return err
		}
		campaign.ApplyFailure(now)
		if err := store.UpdateCampaign(ctx, campaign); err != nil {
			return wrapStoreErr(err, "campaign not found", "failed to update campaign")
		}
		if err := store.AppendEvent(ctx, models.NewStatusChangedEvent(campaign, caller, now)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record status event")
		}
		return nil
	})
	if err != nil {
		s.logDenied(ctx, "RefundContributors", caller, err)
		return err
	}

	s.incrementStatusChange(string(models.CampaignStatusFailed))
	s.logAudit(ctx, string(models.EventCampaignStatusChanged),
		"campaign_id", campaignID.String(),
		"status", string(models.CampaignStatusFailed),
		"actor", caller.String(),
	)
	return nil
}

// ClaimRefund pays contributor's whole contribution back from a failed campaign
// and returns the amount. The contribution is zeroed before the transfer and
// restored if the transfer fails.
func (s *Service) ClaimRefund(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (amount decimal.Decimal, err error) {
	ctx, end := s.startOp(ctx, "ClaimRefund", campaignAttr(campaignID), identityAttr("contributor", contributor))
	defer end(&err)

	if contributor.IsNil() {
		return decimal.Zero, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	transfer, err := s.settle(ctx, func(store ports.Store, now time.Time) (*reservation, error) {
		campaign, err := store.FindCampaign(ctx, campaignID)
		if err != nil {
			return nil, wrapStoreErr(err, "campaign not found", "failed to load campaign")
		}
		if err := campaign.CanRefund(); err != nil {
			return nil, err
		}
		owed, err := store.FindContribution(ctx, campaignID, contributor)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contribution")
		}
		if !owed.IsPositive() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "nothing to refund")
		}

		if err := store.SaveContribution(ctx, &models.Contribution{
			CampaignID: campaignID, Contributor: contributor, Amount: decimal.Zero,
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve refund")
		}
		campaign.ApplyRefundReservation(owed, now)
		if err := store.UpdateCampaign(ctx, campaign); err != nil {
			return nil, wrapStoreErr(err, "campaign not found", "failed to reserve refund")
		}

		return &reservation{
			transfer: models.NewTransfer(models.TransferKindRefund, campaignID, contributor, owed, decimal.Zero, now),
			restore: func(ctx context.Context, store ports.Store, now time.Time) error {
				current, err := store.FindContribution(ctx, campaignID, contributor)
				if err != nil {
					return err
				}
				if err := store.SaveContribution(ctx, &models.Contribution{
					CampaignID: campaignID, Contributor: contributor, Amount: current.Add(owed),
				}); err != nil {
					return err
				}
				return s.restoreRaised(ctx, store, campaignID, owed, now)
			},
			finalize: func(ctx context.Context, store ports.Store, transfer *models.Transfer, now time.Time) error {
				return store.AppendEvent(ctx, models.NewContributionRefundedEvent(transfer, now))
			},
		}, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.logAudit(ctx, string(models.EventContributionRefunded),
		"campaign_id", campaignID.String(),
		"contributor", contributor.String(),
		"amount", transfer.Amount.String(),
		"transfer_id", transfer.ID.String(),
	)
	return transfer.Amount, nil
}

// WithdrawFunds pays the raised amount minus the platform fee to the creator of
// a successful campaign. Zeroing the raised amount and crediting the fee to the
// platform pool are both booked before the payout; a failed payout reverses both.
func (s *Service) WithdrawFunds(ctx context.Context, campaignID id.CampaignID, caller id.Identity) (result *Withdrawal, err error) {
	ctx, end := s.startOp(ctx, "WithdrawFunds", campaignAttr(campaignID), identityAttr("caller", caller))
	defer end(&err)

	transfer, err := s.settle(ctx, func(store ports.Store, now time.Time) (*reservation, error) {
		campaign, err := store.FindCampaign(ctx, campaignID)
		if err != nil {
			return nil, wrapStoreErr(err, "campaign not found", "failed to load campaign")
		}
		if err := s.access.RequireCreator(campaign, caller); err != nil {
			return nil, err
		}
		if err := campaign.CanWithdraw(); err != nil {
			return nil, err
		}

		raised := campaign.AmountRaised
		payout, fee := campaign.Settlement()
		campaign.ApplyWithdrawalReservation(now)
		if err := store.UpdateCampaign(ctx, campaign); err != nil {
			return nil, wrapStoreErr(err, "campaign not found", "failed to reserve withdrawal")
		}
		pool, err := store.FeePool(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fee pool")
		}
		if err := store.SaveFeePool(ctx, pool.Add(fee)); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit platform fee")
		}

		return &reservation{
			transfer: models.NewTransfer(models.TransferKindPayout, campaignID, caller, payout, fee, now),
			restore: func(ctx context.Context, store ports.Store, now time.Time) error {
				if err := debitFeePool(ctx, store, fee); err != nil {
					return err
				}
				return s.restoreRaised(ctx, store, campaignID, raised, now)
			},
			finalize: func(ctx context.Context, store ports.Store, transfer *models.Transfer, now time.Time) error {
				return store.AppendEvent(ctx, models.NewFundsWithdrawnEvent(transfer, now))
			},
		}, nil
	})
	if err != nil {
		s.logDenied(ctx, "WithdrawFunds", caller, err)
		return nil, err
	}

	s.logAudit(ctx, string(models.EventFundsWithdrawn),
		"campaign_id", campaignID.String(),
		"creator", caller.String(),
		"payout", transfer.Amount.String(),
		"fee", transfer.Fee.String(),
		"transfer_id", transfer.ID.String(),
	)
	return &Withdrawal{
		TransferID: transfer.ID.String(),
		Payout:     transfer.Amount,
		Fee:        transfer.Fee,
	}, nil
}

// WithdrawPlatformFees pays the whole fee pool to the platform owner and returns
// the amount.
func (s *Service) WithdrawPlatformFees(ctx context.Context, caller id.Identity) (amount decimal.Decimal, err error) {
	ctx, end := s.startOp(ctx, "WithdrawPlatformFees", identityAttr("caller", caller))
	defer end(&err)

	if err := s.access.RequirePlatformOwner(caller); err != nil {
		s.logDenied(ctx, "WithdrawPlatformFees", caller, err)
		return decimal.Zero, err
	}

	transfer, err := s.settle(ctx, func(store ports.Store, now time.Time) (*reservation, error) {
		pool, err := store.FeePool(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fee pool")
		}
		if !pool.IsPositive() {
			return nil, dErrors.New(dErrors.CodeInvalidState, "nothing to withdraw")
		}
		if err := store.SaveFeePool(ctx, decimal.Zero); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve fee pool")
		}

		return &reservation{
			transfer: models.NewTransfer(models.TransferKindPlatformFee, 0, caller, pool, decimal.Zero, now),
			restore: func(ctx context.Context, store ports.Store, _ time.Time) error {
				current, err := store.FeePool(ctx)
				if err != nil {
					return err
				}
				return store.SaveFeePool(ctx, current.Add(pool))
			},
			finalize: func(ctx context.Context, store ports.Store, transfer *models.Transfer, now time.Time) error {
				return store.AppendEvent(ctx, models.NewPlatformFeesWithdrawnEvent(transfer, now))
			},
		}, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.logAudit(ctx, string(models.EventPlatformFeesWithdrawn),
		"owner", caller.String(),
		"amount", transfer.Amount.String(),
		"transfer_id", transfer.ID.String(),
	)
	return transfer.Amount, nil
}

// errFeeAlreadyWithdrawn means a fee credited by a payout reservation was paid
// to the owner before the payout failed, so the reservation cannot be reversed
// exactly and stays pending.
var errFeeAlreadyWithdrawn = errors.New("platform fee already withdrawn")

func debitFeePool(ctx context.Context, store ports.Store, fee decimal.Decimal) error {
	pool, err := store.FeePool(ctx)
	if err != nil {
		return err
	}
	if pool.LessThan(fee) {
		return errFeeAlreadyWithdrawn
	}
	return store.SaveFeePool(ctx, pool.Sub(fee))
}

// ListPendingTransfers returns transfers whose outcome has not been booked,
// oldest first. Besides transfers still in flight, these are reservations left
// by a crash or a failed restore and need reconciliation. Only the platform
// owner may list them.
func (s *Service) ListPendingTransfers(ctx context.Context, caller id.Identity) ([]*models.Transfer, error) {
	if err := s.access.RequirePlatformOwner(caller); err != nil {
		s.logDenied(ctx, "ListPendingTransfers", caller, err)
		return nil, err
	}
	list, err := s.store.ListPendingTransfers(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending transfers")
	}
	return list, nil
}

func (s *Service) restoreRaised(ctx context.Context, store ports.Store, campaignID id.CampaignID, amount decimal.Decimal, now time.Time) error {
	campaign, err := store.FindCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	campaign.RestoreRaised(amount, now)
	return store.UpdateCampaign(ctx, campaign)
}

// settle runs reserve → transfer → finalize-or-restore. The transfer call is made
// outside RunInTx. Restore and finalize run detached from ctx cancellation: once
// value may have moved, the bookkeeping must be written.
func (s *Service) settle(ctx context.Context, reserve func(store ports.Store, now time.Time) (*reservation, error)) (*models.Transfer, error) {
	var res *reservation
	err := s.tx.RunInTx(ctx, func(store ports.Store) error {
		r, err := reserve(store, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := store.CreateTransfer(ctx, r.transfer); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transfer")
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := string(res.transfer.Kind)
	bookCtx := context.WithoutCancel(ctx)

	if transferErr := s.transferer.Transfer(ctx, res.transfer); transferErr != nil {
		s.incrementTransfer(kind, string(models.TransferStatusFailed))
		return nil, s.restore(bookCtx, res, transferErr)
	}
	s.incrementTransfer(kind, string(models.TransferStatusCompleted))

	var finalized *models.Transfer
	err = s.tx.RunInTx(bookCtx, func(store ports.Store) error {
		now := requestcontext.Now(bookCtx)
		transfer, err := store.FindTransfer(bookCtx, res.transfer.ID)
		if err != nil {
			return err
		}
		if err := transfer.Complete(now); err != nil {
			return err
		}
		if err := store.UpdateTransfer(bookCtx, transfer); err != nil {
			return err
		}
		if err := res.finalize(bookCtx, store, transfer, now); err != nil {
			return err
		}
		finalized = transfer
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "transfer delivered but not finalized",
			"transfer_id", res.transfer.ID.String(),
			"kind", kind,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer delivered but not finalized")
	}
	return finalized, nil
}

// restore undoes a reservation whose transfer failed and returns the
// TransferFailed error for the caller.
func (s *Service) restore(ctx context.Context, res *reservation, transferErr error) error {
	err := s.tx.RunInTx(ctx, func(store ports.Store) error {
		now := requestcontext.Now(ctx)
		transfer, err := store.FindTransfer(ctx, res.transfer.ID)
		if err != nil {
			return err
		}
		if err := res.restore(ctx, store, now); err != nil {
			return err
		}
		if err := transfer.Fail(now); err != nil {
			return err
		}
		return store.UpdateTransfer(ctx, transfer)
	})
	if err != nil {
		s.incrementRollbackFailure()
		s.logger.ErrorContext(ctx, "failed transfer could not be restored",
			"transfer_id", res.transfer.ID.String(),
			"kind", string(res.transfer.Kind),
			"transfer_error", transferErr,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.Wrap(transferErr, dErrors.CodeTransferFailed, "transfer failed; reservation pending reconciliation")
	}

	s.logger.WarnContext(ctx, "transfer failed; reservation restored",
		"transfer_id", res.transfer.ID.String(),
		"kind", string(res.transfer.Kind),
		"recipient", res.transfer.Recipient.String(),
		"error", transferErr,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(transferErr, dErrors.CodeTransferFailed, "transfer failed")
}
