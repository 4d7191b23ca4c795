// Package handler exposes the ledger service over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/service"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
	"crowdledger/pkg/platform/httputil"
	"crowdledger/pkg/requestcontext"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
	maxBatchIDs      = 100
)

// Service is the ledger surface the HTTP layer drives.
type Service interface {
	CreateCampaign(ctx context.Context, caller id.Identity, params models.CampaignParams) (id.CampaignID, error)
	Contribute(ctx context.Context, campaignID id.CampaignID, contributor id.Identity, value decimal.Decimal) error
	WithdrawFunds(ctx context.Context, campaignID id.CampaignID, caller id.Identity) (*service.Withdrawal, error)
	RefundContributors(ctx context.Context, campaignID id.CampaignID, caller id.Identity) error
	ClaimRefund(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error)
	WithdrawPlatformFees(ctx context.Context, caller id.Identity) (decimal.Decimal, error)
	ListPendingTransfers(ctx context.Context, caller id.Identity) ([]*models.Transfer, error)

	GetCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error)
	GetCampaignsBatch(ctx context.Context, campaignIDs []id.CampaignID) ([]*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]*models.Campaign, error)
	ListCampaignsByCreator(ctx context.Context, creator id.Identity) ([]*models.Campaign, error)
	GetTotalCampaigns(ctx context.Context) (int, error)
	GetUserTotalCampaigns(ctx context.Context, creator id.Identity) (int, error)
	GetContribution(ctx context.Context, campaignID id.CampaignID, contributor id.Identity) (decimal.Decimal, error)
	ListContributions(ctx context.Context, campaignID id.CampaignID) ([]*models.Contribution, error)
	GetPlatformOwner() id.Identity
	GetPlatformTotalFees(ctx context.Context) (decimal.Decimal, error)
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.Event, error)
}

// Handler wires ledger endpoints to the ledger service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the ledger API under /v1. Reads are public; mutations run
// behind the protect middlewares, which must authenticate the caller.
func (h *Handler) Register(r chi.Router, protect ...func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/campaigns", h.HandleListCampaigns)
		r.Get("/campaigns/count", h.HandleCountCampaigns)
		r.Get("/campaigns/{campaignID}", h.HandleGetCampaign)
		r.Get("/campaigns/{campaignID}/contributions", h.HandleListContributions)
		r.Get("/campaigns/{campaignID}/contributions/{contributor}", h.HandleGetContribution)
		r.Get("/creators/{creator}/campaigns/count", h.HandleCountCreatorCampaigns)
		r.Get("/platform/owner", h.HandleGetPlatformOwner)
		r.Get("/platform/fees", h.HandleGetPlatformFees)
		r.Get("/events", h.HandleListEvents)

		r.Group(func(r chi.Router) {
			r.Use(protect...)
			r.Post("/campaigns", h.HandleCreateCampaign)
			r.Post("/campaigns/{campaignID}/contributions", h.HandleContribute)
			r.Post("/campaigns/{campaignID}/withdraw", h.HandleWithdrawFunds)
			r.Post("/campaigns/{campaignID}/refund", h.HandleRefundContributors)
			r.Post("/campaigns/{campaignID}/refund/claim", h.HandleClaimRefund)
			r.Post("/platform/fees/withdraw", h.HandleWithdrawPlatformFees)
			r.Get("/platform/transfers/pending", h.HandleListPendingTransfers)
		})
	})
}

// HandleCreateCampaign handles POST /v1/campaigns.
func (h *Handler) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateCampaignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	campaignID, err := h.service.CreateCampaign(ctx, caller, req.Params())
	if err != nil {
		h.fail(w, r, "create campaign", err)
		return
	}
	w.Header().Set("Location", "/v1/campaigns/"+campaignID.String())
	httputil.WriteJSON(w, http.StatusCreated, CreateCampaignResponse{ID: campaignID.String()})
}

// HandleContribute handles POST /v1/campaigns/{campaignID}/contributions.
func (h *Handler) HandleContribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ContributeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	if err := h.service.Contribute(ctx, campaignID, caller, req.Value()); err != nil {
		h.fail(w, r, "contribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWithdrawFunds handles POST /v1/campaigns/{campaignID}/withdraw.
func (h *Handler) HandleWithdrawFunds(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	result, err := h.service.WithdrawFunds(r.Context(), campaignID, caller)
	if err != nil {
		h.fail(w, r, "withdraw funds", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWithdrawalResponse(result))
}

// HandleRefundContributors handles POST /v1/campaigns/{campaignID}/refund.
func (h *Handler) HandleRefundContributors(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.service.RefundContributors(r.Context(), campaignID, caller); err != nil {
		h.fail(w, r, "refund contributors", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClaimRefund handles POST /v1/campaigns/{campaignID}/refund/claim.
func (h *Handler) HandleClaimRefund(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	amount, err := h.service.ClaimRefund(r.Context(), campaignID, caller)
	if err != nil {
		h.fail(w, r, "claim refund", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: amount.String()})
}

// HandleWithdrawPlatformFees handles POST /v1/platform/fees/withdraw.
func (h *Handler) HandleWithdrawPlatformFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.service.WithdrawPlatformFees(r.Context(), caller)
	if err != nil {
		h.fail(w, r, "withdraw platform fees", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: amount.String()})
}

// HandleListPendingTransfers handles GET /v1/platform/transfers/pending.
func (h *Handler) HandleListPendingTransfers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	pending, err := h.service.ListPendingTransfers(r.Context(), caller)
	if err != nil {
		h.fail(w, r, "list pending transfers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransferListResponse{Transfers: pending})
}

// HandleGetCampaign handles GET /v1/campaigns/{campaignID}.
func (h *Handler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := h.service.GetCampaign(r.Context(), campaignID)
	if err != nil {
		h.fail(w, r, "get campaign", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCampaignResponse(campaign))
}

// HandleListCampaigns handles GET /v1/campaigns with optional creator= or
// ids= filters. The two filters are mutually exclusive.
func (h *Handler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	creatorRaw, idsRaw := query.Get("creator"), query.Get("ids")

	var (
		list []*models.Campaign
		err  error
	)
	switch {
	case creatorRaw != "" && idsRaw != "":
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "creator and ids filters are mutually exclusive"))
		return
	case creatorRaw != "":
		creator, parseErr := id.ParseIdentity(creatorRaw)
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		list, err = h.service.ListCampaignsByCreator(ctx, creator)
	case idsRaw != "":
		ids, parseErr := parseCampaignIDs(idsRaw)
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		list, err = h.service.GetCampaignsBatch(ctx, ids)
	default:
		list, err = h.service.ListCampaigns(ctx)
	}
	if err != nil {
		h.fail(w, r, "list campaigns", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCampaignList(list))
}

// HandleCountCampaigns handles GET /v1/campaigns/count.
func (h *Handler) HandleCountCampaigns(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.GetTotalCampaigns(r.Context())
	if err != nil {
		h.fail(w, r, "count campaigns", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CountResponse{Count: count})
}

// HandleCountCreatorCampaigns handles GET /v1/creators/{creator}/campaigns/count.
func (h *Handler) HandleCountCreatorCampaigns(w http.ResponseWriter, r *http.Request) {
	creator, err := id.ParseIdentity(chi.URLParam(r, "creator"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	count, err := h.service.GetUserTotalCampaigns(r.Context(), creator)
	if err != nil {
		h.fail(w, r, "count creator campaigns", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CountResponse{Count: count})
}

// HandleGetContribution handles GET /v1/campaigns/{campaignID}/contributions/{contributor}.
func (h *Handler) HandleGetContribution(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	contributor, err := id.ParseIdentity(chi.URLParam(r, "contributor"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	amount, err := h.service.GetContribution(r.Context(), campaignID, contributor)
	if err != nil {
		h.fail(w, r, "get contribution", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContributionResponse{
		CampaignID:  campaignID.String(),
		Contributor: contributor.String(),
		Amount:      amount.String(),
	})
}

// HandleListContributions handles GET /v1/campaigns/{campaignID}/contributions.
func (h *Handler) HandleListContributions(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListContributions(r.Context(), campaignID)
	if err != nil {
		h.fail(w, r, "list contributions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toContributionList(list))
}

// HandleGetPlatformOwner handles GET /v1/platform/owner.
func (h *Handler) HandleGetPlatformOwner(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, OwnerResponse{Owner: h.service.GetPlatformOwner().String()})
}

// HandleGetPlatformFees handles GET /v1/platform/fees.
func (h *Handler) HandleGetPlatformFees(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.GetPlatformTotalFees(r.Context())
	if err != nil {
		h.fail(w, r, "get platform fees", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: pool.String()})
}

// HandleListEvents handles GET /v1/events?after=&limit=.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	after := uint64(0)
	if raw := query.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid after"))
			return
		}
		after = v
	}
	limit := defaultEventPage
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxEventPage {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 1000"))
			return
		}
		limit = v
	}

	events, err := h.service.ListEvents(r.Context(), after, limit)
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	if events == nil {
		events = []*models.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, EventListResponse{Events: events, NextAfter: next})
}

func (h *Handler) requireCaller(w http.ResponseWriter, r *http.Request) (id.Identity, bool) {
	caller := requestcontext.Caller(r.Context())
	if caller.IsNil() {
		h.logger.ErrorContext(r.Context(), "caller missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
			"path", r.URL.Path,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
		return id.Identity{}, false
	}
	return caller, true
}

func (h *Handler) campaignID(w http.ResponseWriter, r *http.Request) (id.CampaignID, bool) {
	campaignID, err := id.ParseCampaignID(chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return campaignID, true
}

// fail writes err. Domain rejections are expected traffic and logged at debug;
// anything else is an error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", operation,
		"code", code,
		"error", err,
	}
	switch code {
	case dErrors.CodeInternal, dErrors.CodeTransferFailed:
		h.logger.ErrorContext(ctx, "ledger operation failed", attrs...)
	default:
		h.logger.DebugContext(ctx, "ledger operation rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func parseCampaignIDs(raw string) ([]id.CampaignID, error) {
	parts := strings.Split(raw, ",")
	if len(parts) > maxBatchIDs {
		return nil, dErrors.New(dErrors.CodeBadRequest, "too many campaign ids")
	}
	ids := make([]id.CampaignID, 0, len(parts))
	for _, part := range parts {
		campaignID, err := id.ParseCampaignID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, campaignID)
	}
	return ids, nil
}
