// Package service implements the crowdfunding ledger: campaign registry,
// contribution accounting, fee accounting and settlement.
//
// Every mutation runs inside StoreTx.RunInTx, the ledger's single critical
// section. Operations that move value out are split in two transactions around
// the external Transferer call: the reservation zeroes the balance being paid and
// records a pending Transfer, then the transfer runs with no lock held, then a
// second transaction either finalizes the Transfer or restores the balance.
// A recipient that calls back into the ledger mid-transfer observes the
// reserved state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crowdledger/internal/ledger/access"
	"crowdledger/internal/ledger/metrics"
	"crowdledger/internal/ledger/ports"
	"crowdledger/pkg/attrs"
	id "crowdledger/pkg/domain"
	dErrors "crowdledger/pkg/domain-errors"
	"crowdledger/pkg/platform/sentinel"
	"crowdledger/pkg/requestcontext"
)

const tracerName = "crowdledger/internal/ledger/service"

// Service orchestrates the ledger.
type Service struct {
	store      ports.Store
	tx         ports.StoreTx
	transferer ports.Transferer
	access     *access.Control
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. owner is the platform owner and is fixed for the
// lifetime of the ledger.
func New(store ports.Store, tx ports.StoreTx, transferer ports.Transferer, owner id.Identity, opts ...Option) (*Service, error) {
	if store == nil || tx == nil || transferer == nil {
		return nil, errors.New("store, tx and transferer are required")
	}
	control, err := access.New(owner)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:      store,
		tx:         tx,
		transferer: transferer,
		access:     control,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s, nil
}

// wrapStoreErr translates store facts into domain errors. Errors that already
// carry a domain code pass through unchanged.
func wrapStoreErr(err error, notFoundMsg, internalMsg string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.From(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

// startOp opens a span for operation and returns the function that closes it.
// Call as `defer end(&err)` with a named error result.
func (s *Service) startOp(ctx context.Context, operation string, kv ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger."+operation, trace.WithAttributes(kv...))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.incrementRejection(operation, err)
		}
		s.observeOperation(operation, start)
		span.End()
	}
}

func campaignAttr(campaignID id.CampaignID) attribute.KeyValue {
	return attribute.Int64("campaign.id", int64(campaignID))
}

func identityAttr(key string, identity id.Identity) attribute.KeyValue {
	return attribute.String(key, identity.String())
}

// logAudit records a security- or money-relevant fact as an audit log line and
// as an event on the current span.
func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if client := requestcontext.ClientKind(ctx); client != "" {
		attributes = append(attributes, "client", client)
	}
	trace.SpanFromContext(ctx).AddEvent(event, trace.WithAttributes(attrs.ToOTel(attributes)...))
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// logDenied records a rejected privileged call.
func (s *Service) logDenied(ctx context.Context, operation string, caller id.Identity, err error) {
	if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		return
	}
	s.logAudit(ctx, "access_denied",
		"operation", operation,
		"caller", caller.String(),
		"reason", err.Error(),
	)
}

func (s *Service) incrementRejection(operation string, err error) {
	if s.metrics != nil {
		s.metrics.IncrementRejection(operation, string(dErrors.CodeOf(err)))
	}
}

func (s *Service) observeOperation(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start)
	}
}

func (s *Service) incrementCampaignsCreated() {
	if s.metrics != nil {
		s.metrics.IncrementCampaignsCreated()
	}
}

func (s *Service) incrementContributions() {
	if s.metrics != nil {
		s.metrics.IncrementContributions()
	}
}

func (s *Service) incrementStatusChange(status string) {
	if s.metrics != nil {
		s.metrics.IncrementStatusChange(status)
	}
}

func (s *Service) incrementTransfer(kind, result string) {
	if s.metrics != nil {
		s.metrics.IncrementTransfer(kind, result)
	}
}

func (s *Service) incrementRollbackFailure() {
	if s.metrics != nil {
		s.metrics.IncrementRollbackFailure()
	}
}
