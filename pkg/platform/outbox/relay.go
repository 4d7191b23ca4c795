package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crowdledger/pkg/platform/circuit"
)

// ErrCircuitOpen is returned by RelayOnce while the sink is considered down.
var ErrCircuitOpen = errors.New("outbox circuit open")

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Relay moves events from a Source to a Sink.
type Relay struct {
	source    Source
	sink      Sink
	breaker   *circuit.Breaker
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRelay(source Source, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		sink:      sink,
		breaker:   circuit.New("outbox"),
		logger:    slog.Default(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// the next one; otherwise the relay waits for the poll interval.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		delivered, err := r.RelayOnce(ctx)
		switch {
		case err == nil && delivered == r.batchSize:
			timer.Reset(0)
			continue
		case err != nil && !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil:
			r.logger.WarnContext(ctx, "outbox relay round failed",
				"error", err,
				"delivered", delivered,
			)
		}
		timer.Reset(r.interval)
	}
}

// RelayOnce delivers at most one batch and returns how many messages were
// delivered. The cursor is saved past every delivered message even when a
// later one fails.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.CircuitBreakerSkips.Inc()
		}
		return 0, ErrCircuitOpen
	}

	cursor, err := r.source.RelayCursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("load relay cursor: %w", err)
	}
	batch, err := r.source.Pending(ctx, cursor, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}

	delivered := 0
	for _, msg := range batch {
		if err := r.sink.Publish(ctx, msg); err != nil {
			r.recordFailure(ctx)
			if saveErr := r.advance(ctx, cursor, delivered); saveErr != nil {
				return delivered, errors.Join(err, saveErr)
			}
			return delivered, fmt.Errorf("publish event %d: %w", msg.Seq, err)
		}
		cursor = msg.Seq
		delivered++
		if r.metrics != nil {
			r.metrics.Published.Inc()
		}
	}
	if delivered > 0 {
		r.recordSuccess(ctx)
	}
	return delivered, r.advance(ctx, cursor, delivered)
}

func (r *Relay) advance(ctx context.Context, cursor uint64, delivered int) error {
	if delivered == 0 {
		return nil
	}
	// detached: delivered messages must not be redelivered because of a shutdown
	if err := r.source.SaveRelayCursor(context.WithoutCancel(ctx), cursor); err != nil {
		return fmt.Errorf("save relay cursor: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Cursor.Set(float64(cursor))
	}
	return nil
}

func (r *Relay) recordFailure(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.PublishFailures.Inc()
	}
	_, change := r.breaker.RecordFailure()
	if change.Opened {
		r.logger.WarnContext(ctx, "outbox circuit opened", "breaker", r.breaker.Name())
		if r.metrics != nil {
			r.metrics.SetCircuitBreakerState(true)
		}
	}
}

func (r *Relay) recordSuccess(ctx context.Context) {
	_, change := r.breaker.RecordSuccess()
	if change.Closed {
		r.logger.InfoContext(ctx, "outbox circuit closed", "breaker", r.breaker.Name())
		if r.metrics != nil {
			r.metrics.SetCircuitBreakerState(false)
		}
	}
}
