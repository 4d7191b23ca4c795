package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
// Tracks lifecycle transitions, transfer outcomes and operation durations.
type Metrics struct {
	CampaignsCreated      prometheus.Counter
	ContributionsReceived prometheus.Counter
	StatusChanges         *prometheus.CounterVec
	Transfers             *prometheus.CounterVec
	RollbackFailures      prometheus.Counter
	Rejections            *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
}

// New registers the ledger metrics with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CampaignsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_campaigns_created_total",
			Help: "Total number of campaigns created",
		}),
		ContributionsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_contributions_total",
			Help: "Total number of accepted contributions",
		}),
		StatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdledger_campaign_status_changes_total",
			Help: "Campaign transitions out of active, by target status",
		}, []string{"status"}),
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdledger_transfers_total",
			Help: "Outbound transfers by kind and result (completed, failed)",
		}, []string{"kind", "result"}),
		RollbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_transfer_rollback_failures_total",
			Help: "Failed transfers whose bookkeeping could not be restored (needs reconciliation)",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdledger_rejections_total",
			Help: "Operations rejected with a domain error, by operation and error code",
		}, []string{"operation", "code"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crowdledger_operation_duration_seconds",
			Help:    "Duration of ledger operations including transfers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

// IncrementCampaignsCreated records a successful campaign creation.
func (m *Metrics) IncrementCampaignsCreated() {
	m.CampaignsCreated.Inc()
}

// IncrementContributions records an accepted contribution.
func (m *Metrics) IncrementContributions() {
	m.ContributionsReceived.Inc()
}

// IncrementStatusChange records a campaign leaving active.
func (m *Metrics) IncrementStatusChange(status string) {
	m.StatusChanges.WithLabelValues(status).Inc()
}

// IncrementTransfer records the outcome of an outbound transfer.
func (m *Metrics) IncrementTransfer(kind, result string) {
	m.Transfers.WithLabelValues(kind, result).Inc()
}

// IncrementRollbackFailure records bookkeeping left reserved after a failed transfer.
func (m *Metrics) IncrementRollbackFailure() {
	m.RollbackFailures.Inc()
}

// IncrementRejection records an operation rejected with a domain error code.
func (m *Metrics) IncrementRejection(operation, code string) {
	m.Rejections.WithLabelValues(operation, code).Inc()
}

// ObserveOperation records the duration of a ledger operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
