package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the relay.
type Metrics struct {
	Published           prometheus.Counter
	PublishFailures     prometheus.Counter
	CircuitBreakerSkips prometheus.Counter
	CircuitBreakerState prometheus.Gauge
	Cursor              prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_outbox_published_total",
			Help: "Total number of ledger events delivered to the sink",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_outbox_publish_failures_total",
			Help: "Total number of failed sink deliveries",
		}),
		CircuitBreakerSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "crowdledger_outbox_circuit_breaker_skips_total",
			Help: "Relay rounds skipped because the circuit breaker was open",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crowdledger_outbox_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		Cursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crowdledger_outbox_cursor",
			Help: "Seq of the last delivered ledger event",
		}),
	}
}

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
