package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the outcome reconciler. All record
// methods are nil-safe so callers without a registry can pass nil.
type Metrics struct {
	OutcomesProcessed prometheus.Counter
	Duplicates        prometheus.Counter
	Orphans           prometheus.Counter
	MalformedPayloads prometheus.Counter
	Unresolved        prometheus.Gauge
}

// New creates a Metrics instance with all reconciler metrics registered.
func New() *Metrics {
	return &Metrics{
		OutcomesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_reconcile_outcomes_processed_total",
			Help: "Outcome events applied to the ledger and policy",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_reconcile_duplicates_total",
			Help: "Outcome events for assignments already resolved",
		}),
		Orphans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_reconcile_orphans_total",
			Help: "Outcome events that matched no assignment",
		}),
		MalformedPayloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_reconcile_malformed_payloads_total",
			Help: "Outcome messages routed to the dead-letter topic",
		}),
		Unresolved: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_reconcile_unresolved_assignments",
			Help: "Assignments still awaiting an outcome",
		}),
	}
}

func (m *Metrics) IncProcessed() {
	if m != nil {
		m.OutcomesProcessed.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) IncOrphan() {
	if m != nil {
		m.Orphans.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.MalformedPayloads.Inc()
	}
}

func (m *Metrics) SetUnresolved(n int64) {
	if m != nil {
		m.Unresolved.Set(float64(n))
	}
}
