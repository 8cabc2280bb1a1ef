package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the assignment stage. All record
// methods are nil-safe so callers without a registry can pass nil.
type Metrics struct {
	Assigned          prometheus.Counter
	Duplicates        prometheus.Counter
	BelowThreshold    prometheus.Counter
	PolicyStarvation  prometheus.Counter
	MalformedPayloads prometheus.Counter
}

// New creates a Metrics instance with all assignment metrics registered.
func New() *Metrics {
	return &Metrics{
		Assigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_assign_created_total",
			Help: "Total assignments created",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_assign_duplicates_total",
			Help: "Scored-lead deliveries that found an existing assignment",
		}),
		BelowThreshold: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_assign_below_threshold_total",
			Help: "Scored leads dropped for scoring under the minimum",
		}),
		PolicyStarvation: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_assign_policy_starvation_total",
			Help: "Selection attempts that found no active treatment",
		}),
		MalformedPayloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_assign_malformed_payloads_total",
			Help: "Scored-lead messages routed to the dead-letter topic",
		}),
	}
}

func (m *Metrics) IncAssigned() {
	if m != nil {
		m.Assigned.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) IncBelowThreshold() {
	if m != nil {
		m.BelowThreshold.Inc()
	}
}

func (m *Metrics) IncStarvation() {
	if m != nil {
		m.PolicyStarvation.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.MalformedPayloads.Inc()
	}
}
