package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks belief updates per treatment.
type Metrics struct {
	OutcomesApplied *prometheus.CounterVec
	Conversions     *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		OutcomesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_policy_outcomes_applied_total",
			Help: "Total belief updates applied per treatment",
		}, []string{"treatment_id"}),
		Conversions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_policy_conversions_total",
			Help: "Total conversions recorded per treatment",
		}, []string{"treatment_id"}),
	}
}

// RecordOutcome counts one applied belief update. Nil-safe so callers
// without a registry can pass nil.
func (m *Metrics) RecordOutcome(treatmentID string, converted bool) {
	if m == nil {
		return
	}
	m.OutcomesApplied.WithLabelValues(treatmentID).Inc()
	if converted {
		m.Conversions.WithLabelValues(treatmentID).Inc()
	}
}
