package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dispatch stage. All record
// methods are nil-safe so callers without a registry can pass nil.
type Metrics struct {
	Sent         prometheus.Counter
	Abandoned    prometheus.Counter
	SendAttempts prometheus.Counter
	SendFailures prometheus.Counter
	SendDuration prometheus.Histogram
}

// New creates a Metrics instance with all dispatch metrics registered.
func New() *Metrics {
	return &Metrics{
		Sent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_dispatch_sent_total",
			Help: "Outreach messages accepted by the provider",
		}),
		Abandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_dispatch_abandoned_total",
			Help: "Leads abandoned after exhausting dispatch attempts",
		}),
		SendAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_dispatch_send_attempts_total",
			Help: "Messenger send attempts including retries",
		}),
		SendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_dispatch_send_failures_total",
			Help: "Messenger send attempts that failed or were rejected",
		}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadflow_dispatch_send_duration_seconds",
			Help:    "Messenger send latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.Sent.Inc()
	}
}

func (m *Metrics) IncAbandoned() {
	if m != nil {
		m.Abandoned.Inc()
	}
}

func (m *Metrics) IncSendAttempt() {
	if m != nil {
		m.SendAttempts.Inc()
	}
}

func (m *Metrics) IncSendFailure() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) ObserveSendDuration(d time.Duration) {
	if m != nil {
		m.SendDuration.Observe(d.Seconds())
	}
}
