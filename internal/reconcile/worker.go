// Package reconcile hosts the outcome reconciler: it consumes delayed
// conversion outcomes, resolves them to assignments in the ledger, and
// folds the result into the policy's beliefs exactly once.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadflow/internal/event"
	"leadflow/internal/ledger"
	"leadflow/internal/lead"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/platform/retry"
	"leadflow/internal/policy"
	policymetrics "leadflow/internal/policy/metrics"
	"leadflow/internal/reconcile/metrics"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// DeadLetterer routes malformed payloads aside.
type DeadLetterer interface {
	Send(ctx context.Context, msg *consumer.Message, cause error) error
}

type Worker struct {
	ledger        ledger.Store
	policy        policy.Store
	leads         lead.Store
	dlq           DeadLetterer
	metrics       *metrics.Metrics
	policyMetrics *policymetrics.Metrics
	logger        *slog.Logger
}

type Option func(*Worker)

// WithMetrics sets the reconciler's metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithPolicyMetrics sets the per-treatment belief metrics collector.
func WithPolicyMetrics(m *policymetrics.Metrics) Option {
	return func(w *Worker) { w.policyMetrics = m }
}

func NewWorker(
	ledgerStore ledger.Store,
	policyStore policy.Store,
	leadStore lead.Store,
	dlq DeadLetterer,
	logger *slog.Logger,
	opts ...Option,
) (*Worker, error) {
	if ledgerStore == nil || policyStore == nil || leadStore == nil {
		return nil, fmt.Errorf("reconcile worker: ledger, policy, and lead stores are required")
	}

	w := &Worker{
		ledger: ledgerStore,
		policy: policyStore,
		leads:  leadStore,
		dlq:    dlq,
		logger: logger.With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handle processes one outcome event. The ledger transition runs first so
// a crash between it and the belief update surfaces on redelivery as
// ErrAlreadyResolved rather than a double-count; the belief update is then
// retried in place until it lands or shutdown interrupts it.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload event.Outcome
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		w.metrics.IncMalformed()
		return w.dlq.Send(ctx, msg, fmt.Errorf("unmarshal outcome: %w", err))
	}

	converted, err := parseOutcome(payload.Outcome)
	if err != nil {
		w.metrics.IncMalformed()
		return w.dlq.Send(ctx, msg, err)
	}

	if payload.LeadID == "" && payload.ExternalMessageID == "" {
		w.metrics.IncMalformed()
		return w.dlq.Send(ctx, msg, fmt.Errorf("outcome carries neither lead_id nor external_message_id"))
	}

	assignment, err := w.resolve(ctx, payload)
	if errors.Is(err, sentinel.ErrNotFound) {
		// An outcome with no assignment means the upstream attribution is
		// pointing at a lead this system never touched. Surface it and
		// move on; holding the offset would wedge the partition.
		w.metrics.IncOrphan()
		w.logger.Warn("outcome matched no assignment, discarding",
			"lead_id", payload.LeadID,
			"external_message_id", payload.ExternalMessageID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve outcome: %w", err)
	}

	status := ledger.OutcomeNoConversion
	if converted {
		status = ledger.OutcomeConverted
	}

	if err := w.ledger.RecordOutcome(ctx, assignment.LeadID, status); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyResolved) {
			w.metrics.IncDuplicate()
			w.logger.Debug("outcome already resolved, skipping",
				"lead_id", assignment.LeadID, "outcome", payload.Outcome)
			return nil
		}
		return fmt.Errorf("record outcome: %w", err)
	}

	// The ledger guard above has fired, so a redelivery of this record
	// will no-op. Push the belief update through before committing; on
	// shutdown the partial work is logged for operator follow-up.
	unbounded := retry.Policy{MaxAttempts: 0, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
	if err := retry.Do(ctx, unbounded, func(ctx context.Context) error {
		return w.policy.ApplyOutcome(ctx, assignment.TreatmentID, converted)
	}); err != nil {
		w.logger.Error("belief update interrupted after ledger resolution",
			"lead_id", assignment.LeadID,
			"treatment_id", assignment.TreatmentID,
			"converted", converted,
			"error", err,
		)
		return fmt.Errorf("apply outcome: %w", err)
	}

	if err := w.leads.SetStatus(ctx, assignment.LeadID, lead.StatusResolved); err != nil {
		w.logger.Error("mark lead resolved failed", "lead_id", assignment.LeadID, "error", err)
	}

	w.metrics.IncProcessed()
	w.policyMetrics.RecordOutcome(string(assignment.TreatmentID), converted)
	w.logger.Info("outcome applied",
		"lead_id", assignment.LeadID,
		"treatment_id", assignment.TreatmentID,
		"converted", converted,
	)
	return nil
}

// RunUnresolvedGauge refreshes the unresolved-assignments gauge until the
// context ends.
func (w *Worker) RunUnresolvedGauge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := w.ledger.UnresolvedCount(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("unresolved count failed", "error", err)
			}
		} else {
			w.metrics.SetUnresolved(n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolve maps the event to its assignment, preferring the lead id when
// both identifiers are present.
func (w *Worker) resolve(ctx context.Context, payload event.Outcome) (*ledger.Assignment, error) {
	if payload.LeadID != "" {
		leadID, err := domain.ParseLeadID(payload.LeadID)
		if err != nil {
			return nil, err
		}
		return w.ledger.GetByLead(ctx, leadID)
	}
	return w.ledger.GetByMessageID(ctx, payload.ExternalMessageID)
}

func parseOutcome(s string) (bool, error) {
	switch s {
	case event.OutcomeConverted:
		return true, nil
	case event.OutcomeNoConversion:
		return false, nil
	default:
		return false, fmt.Errorf("unknown outcome %q", s)
	}
}
