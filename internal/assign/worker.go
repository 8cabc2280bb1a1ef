// Package assign hosts the assignment worker: it consumes scored-lead
// events, selects a treatment with the bandit policy, writes the assignment
// through the ledger's insert-if-absent guard, and hands the lead to the
// dispatcher over the assignments topic.
package assign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"leadflow/internal/assign/metrics"
	"leadflow/internal/bandit"
	"leadflow/internal/event"
	"leadflow/internal/ledger"
	"leadflow/internal/lead"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/policy"
	"leadflow/pkg/domain"
)

// Producer is the slice of the platform producer the worker needs.
type Producer interface {
	ProduceJSON(ctx context.Context, topic, key string, v any) error
}

// DeadLetterer routes malformed payloads aside.
type DeadLetterer interface {
	Send(ctx context.Context, msg *consumer.Message, cause error) error
}

type Worker struct {
	policy   policy.Store
	ledger   ledger.Store
	leads    lead.Store
	producer Producer
	dlq      DeadLetterer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	outTopic string
	minScore float64

	// The selector takes an explicit source so tests fix the seed; the
	// mutex covers concurrent Handle calls sharing one worker.
	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Worker)

// WithRand overrides the selector's random source.
func WithRand(rng *rand.Rand) Option {
	return func(w *Worker) { w.rng = rng }
}

// WithMinScore overrides the minimum-score gate.
func WithMinScore(min float64) Option {
	return func(w *Worker) { w.minScore = min }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(
	policyStore policy.Store,
	ledgerStore ledger.Store,
	leadStore lead.Store,
	producer Producer,
	dlq DeadLetterer,
	outTopic string,
	logger *slog.Logger,
	opts ...Option,
) (*Worker, error) {
	if policyStore == nil || ledgerStore == nil || leadStore == nil {
		return nil, fmt.Errorf("assign worker: policy, ledger, and lead stores are required")
	}

	w := &Worker{
		policy:   policyStore,
		ledger:   ledgerStore,
		leads:    leadStore,
		producer: producer,
		dlq:      dlq,
		logger:   logger.With("component", "assign"),
		outTopic: outTopic,
		minScore: 0.5,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handle processes one scored-lead message. Returning nil commits the
// offset; a starved policy returns bandit.ErrNoEligibleTreatment so the
// consumer holds the offset and retries, leaving the lead SCORED.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload event.ScoredLead
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		w.metrics.IncMalformed()
		return w.dlq.Send(ctx, msg, fmt.Errorf("unmarshal scored lead: %w", err))
	}

	leadID, err := domain.ParseLeadID(payload.LeadID)
	if err != nil {
		w.metrics.IncMalformed()
		return w.dlq.Send(ctx, msg, err)
	}

	if err := w.leads.UpsertScored(ctx, leadID, payload.Score, payload.Category); err != nil {
		return fmt.Errorf("upsert scored lead: %w", err)
	}

	if payload.Score < w.minScore {
		w.metrics.IncBelowThreshold()
		w.logger.Debug("lead below minimum score, holding",
			"lead_id", leadID, "score", payload.Score, "min_score", w.minScore)
		return nil
	}

	snapshot, err := w.policy.Snapshot(ctx, true)
	if err != nil {
		return fmt.Errorf("policy snapshot: %w", err)
	}

	treatmentID, err := w.selectTreatment(snapshot)
	if errors.Is(err, bandit.ErrNoEligibleTreatment) {
		w.metrics.IncStarvation()
		w.logger.Warn("no active treatment, lead held in SCORED", "lead_id", leadID)
		return err
	}
	if err != nil {
		return fmt.Errorf("select treatment: %w", err)
	}

	res, err := w.ledger.TryAssign(ctx, leadID, treatmentID)
	if err != nil {
		return fmt.Errorf("try assign: %w", err)
	}

	if res.Created {
		w.metrics.IncAssigned()
		if err := w.policy.IncrementAssigned(ctx, res.TreatmentID); err != nil {
			w.logger.Error("increment assigned counter failed",
				"lead_id", leadID, "treatment_id", res.TreatmentID, "error", err)
		}
		if err := w.leads.SetAssigned(ctx, leadID, res.TreatmentID); err != nil {
			w.logger.Error("mark lead assigned failed", "lead_id", leadID, "error", err)
		}
		w.logger.Info("lead assigned",
			"lead_id", leadID, "treatment_id", res.TreatmentID, "score", payload.Score)
	} else {
		// Expected on duplicate delivery; not an error.
		w.metrics.IncDuplicate()
		w.logger.Debug("lead already assigned",
			"lead_id", leadID, "treatment_id", res.TreatmentID)
	}

	// Emitted even on the duplicate path: a crash after TryAssign but
	// before this produce would otherwise strand the assignment. The
	// dispatcher skips non-PENDING assignments, so re-emission is safe.
	out := event.Assignment{
		LeadID:      string(leadID),
		TreatmentID: string(res.TreatmentID),
		Timestamp:   time.Now().UTC(),
	}
	if err := w.producer.ProduceJSON(ctx, w.outTopic, string(leadID), out); err != nil {
		return fmt.Errorf("produce assignment event: %w", err)
	}
	return nil
}

func (w *Worker) selectTreatment(snapshot []bandit.Arm) (domain.TreatmentID, error) {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return bandit.Select(snapshot, w.rng)
}
