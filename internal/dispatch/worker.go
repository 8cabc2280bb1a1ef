// Package dispatch hosts the outreach dispatcher: it consumes assignment
// events, calls the messaging adapter with bounded attempts, records the
// dispatch result in the ledger, and emits outreach events for
// observability collaborators.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadflow/internal/dispatch/messenger"
	"leadflow/internal/dispatch/metrics"
	"leadflow/internal/event"
	"leadflow/internal/ledger"
	"leadflow/internal/lead"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/platform/retry"
	"leadflow/internal/policy"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// Producer is the slice of the platform producer the worker needs.
type Producer interface {
	ProduceJSON(ctx context.Context, topic, key string, v any) error
}

// DeadLetterer routes malformed payloads aside.
type DeadLetterer interface {
	Send(ctx context.Context, msg *consumer.Message, cause error) error
}

// Config bounds the dispatcher's retry behavior. SendTimeout caps each
// adapter call so one stuck provider request cannot stall the partition.
type Config struct {
	SendTimeout time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendTimeout: 10 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
	}
}

type Worker struct {
	ledger    ledger.Store
	policy    policy.Store
	leads     lead.Store
	messenger messenger.Messenger
	producer  Producer
	dlq       DeadLetterer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	eventsTopic string
}

type Option func(*Worker)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(
	ledgerStore ledger.Store,
	policyStore policy.Store,
	leadStore lead.Store,
	m messenger.Messenger,
	producer Producer,
	dlq DeadLetterer,
	eventsTopic string,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) (*Worker, error) {
	if ledgerStore == nil || policyStore == nil || leadStore == nil || m == nil {
		return nil, fmt.Errorf("dispatch worker: ledger, policy, lead stores and messenger are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	w := &Worker{
		ledger:      ledgerStore,
		policy:      policyStore,
		leads:       leadStore,
		messenger:   m,
		producer:    producer,
		dlq:         dlq,
		logger:      logger.With("component", "dispatch"),
		cfg:         cfg,
		eventsTopic: eventsTopic,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handle processes one assignment event.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload event.Assignment
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return w.dlq.Send(ctx, msg, fmt.Errorf("unmarshal assignment: %w", err))
	}
	leadID, err := domain.ParseLeadID(payload.LeadID)
	if err != nil {
		return w.dlq.Send(ctx, msg, err)
	}

	assignment, err := w.ledger.GetByLead(ctx, leadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Assignment events are only emitted after TryAssign, so this
		// means ledger and bus disagree. Notable, not fatal.
		w.logger.Warn("assignment event without ledger row, discarding", "lead_id", leadID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load assignment: %w", err)
	}
	if assignment.DispatchStatus != ledger.DispatchPending {
		// Duplicate delivery or re-emitted event; already handled.
		w.logger.Debug("assignment already dispatched, skipping",
			"lead_id", leadID, "dispatch_status", assignment.DispatchStatus)
		return nil
	}

	receipt, sendErr := w.sendWithRetry(ctx, messenger.Outreach{
		LeadID:      leadID,
		TreatmentID: assignment.TreatmentID,
	})
	if sendErr != nil {
		if ctx.Err() != nil {
			// Shutdown mid-attempt: leave the assignment PENDING and the
			// offset uncommitted; the next run retries from scratch.
			return ctx.Err()
		}
		return w.abandon(ctx, msg, leadID, assignment.TreatmentID, sendErr)
	}

	if err := w.ledger.RecordDispatch(ctx, leadID, ledger.DispatchSent, receipt.ExternalMessageID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Another dispatcher won the race after our PENDING read.
			w.logger.Debug("dispatch already recorded elsewhere", "lead_id", leadID)
			return nil
		}
		return fmt.Errorf("record dispatch: %w", err)
	}

	if err := w.policy.IncrementDispatched(ctx, assignment.TreatmentID); err != nil {
		w.logger.Error("increment dispatched counter failed",
			"treatment_id", assignment.TreatmentID, "error", err)
	}
	if err := w.leads.SetStatus(ctx, leadID, lead.StatusDispatched); err != nil {
		w.logger.Error("mark lead dispatched failed", "lead_id", leadID, "error", err)
	}

	w.metrics.IncSent()
	w.logger.Info("outreach sent",
		"lead_id", leadID,
		"treatment_id", assignment.TreatmentID,
		"external_message_id", receipt.ExternalMessageID,
	)

	return w.emit(ctx, leadID, assignment.TreatmentID, ledger.DispatchSent, receipt.ExternalMessageID)
}

func (w *Worker) sendWithRetry(ctx context.Context, req messenger.Outreach) (messenger.Receipt, error) {
	var receipt messenger.Receipt
	backoff := retry.Policy{
		MaxAttempts: w.cfg.MaxAttempts,
		BaseDelay:   w.cfg.BackoffBase,
		MaxDelay:    w.cfg.BackoffCap,
	}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		w.metrics.IncSendAttempt()
		start := time.Now()

		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		defer cancel()

		r, err := w.messenger.Send(sendCtx, req)
		w.metrics.ObserveSendDuration(time.Since(start))
		if err != nil {
			w.metrics.IncSendFailure()
			return err
		}
		if !r.Accepted {
			w.metrics.IncSendFailure()
			return fmt.Errorf("provider rejected outreach for lead %s", req.LeadID)
		}
		receipt = r
		return nil
	})
	return receipt, err
}

// abandon marks the assignment FAILED and the lead ABANDONED after the
// attempt budget is spent, surfaces the failure on the events topic, and
// commits the record: the failure is terminal, not retryable.
func (w *Worker) abandon(ctx context.Context, msg *consumer.Message, leadID domain.LeadID, treatmentID domain.TreatmentID, cause error) error {
	w.metrics.IncAbandoned()
	w.logger.Error("dispatch attempts exhausted, abandoning lead",
		"lead_id", leadID,
		"treatment_id", treatmentID,
		"max_attempts", w.cfg.MaxAttempts,
		"error", cause,
	)

	if err := w.ledger.RecordDispatch(ctx, leadID, ledger.DispatchFailed, ""); err != nil {
		if !errors.Is(err, sentinel.ErrInvalidState) {
			return fmt.Errorf("record failed dispatch: %w", err)
		}
	}
	if err := w.leads.SetStatus(ctx, leadID, lead.StatusAbandoned); err != nil {
		w.logger.Error("mark lead abandoned failed", "lead_id", leadID, "error", err)
	}
	return w.emit(ctx, leadID, treatmentID, ledger.DispatchFailed, "")
}

func (w *Worker) emit(ctx context.Context, leadID domain.LeadID, treatmentID domain.TreatmentID, status ledger.DispatchStatus, externalMessageID string) error {
	out := event.OutreachEvent{
		LeadID:            string(leadID),
		TreatmentID:       string(treatmentID),
		DispatchStatus:    string(status),
		ExternalMessageID: externalMessageID,
		Timestamp:         time.Now().UTC(),
	}
	if err := w.producer.ProduceJSON(ctx, w.eventsTopic, string(leadID), out); err != nil {
		return fmt.Errorf("produce outreach event: %w", err)
	}
	return nil
}
