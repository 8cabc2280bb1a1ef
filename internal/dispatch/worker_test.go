package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"leadflow/internal/dispatch/messenger"
	"leadflow/internal/event"
	"leadflow/internal/lead"
	leadmemory "leadflow/internal/lead/store/memory"
	"leadflow/internal/ledger"
	ledgermemory "leadflow/internal/ledger/store/memory"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/policy"
	policymemory "leadflow/internal/policy/store/memory"
	"leadflow/pkg/domain"
)

// scriptedMessenger returns the queued responses in order and repeats the
// last one once the script runs out.
type scriptedMessenger struct {
	mu       sync.Mutex
	script   []sendResult
	requests []messenger.Outreach
}

type sendResult struct {
	receipt messenger.Receipt
	err     error
}

func (m *scriptedMessenger) Send(_ context.Context, req messenger.Outreach) (messenger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.script) == 0 {
		return messenger.Receipt{}, errors.New("script exhausted")
	}
	next := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return next.receipt, next.err
}

type fakeProducer struct {
	mu       sync.Mutex
	produced []event.OutreachEvent
}

func (p *fakeProducer) ProduceJSON(_ context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.produced = append(p.produced, v.(event.OutreachEvent))
	return nil
}

type fakeDLQ struct {
	mu   sync.Mutex
	sent []*consumer.Message
}

func (d *fakeDLQ) Send(_ context.Context, msg *consumer.Message, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return nil
}

type DispatchWorkerSuite struct {
	suite.Suite
	ledger    *ledgermemory.InMemoryStore
	policy    *policymemory.InMemoryStore
	leads     *leadmemory.InMemoryStore
	messenger *scriptedMessenger
	producer  *fakeProducer
	dlq       *fakeDLQ
	worker    *Worker
}

func TestDispatchWorkerSuite(t *testing.T) {
	suite.Run(t, new(DispatchWorkerSuite))
}

func (s *DispatchWorkerSuite) SetupTest() {
	s.ledger = ledgermemory.NewInMemoryStore()
	s.policy = policymemory.NewInMemoryStore()
	s.leads = leadmemory.NewInMemoryStore()
	s.messenger = &scriptedMessenger{}
	s.producer = &fakeProducer{}
	s.dlq = &fakeDLQ{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		SendTimeout: time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
	w, err := NewWorker(
		s.ledger, s.policy, s.leads, s.messenger, s.producer, s.dlq,
		"outreach-events", cfg, logger,
	)
	s.Require().NoError(err)
	s.worker = w
}

// seedAssignment creates the lead and a PENDING assignment the way the
// assignment stage would have left them.
func (s *DispatchWorkerSuite) seedAssignment(leadID, treatmentID string) {
	ctx := context.Background()
	s.Require().NoError(s.policy.Register(ctx, policy.Treatment{
		ID: domain.TreatmentID(treatmentID), Label: treatmentID, Active: true,
		SuccessCount: 1, FailureCount: 1,
	}))
	s.Require().NoError(s.leads.UpsertScored(ctx, domain.LeadID(leadID), 0.9, "saas"))
	s.Require().NoError(s.leads.SetAssigned(ctx, domain.LeadID(leadID), domain.TreatmentID(treatmentID)))
	_, err := s.ledger.TryAssign(ctx, domain.LeadID(leadID), domain.TreatmentID(treatmentID))
	s.Require().NoError(err)
}

func (s *DispatchWorkerSuite) assignmentMsg(leadID, treatmentID string) *consumer.Message {
	payload, err := json.Marshal(event.Assignment{
		LeadID:      leadID,
		TreatmentID: treatmentID,
		Timestamp:   time.Now().UTC(),
	})
	s.Require().NoError(err)
	return &consumer.Message{Topic: "lead-assignments", Key: []byte(leadID), Value: payload}
}

func (s *DispatchWorkerSuite) TestMalformedPayloadGoesToDeadLetter() {
	msg := &consumer.Message{Topic: "lead-assignments", Value: []byte("nope")}

	err := s.worker.Handle(context.Background(), msg)

	s.NoError(err)
	s.Len(s.dlq.sent, 1)
}

func (s *DispatchWorkerSuite) TestEventWithoutLedgerRowIsDiscarded() {
	err := s.worker.Handle(context.Background(), s.assignmentMsg("ghost", "warm-intro"))

	s.NoError(err, "discarding commits the offset")
	s.Empty(s.messenger.requests)
}

func (s *DispatchWorkerSuite) TestSuccessfulSend() {
	s.seedAssignment("L1", "warm-intro")
	s.messenger.script = []sendResult{
		{receipt: messenger.Receipt{ExternalMessageID: "msg-1", Accepted: true}},
	}

	err := s.worker.Handle(context.Background(), s.assignmentMsg("L1", "warm-intro"))
	s.Require().NoError(err)

	a, err := s.ledger.GetByLead(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(ledger.DispatchSent, a.DispatchStatus)
	s.Equal("msg-1", a.ExternalMessageID)

	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusDispatched, l.Status)

	t, err := s.policy.Get(context.Background(), "warm-intro")
	s.Require().NoError(err)
	s.EqualValues(1, t.Dispatched)

	s.Require().Len(s.producer.produced, 1)
	s.Equal(string(ledger.DispatchSent), s.producer.produced[0].DispatchStatus)
	s.Equal("msg-1", s.producer.produced[0].ExternalMessageID)
}

func (s *DispatchWorkerSuite) TestRetriesTransientFailureThenSends() {
	s.seedAssignment("L1", "warm-intro")
	s.messenger.script = []sendResult{
		{err: errors.New("provider 503")},
		{err: errors.New("provider 503")},
		{receipt: messenger.Receipt{ExternalMessageID: "msg-1", Accepted: true}},
	}

	err := s.worker.Handle(context.Background(), s.assignmentMsg("L1", "warm-intro"))
	s.Require().NoError(err)

	s.Len(s.messenger.requests, 3)
	a, err := s.ledger.GetByLead(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(ledger.DispatchSent, a.DispatchStatus)
}

func (s *DispatchWorkerSuite) TestExhaustedAttemptsAbandonLead() {
	s.seedAssignment("L1", "warm-intro")
	s.messenger.script = []sendResult{{err: errors.New("provider down")}}

	err := s.worker.Handle(context.Background(), s.assignmentMsg("L1", "warm-intro"))
	s.Require().NoError(err, "abandonment is terminal, the offset commits")

	s.Len(s.messenger.requests, 3, "attempt budget is honored")

	a, err := s.ledger.GetByLead(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(ledger.DispatchFailed, a.DispatchStatus)
	s.Equal(ledger.OutcomeUnresolved, a.OutcomeStatus, "no outcome is fabricated for failed sends")

	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusAbandoned, l.Status)

	s.Require().Len(s.producer.produced, 1)
	s.Equal(string(ledger.DispatchFailed), s.producer.produced[0].DispatchStatus)
}

func (s *DispatchWorkerSuite) TestRejectionCountsAgainstBudget() {
	s.seedAssignment("L1", "warm-intro")
	s.messenger.script = []sendResult{{receipt: messenger.Receipt{Accepted: false}}}

	err := s.worker.Handle(context.Background(), s.assignmentMsg("L1", "warm-intro"))
	s.Require().NoError(err)

	s.Len(s.messenger.requests, 3)
	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusAbandoned, l.Status)
}

func (s *DispatchWorkerSuite) TestDuplicateDeliverySkipsResend() {
	s.seedAssignment("L1", "warm-intro")
	s.messenger.script = []sendResult{
		{receipt: messenger.Receipt{ExternalMessageID: "msg-1", Accepted: true}},
	}
	ctx := context.Background()

	s.Require().NoError(s.worker.Handle(ctx, s.assignmentMsg("L1", "warm-intro")))
	s.Require().NoError(s.worker.Handle(ctx, s.assignmentMsg("L1", "warm-intro")))

	s.Len(s.messenger.requests, 1, "a non-PENDING assignment is never re-sent")
	s.Len(s.producer.produced, 1)
}
