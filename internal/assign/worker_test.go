package assign

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"leadflow/internal/bandit"
	"leadflow/internal/event"
	"leadflow/internal/lead"
	leadmemory "leadflow/internal/lead/store/memory"
	ledgermemory "leadflow/internal/ledger/store/memory"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/policy"
	policymemory "leadflow/internal/policy/store/memory"
	"leadflow/pkg/domain"
)

type fakeProducer struct {
	mu       sync.Mutex
	produced []producedRecord
	err      error
}

type producedRecord struct {
	topic string
	key   string
	value any
}

func (p *fakeProducer) ProduceJSON(_ context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.produced = append(p.produced, producedRecord{topic: topic, key: key, value: v})
	return nil
}

type fakeDLQ struct {
	mu    sync.Mutex
	sent  []*consumer.Message
	cause []error
}

func (d *fakeDLQ) Send(_ context.Context, msg *consumer.Message, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	d.cause = append(d.cause, cause)
	return nil
}

type AssignWorkerSuite struct {
	suite.Suite
	policy   *policymemory.InMemoryStore
	ledger   *ledgermemory.InMemoryStore
	leads    *leadmemory.InMemoryStore
	producer *fakeProducer
	dlq      *fakeDLQ
	worker   *Worker
}

func TestAssignWorkerSuite(t *testing.T) {
	suite.Run(t, new(AssignWorkerSuite))
}

func (s *AssignWorkerSuite) SetupTest() {
	s.policy = policymemory.NewInMemoryStore()
	s.ledger = ledgermemory.NewInMemoryStore()
	s.leads = leadmemory.NewInMemoryStore()
	s.producer = &fakeProducer{}
	s.dlq = &fakeDLQ{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWorker(
		s.policy, s.ledger, s.leads, s.producer, s.dlq,
		"lead-assignments", logger,
		WithRand(rand.New(rand.NewSource(42))),
	)
	s.Require().NoError(err)
	s.worker = w
}

func (s *AssignWorkerSuite) registerTreatment(id string, active bool) {
	err := s.policy.Register(context.Background(), policy.Treatment{
		ID:           domain.TreatmentID(id),
		Label:        id,
		Active:       active,
		SuccessCount: 1,
		FailureCount: 1,
	})
	s.Require().NoError(err)
}

func (s *AssignWorkerSuite) scoredLead(id string, score float64) *consumer.Message {
	payload, err := json.Marshal(event.ScoredLead{
		LeadID:    id,
		Score:     score,
		Category:  "saas",
		Timestamp: time.Now().UTC(),
	})
	s.Require().NoError(err)
	return &consumer.Message{Topic: "scored-leads", Key: []byte(id), Value: payload}
}

func (s *AssignWorkerSuite) TestMalformedPayloadGoesToDeadLetter() {
	msg := &consumer.Message{Topic: "scored-leads", Value: []byte("{not json")}

	err := s.worker.Handle(context.Background(), msg)

	s.NoError(err, "malformed payloads commit after dead-lettering")
	s.Len(s.dlq.sent, 1)
	s.Empty(s.producer.produced)
}

func (s *AssignWorkerSuite) TestMissingLeadIDGoesToDeadLetter() {
	msg := s.scoredLead("", 0.9)

	err := s.worker.Handle(context.Background(), msg)

	s.NoError(err)
	s.Len(s.dlq.sent, 1)
}

func (s *AssignWorkerSuite) TestBelowThresholdHoldsLead() {
	s.registerTreatment("warm-intro", true)

	err := s.worker.Handle(context.Background(), s.scoredLead("L1", 0.2))

	s.NoError(err)
	s.Empty(s.producer.produced, "no assignment event for a held lead")

	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusScored, l.Status)
}

func (s *AssignWorkerSuite) TestAssignsAndEmitsEvent() {
	s.registerTreatment("warm-intro", true)

	err := s.worker.Handle(context.Background(), s.scoredLead("L1", 0.9))
	s.Require().NoError(err)

	a, err := s.ledger.GetByLead(context.Background(), "L1")
	s.Require().NoError(err)
	s.EqualValues("warm-intro", a.TreatmentID)

	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusAssigned, l.Status)

	t, err := s.policy.Get(context.Background(), "warm-intro")
	s.Require().NoError(err)
	s.EqualValues(1, t.Assigned)

	s.Require().Len(s.producer.produced, 1)
	s.Equal("lead-assignments", s.producer.produced[0].topic)
	s.Equal("L1", s.producer.produced[0].key)
	out, ok := s.producer.produced[0].value.(event.Assignment)
	s.Require().True(ok)
	s.Equal("warm-intro", out.TreatmentID)
}

func (s *AssignWorkerSuite) TestDuplicateDeliveryCreatesOneAssignment() {
	s.registerTreatment("warm-intro", true)
	ctx := context.Background()

	s.Require().NoError(s.worker.Handle(ctx, s.scoredLead("L1", 0.9)))
	s.Require().NoError(s.worker.Handle(ctx, s.scoredLead("L1", 0.9)))

	t, err := s.policy.Get(ctx, "warm-intro")
	s.Require().NoError(err)
	s.EqualValues(1, t.Assigned, "duplicate delivery must not double-count")

	// The event is re-emitted on the duplicate path so a crash between
	// assignment and produce cannot strand the lead.
	s.Len(s.producer.produced, 2)
}

func (s *AssignWorkerSuite) TestStarvedPolicyHoldsOffset() {
	s.registerTreatment("warm-intro", false)

	err := s.worker.Handle(context.Background(), s.scoredLead("L1", 0.9))

	s.ErrorIs(err, bandit.ErrNoEligibleTreatment, "offset must stay uncommitted")
	s.Empty(s.producer.produced)

	l, err := s.leads.Get(context.Background(), "L1")
	s.Require().NoError(err)
	s.Equal(lead.StatusScored, l.Status, "lead stays SCORED for retry")
}
