package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"leadflow/internal/policy"
	"leadflow/pkg/platform/sentinel"
)

type PolicyMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestPolicyMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(PolicyMemoryStoreSuite))
}

func (s *PolicyMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	ctx := context.Background()
	s.Require().NoError(s.store.Register(ctx, policy.Treatment{
		ID: "warm-intro", Label: "Warm intro", Active: true, SuccessCount: 1, FailureCount: 1,
	}))
	s.Require().NoError(s.store.Register(ctx, policy.Treatment{
		ID: "case-study", Label: "Case study", Active: false, SuccessCount: 2, FailureCount: 3,
	}))
}

func (s *PolicyMemoryStoreSuite) TestSnapshotActiveOnly() {
	ctx := context.Background()

	arms, err := s.store.Snapshot(ctx, true)
	s.NoError(err)
	s.Len(arms, 1)
	s.EqualValues("warm-intro", arms[0].TreatmentID)

	arms, err = s.store.Snapshot(ctx, false)
	s.NoError(err)
	s.Len(arms, 2)
}

func (s *PolicyMemoryStoreSuite) TestApplyOutcome() {
	ctx := context.Background()

	s.Run("converted increments success and converted", func() {
		s.NoError(s.store.ApplyOutcome(ctx, "warm-intro", true))
		t, err := s.store.Get(ctx, "warm-intro")
		s.Require().NoError(err)
		s.EqualValues(2, t.SuccessCount)
		s.EqualValues(1, t.FailureCount)
		s.EqualValues(1, t.Converted)
	})

	s.Run("not converted increments failure only", func() {
		s.NoError(s.store.ApplyOutcome(ctx, "warm-intro", false))
		t, err := s.store.Get(ctx, "warm-intro")
		s.Require().NoError(err)
		s.EqualValues(2, t.FailureCount)
	})

	s.Run("unknown treatment returns not found", func() {
		err := s.store.ApplyOutcome(ctx, "missing", true)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// successCount + failureCount must grow by exactly N after N outcomes, even
// with many goroutines racing on the same treatment.
func (s *PolicyMemoryStoreSuite) TestApplyOutcomeNoLostUpdates() {
	ctx := context.Background()
	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(converted bool) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.NoError(s.store.ApplyOutcome(ctx, "warm-intro", converted))
			}
		}(i%2 == 0)
	}
	wg.Wait()

	t, err := s.store.Get(ctx, "warm-intro")
	s.Require().NoError(err)
	// Priors were (1, 1): total evidence must be exactly workers*perWorker.
	s.EqualValues(2+workers*perWorker, t.SuccessCount+t.FailureCount)
}

func (s *PolicyMemoryStoreSuite) TestRegisterNeverResetsBeliefs() {
	ctx := context.Background()
	s.Require().NoError(s.store.ApplyOutcome(ctx, "warm-intro", true))

	s.Require().NoError(s.store.Register(ctx, policy.Treatment{
		ID: "warm-intro", Label: "Warm intro v2", Active: false, SuccessCount: 1, FailureCount: 1,
	}))

	t, err := s.store.Get(ctx, "warm-intro")
	s.Require().NoError(err)
	s.Equal("Warm intro v2", t.Label)
	s.False(t.Active)
	s.EqualValues(2, t.SuccessCount, "re-registration must not reset beliefs")
}

func (s *PolicyMemoryStoreSuite) TestSetActive() {
	ctx := context.Background()

	s.NoError(s.store.SetActive(ctx, "case-study", true))
	arms, err := s.store.Snapshot(ctx, true)
	s.Require().NoError(err)
	s.Len(arms, 2)

	s.NoError(s.store.SetActive(ctx, "warm-intro", false))
	arms, err = s.store.Snapshot(ctx, true)
	s.Require().NoError(err)
	s.Require().Len(arms, 1)
	s.EqualValues("case-study", arms[0].TreatmentID)

	s.ErrorIs(s.store.SetActive(ctx, "missing", true), sentinel.ErrNotFound)
}

func (s *PolicyMemoryStoreSuite) TestStageCounters() {
	ctx := context.Background()
	s.NoError(s.store.IncrementAssigned(ctx, "warm-intro"))
	s.NoError(s.store.IncrementAssigned(ctx, "warm-intro"))
	s.NoError(s.store.IncrementDispatched(ctx, "warm-intro"))

	t, err := s.store.Get(ctx, "warm-intro")
	s.Require().NoError(err)
	s.EqualValues(2, t.Assigned)
	s.EqualValues(1, t.Dispatched)
}
