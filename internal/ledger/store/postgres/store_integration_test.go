//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"leadflow/internal/ledger"
	ledgerpg "leadflow/internal/ledger/store/postgres"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
	"leadflow/pkg/testutil/containers"
)

type LedgerPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledgerpg.Store
}

func TestLedgerPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerPostgresSuite))
}

func (s *LedgerPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = ledgerpg.New(s.postgres.DB)
}

func (s *LedgerPostgresSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "assignments", "leads", "treatments"))
	s.seedTreatment("warm-intro")
	s.seedTreatment("case-study")
}

func (s *LedgerPostgresSuite) seedTreatment(id string) {
	_, err := s.postgres.DB.ExecContext(context.Background(),
		`INSERT INTO treatments (id, label, active, success_count, failure_count)
		 VALUES ($1, $1, TRUE, 1, 1) ON CONFLICT (id) DO NOTHING`, id)
	s.Require().NoError(err)
}

// Concurrent TryAssign for one lead must create exactly one row; everyone
// else observes the winner's treatment.
func (s *LedgerPostgresSuite) TestConcurrentTryAssign() {
	ctx := context.Background()
	const goroutines = 50

	var wg sync.WaitGroup
	var created atomic.Int32
	treatments := make([]domain.TreatmentID, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tid := domain.TreatmentID("warm-intro")
			if idx%2 == 0 {
				tid = "case-study"
			}
			res, err := s.store.TryAssign(ctx, "L1", tid)
			s.NoError(err)
			if res.Created {
				created.Add(1)
			}
			treatments[idx] = res.TreatmentID
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), created.Load(), "exactly one TryAssign should create")

	winner, err := s.store.GetByLead(ctx, "L1")
	s.Require().NoError(err)
	for _, tid := range treatments {
		s.Equal(winner.TreatmentID, tid, "every caller sees the winning treatment")
	}
}

func (s *LedgerPostgresSuite) TestDispatchTransitions() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)

	s.Run("pending to sent", func() {
		s.Require().NoError(s.store.RecordDispatch(ctx, "L1", ledger.DispatchSent, "msg-1"))

		a, err := s.store.GetByLead(ctx, "L1")
		s.Require().NoError(err)
		s.Equal(ledger.DispatchSent, a.DispatchStatus)
		s.Equal("msg-1", a.ExternalMessageID)
	})

	s.Run("sent is terminal", func() {
		err := s.store.RecordDispatch(ctx, "L1", ledger.DispatchFailed, "")
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("missing lead", func() {
		err := s.store.RecordDispatch(ctx, "ghost", ledger.DispatchSent, "msg-2")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *LedgerPostgresSuite) TestOutcomeIdempotence() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)

	s.Require().NoError(s.store.RecordOutcome(ctx, "L1", ledger.OutcomeConverted))

	err = s.store.RecordOutcome(ctx, "L1", ledger.OutcomeConverted)
	s.ErrorIs(err, sentinel.ErrAlreadyResolved)

	err = s.store.RecordOutcome(ctx, "L1", ledger.OutcomeNoConversion)
	s.ErrorIs(err, sentinel.ErrAlreadyResolved, "conflicting outcome keeps the first resolution")

	a, err := s.store.GetByLead(ctx, "L1")
	s.Require().NoError(err)
	s.Equal(ledger.OutcomeConverted, a.OutcomeStatus)
}

// Concurrent RecordOutcome for one assignment must resolve exactly once.
func (s *LedgerPostgresSuite) TestConcurrentRecordOutcome() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)

	const goroutines = 30
	var wg sync.WaitGroup
	var resolved, duplicates atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RecordOutcome(ctx, "L1", ledger.OutcomeConverted)
			switch {
			case err == nil:
				resolved.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyResolved):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), resolved.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())
}

func (s *LedgerPostgresSuite) TestGetByMessageID() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)
	s.Require().NoError(s.store.RecordDispatch(ctx, "L1", ledger.DispatchSent, "msg-1"))

	a, err := s.store.GetByMessageID(ctx, "msg-1")
	s.Require().NoError(err)
	s.EqualValues("L1", a.LeadID)

	_, err = s.store.GetByMessageID(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *LedgerPostgresSuite) TestUnresolvedCount() {
	ctx := context.Background()
	for _, id := range []domain.LeadID{"L1", "L2", "L3"} {
		_, err := s.store.TryAssign(ctx, id, "warm-intro")
		s.Require().NoError(err)
	}

	n, err := s.store.UnresolvedCount(ctx)
	s.Require().NoError(err)
	s.EqualValues(3, n)

	s.Require().NoError(s.store.RecordOutcome(ctx, "L2", ledger.OutcomeNoConversion))

	n, err = s.store.UnresolvedCount(ctx)
	s.Require().NoError(err)
	s.EqualValues(2, n)
}
