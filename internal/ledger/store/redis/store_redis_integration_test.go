//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"leadflow/internal/ledger"
	ledgerredis "leadflow/internal/ledger/store/redis"
	"leadflow/pkg/platform/sentinel"
	"leadflow/pkg/testutil/containers"
)

type LedgerRedisSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ledgerredis.Store
}

func TestLedgerRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerRedisSuite))
}

func (s *LedgerRedisSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = ledgerredis.New(s.redis.Client)
}

func (s *LedgerRedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// The Lua script's EXISTS check and write run atomically, so racing
// TryAssign calls create exactly one assignment.
func (s *LedgerRedisSuite) TestConcurrentTryAssign() {
	ctx := context.Background()
	const goroutines = 50

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.TryAssign(ctx, "L1", "warm-intro")
			s.NoError(err)
			if res.Created {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())

	a, err := s.store.GetByLead(ctx, "L1")
	s.Require().NoError(err)
	s.EqualValues("warm-intro", a.TreatmentID)
	s.Equal(ledger.DispatchPending, a.DispatchStatus)
	s.Equal(ledger.OutcomeUnresolved, a.OutcomeStatus)
}

func (s *LedgerRedisSuite) TestDispatchTransitions() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)

	s.Require().NoError(s.store.RecordDispatch(ctx, "L1", ledger.DispatchSent, "msg-1"))

	err = s.store.RecordDispatch(ctx, "L1", ledger.DispatchFailed, "")
	s.ErrorIs(err, sentinel.ErrInvalidState)

	err = s.store.RecordDispatch(ctx, "ghost", ledger.DispatchSent, "msg-2")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *LedgerRedisSuite) TestOutcomeIdempotence() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)

	s.Require().NoError(s.store.RecordOutcome(ctx, "L1", ledger.OutcomeConverted))
	s.ErrorIs(s.store.RecordOutcome(ctx, "L1", ledger.OutcomeConverted), sentinel.ErrAlreadyResolved)
	s.ErrorIs(s.store.RecordOutcome(ctx, "L1", ledger.OutcomeNoConversion), sentinel.ErrAlreadyResolved)

	a, err := s.store.GetByLead(ctx, "L1")
	s.Require().NoError(err)
	s.Equal(ledger.OutcomeConverted, a.OutcomeStatus)
}

func (s *LedgerRedisSuite) TestGetByMessageID() {
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

func (s *LedgerRedisSuite) TestUnresolvedCount() {
	ctx := context.Background()
	_, err := s.store.TryAssign(ctx, "L1", "warm-intro")
	s.Require().NoError(err)
	_, err = s.store.TryAssign(ctx, "L2", "warm-intro")
	s.Require().NoError(err)

	n, err := s.store.UnresolvedCount(ctx)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	s.Require().NoError(s.store.RecordOutcome(ctx, "L1", ledger.OutcomeNoConversion))

	n, err = s.store.UnresolvedCount(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}
