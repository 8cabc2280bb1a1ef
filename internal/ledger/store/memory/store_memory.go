package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadflow/internal/ledger"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// InMemoryStore implements ledger.Store with a mutex-guarded map. The map
// insert under lock gives TryAssign its insert-if-absent atomicity within
// one process; multi-process deployments use the postgres or redis store.
type InMemoryStore struct {
	mu          sync.RWMutex
	assignments map[domain.LeadID]*ledger.Assignment
	byMessageID map[string]domain.LeadID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		assignments: make(map[domain.LeadID]*ledger.Assignment),
		byMessageID: make(map[string]domain.LeadID),
	}
}

func (s *InMemoryStore) TryAssign(_ context.Context, leadID domain.LeadID, treatmentID domain.TreatmentID) (ledger.AssignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assignments[leadID]; ok {
		return ledger.AssignResult{Created: false, TreatmentID: existing.TreatmentID}, nil
	}

	now := time.Now()
	s.assignments[leadID] = &ledger.Assignment{
		LeadID:         leadID,
		TreatmentID:    treatmentID,
		AssignedAt:     now,
		DispatchStatus: ledger.DispatchPending,
		OutcomeStatus:  ledger.OutcomeUnresolved,
		UpdatedAt:      now,
	}
	return ledger.AssignResult{Created: true, TreatmentID: treatmentID}, nil
}

func (s *InMemoryStore) RecordDispatch(_ context.Context, leadID domain.LeadID, status ledger.DispatchStatus, externalMessageID string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("dispatch status %s: %w", status, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[leadID]
	if !ok {
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	}
	if a.DispatchStatus != ledger.DispatchPending {
		return fmt.Errorf("assignment for lead %s is %s: %w", leadID, a.DispatchStatus, sentinel.ErrInvalidState)
	}

	a.DispatchStatus = status
	a.ExternalMessageID = externalMessageID
	a.UpdatedAt = time.Now()
	if externalMessageID != "" {
		s.byMessageID[externalMessageID] = leadID
	}
	return nil
}

func (s *InMemoryStore) RecordOutcome(_ context.Context, leadID domain.LeadID, outcome ledger.OutcomeStatus) error {
	if outcome != ledger.OutcomeConverted && outcome != ledger.OutcomeNoConversion {
		return fmt.Errorf("outcome %s: %w", outcome, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[leadID]
	if !ok {
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	}
	if a.OutcomeStatus != ledger.OutcomeUnresolved {
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrAlreadyResolved)
	}

	a.OutcomeStatus = outcome
	a.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetByLead(_ context.Context, leadID domain.LeadID) (*ledger.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[leadID]
	if !ok {
		return nil, fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	}
	copied := *a
	return &copied, nil
}

func (s *InMemoryStore) GetByMessageID(ctx context.Context, externalMessageID string) (*ledger.Assignment, error) {
	s.mu.RLock()
	leadID, ok := s.byMessageID[externalMessageID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("assignment for message %s: %w", externalMessageID, sentinel.ErrNotFound)
	}
	return s.GetByLead(ctx, leadID)
}

func (s *InMemoryStore) UnresolvedCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, a := range s.assignments {
		if a.OutcomeStatus == ledger.OutcomeUnresolved {
			n++
		}
	}
	return n, nil
}
