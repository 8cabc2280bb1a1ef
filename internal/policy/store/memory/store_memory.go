package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadflow/internal/bandit"
	"leadflow/internal/policy"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// InMemoryStore implements policy.Store behind a single mutex, so every
// counter mutation is atomic with respect to concurrent reconcilers in the
// same process. Used by unit tests and single-node development.
type InMemoryStore struct {
	mu         sync.RWMutex
	treatments map[domain.TreatmentID]*policy.Treatment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{treatments: make(map[domain.TreatmentID]*policy.Treatment)}
}

func (s *InMemoryStore) Snapshot(_ context.Context, activeOnly bool) ([]bandit.Arm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var arms []bandit.Arm
	for _, t := range s.treatments {
		if activeOnly && !t.Active {
			continue
		}
		arms = append(arms, bandit.Arm{
			TreatmentID:  t.ID,
			SuccessCount: t.SuccessCount,
			FailureCount: t.FailureCount,
		})
	}
	sort.Slice(arms, func(i, j int) bool { return arms[i].TreatmentID < arms[j].TreatmentID })
	return arms, nil
}

func (s *InMemoryStore) ApplyOutcome(_ context.Context, id domain.TreatmentID, converted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treatments[id]
	if !ok {
		return fmt.Errorf("treatment %s: %w", id, sentinel.ErrNotFound)
	}
	if converted {
		t.SuccessCount++
		t.Converted++
	} else {
		t.FailureCount++
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) IncrementAssigned(_ context.Context, id domain.TreatmentID) error {
	return s.mutate(id, func(t *policy.Treatment) { t.Assigned++ })
}

func (s *InMemoryStore) IncrementDispatched(_ context.Context, id domain.TreatmentID) error {
	return s.mutate(id, func(t *policy.Treatment) { t.Dispatched++ })
}

func (s *InMemoryStore) mutate(id domain.TreatmentID, apply func(*policy.Treatment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treatments[id]
	if !ok {
		return fmt.Errorf("treatment %s: %w", id, sentinel.ErrNotFound)
	}
	apply(t)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Register(_ context.Context, t policy.Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.treatments[t.ID]; ok {
		// Definition fields follow the config; beliefs never reset.
		existing.Label = t.Label
		existing.Active = t.Active
		existing.UpdatedAt = now
		return nil
	}

	t.CreatedAt = now
	t.UpdatedAt = now
	s.treatments[t.ID] = &t
	return nil
}

func (s *InMemoryStore) SetActive(_ context.Context, id domain.TreatmentID, active bool) error {
	return s.mutate(id, func(t *policy.Treatment) { t.Active = active })
}

func (s *InMemoryStore) Get(_ context.Context, id domain.TreatmentID) (*policy.Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.treatments[id]
	if !ok {
		return nil, fmt.Errorf("treatment %s: %w", id, sentinel.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]policy.Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]policy.Treatment, 0, len(s.treatments))
	for _, t := range s.treatments {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
