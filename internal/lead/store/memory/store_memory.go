package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadflow/internal/lead"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// InMemoryStore implements lead.Store for tests and local runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads map[domain.LeadID]*lead.Lead
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{leads: make(map[domain.LeadID]*lead.Lead)}
}

func (s *InMemoryStore) UpsertScored(_ context.Context, id domain.LeadID, score float64, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[id]
	if !ok {
		s.leads[id] = &lead.Lead{
			ID: id, Status: lead.StatusScored, Score: score, Category: category, UpdatedAt: time.Now(),
		}
		return nil
	}

	l.Score = score
	l.Category = category
	if l.Status == lead.StatusRaw {
		l.Status = lead.StatusScored
	}
	l.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetAssigned(_ context.Context, id domain.LeadID, treatmentID domain.TreatmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, sentinel.ErrNotFound)
	}
	if l.Status.IsTerminal() {
		return nil
	}
	l.Status = lead.StatusAssigned
	l.TreatmentID = treatmentID
	l.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, id domain.LeadID, status lead.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, sentinel.ErrNotFound)
	}
	if l.Status.IsTerminal() {
		return nil
	}
	l.Status = status
	l.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.LeadID) (*lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, sentinel.ErrNotFound)
	}
	copied := *l
	return &copied, nil
}
