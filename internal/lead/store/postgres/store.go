package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadflow/internal/lead"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// Store implements lead.Store on Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertScored(ctx context.Context, id domain.LeadID, score float64, category string) error {
	query := `
		INSERT INTO leads (id, status, score, category)
		VALUES ($1, 'SCORED', $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET score = EXCLUDED.score,
		    category = EXCLUDED.category,
		    status = CASE WHEN leads.status = 'RAW' THEN 'SCORED' ELSE leads.status END,
		    updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query, string(id), score, category); err != nil {
		return fmt.Errorf("upsert scored lead %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetAssigned(ctx context.Context, id domain.LeadID, treatmentID domain.TreatmentID) error {
	query := `
		UPDATE leads
		SET status = 'ASSIGNED', treatment_id = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('RESOLVED', 'ABANDONED')
	`
	return s.exec(ctx, id, query, string(treatmentID))
}

func (s *Store) SetStatus(ctx context.Context, id domain.LeadID, status lead.Status) error {
	query := `
		UPDATE leads
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('RESOLVED', 'ABANDONED')
	`
	return s.exec(ctx, id, query, string(status))
}

func (s *Store) exec(ctx context.Context, id domain.LeadID, query string, extra ...any) error {
	args := append([]any{string(id)}, extra...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update lead %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead %s: %w", id, err)
	}
	if affected == 0 {
		// Terminal leads absorb transitions silently; only a missing row
		// is reported.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = $1`, string(id)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lead %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check lead %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.LeadID) (*lead.Lead, error) {
	query := `
		SELECT id, status, score, category, COALESCE(treatment_id, ''), updated_at
		FROM leads WHERE id = $1
	`
	var l lead.Lead
	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(
		&l.ID, &l.Status, &l.Score, &l.Category, &l.TreatmentID, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return &l, nil
}
