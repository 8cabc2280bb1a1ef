package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadflow/internal/bandit"
	"leadflow/internal/policy"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// Store implements policy.Store on Postgres. All counter mutations are
// in-database increments, so they stay correct under concurrent reconciler
// processes; nothing here does read-modify-write on counters.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Snapshot(ctx context.Context, activeOnly bool) ([]bandit.Arm, error) {
	query := `
		SELECT id, success_count, failure_count
		FROM treatments
		WHERE NOT $1 OR active
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query treatment snapshot: %w", err)
	}
	defer rows.Close()

	var arms []bandit.Arm
	for rows.Next() {
		var arm bandit.Arm
		if err := rows.Scan(&arm.TreatmentID, &arm.SuccessCount, &arm.FailureCount); err != nil {
			return nil, fmt.Errorf("scan treatment snapshot: %w", err)
		}
		arms = append(arms, arm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate treatment snapshot: %w", err)
	}
	return arms, nil
}

func (s *Store) ApplyOutcome(ctx context.Context, id domain.TreatmentID, converted bool) error {
	query := `
		UPDATE treatments
		SET success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
		    converted     = converted     + CASE WHEN $2 THEN 1 ELSE 0 END,
		    updated_at    = now()
		WHERE id = $1
	`
	return s.execOnTreatment(ctx, id, query, converted)
}

func (s *Store) IncrementAssigned(ctx context.Context, id domain.TreatmentID) error {
	query := `UPDATE treatments SET assigned = assigned + 1, updated_at = now() WHERE id = $1`
	return s.execOnTreatment(ctx, id, query)
}

func (s *Store) IncrementDispatched(ctx context.Context, id domain.TreatmentID) error {
	query := `UPDATE treatments SET dispatched = dispatched + 1, updated_at = now() WHERE id = $1`
	return s.execOnTreatment(ctx, id, query)
}

func (s *Store) execOnTreatment(ctx context.Context, id domain.TreatmentID, query string, extra ...any) error {
	args := append([]any{string(id)}, extra...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update treatment %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update treatment %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("treatment %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Register(ctx context.Context, t policy.Treatment) error {
	// Beliefs and aggregates are written on first insert only; a
	// re-registration may change the label and active flag but never the
	// counters.
	query := `
		INSERT INTO treatments (id, label, active, success_count, failure_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET label = EXCLUDED.label, active = EXCLUDED.active, updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query,
		string(t.ID), t.Label, t.Active, t.SuccessCount, t.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("register treatment %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SetActive(ctx context.Context, id domain.TreatmentID, active bool) error {
	query := `UPDATE treatments SET active = $2, updated_at = now() WHERE id = $1`
	return s.execOnTreatment(ctx, id, query, active)
}

func (s *Store) Get(ctx context.Context, id domain.TreatmentID) (*policy.Treatment, error) {
	query := `
		SELECT id, label, active, success_count, failure_count,
		       assigned, dispatched, converted, created_at, updated_at
		FROM treatments WHERE id = $1
	`
	var t policy.Treatment
	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(
		&t.ID, &t.Label, &t.Active, &t.SuccessCount, &t.FailureCount,
		&t.Assigned, &t.Dispatched, &t.Converted, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("treatment %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get treatment %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context) ([]policy.Treatment, error) {
	query := `
		SELECT id, label, active, success_count, failure_count,
		       assigned, dispatched, converted, created_at, updated_at
		FROM treatments ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()

	var out []policy.Treatment
	for rows.Next() {
		var t policy.Treatment
		if err := rows.Scan(
			&t.ID, &t.Label, &t.Active, &t.SuccessCount, &t.FailureCount,
			&t.Assigned, &t.Dispatched, &t.Converted, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan treatment: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate treatments: %w", err)
	}
	return out, nil
}
