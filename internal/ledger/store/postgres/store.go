package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/ledger"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

// Store implements ledger.Store on Postgres. TryAssign relies on the
// primary key and ON CONFLICT DO NOTHING for its insert-if-absent
// atomicity; the transition guards are conditional UPDATEs, so every
// operation is a single statement and correct across processes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) TryAssign(ctx context.Context, leadID domain.LeadID, treatmentID domain.TreatmentID) (ledger.AssignResult, error) {
	insert := `
		INSERT INTO assignments (lead_id, treatment_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lead_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, insert, string(leadID), string(treatmentID), time.Now())
	if err != nil {
		return ledger.AssignResult{}, fmt.Errorf("insert assignment for lead %s: %w", leadID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.AssignResult{}, fmt.Errorf("insert assignment for lead %s: %w", leadID, err)
	}
	if affected == 1 {
		return ledger.AssignResult{Created: true, TreatmentID: treatmentID}, nil
	}

	// Lost the insert race (or duplicate delivery): report the winner.
	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT treatment_id FROM assignments WHERE lead_id = $1`, string(leadID),
	).Scan(&existing)
	if err != nil {
		return ledger.AssignResult{}, fmt.Errorf("read existing assignment for lead %s: %w", leadID, err)
	}
	return ledger.AssignResult{Created: false, TreatmentID: domain.TreatmentID(existing)}, nil
}

func (s *Store) RecordDispatch(ctx context.Context, leadID domain.LeadID, status ledger.DispatchStatus, externalMessageID string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("dispatch status %s: %w", status, sentinel.ErrInvalidState)
	}

	update := `
		UPDATE assignments
		SET dispatch_status = $2,
		    external_message_id = NULLIF($3, ''),
		    updated_at = now()
		WHERE lead_id = $1 AND dispatch_status = 'PENDING'
	`
	res, err := s.db.ExecContext(ctx, update, string(leadID), string(status), externalMessageID)
	if err != nil {
		return fmt.Errorf("record dispatch for lead %s: %w", leadID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record dispatch for lead %s: %w", leadID, err)
	}
	if affected == 1 {
		return nil
	}
	return s.classifyMiss(ctx, leadID, sentinel.ErrInvalidState)
}

func (s *Store) RecordOutcome(ctx context.Context, leadID domain.LeadID, outcome ledger.OutcomeStatus) error {
	if outcome != ledger.OutcomeConverted && outcome != ledger.OutcomeNoConversion {
		return fmt.Errorf("outcome %s: %w", outcome, sentinel.ErrInvalidState)
	}

	update := `
		UPDATE assignments
		SET outcome_status = $2, updated_at = now()
		WHERE lead_id = $1 AND outcome_status = 'UNRESOLVED'
	`
	res, err := s.db.ExecContext(ctx, update, string(leadID), string(outcome))
	if err != nil {
		return fmt.Errorf("record outcome for lead %s: %w", leadID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome for lead %s: %w", leadID, err)
	}
	if affected == 1 {
		return nil
	}
	return s.classifyMiss(ctx, leadID, sentinel.ErrAlreadyResolved)
}

// classifyMiss distinguishes "no such assignment" from "guard rejected the
// transition" after a conditional update touched zero rows.
func (s *Store) classifyMiss(ctx context.Context, leadID domain.LeadID, guardErr error) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM assignments WHERE lead_id = $1`, string(leadID),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check assignment for lead %s: %w", leadID, err)
	}
	return fmt.Errorf("assignment for lead %s: %w", leadID, guardErr)
}

func (s *Store) GetByLead(ctx context.Context, leadID domain.LeadID) (*ledger.Assignment, error) {
	return s.get(ctx, `WHERE lead_id = $1`, string(leadID))
}

func (s *Store) GetByMessageID(ctx context.Context, externalMessageID string) (*ledger.Assignment, error) {
	return s.get(ctx, `WHERE external_message_id = $1`, externalMessageID)
}

func (s *Store) get(ctx context.Context, where string, arg any) (*ledger.Assignment, error) {
	query := `
		SELECT lead_id, treatment_id, assigned_at, dispatch_status,
		       outcome_status, COALESCE(external_message_id, ''), updated_at
		FROM assignments ` + where

	var a ledger.Assignment
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.LeadID, &a.TreatmentID, &a.AssignedAt, &a.DispatchStatus,
		&a.OutcomeStatus, &a.ExternalMessageID, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

func (s *Store) UnresolvedCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE outcome_status = 'UNRESOLVED'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved assignments: %w", err)
	}
	return n, nil
}
