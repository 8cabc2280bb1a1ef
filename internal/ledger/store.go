package ledger

import (
	"context"

	"leadflow/pkg/domain"
)

// Store is the assignment ledger contract. TryAssign must be atomic
// insert-if-absent, never read-then-write: two concurrent calls for the
// same lead must not both create assignments.
type Store interface {
	// TryAssign creates the assignment if none exists. On conflict it
	// returns the existing treatment id with Created=false; this is the
	// expected duplicate-delivery path, not an error.
	TryAssign(ctx context.Context, leadID domain.LeadID, treatmentID domain.TreatmentID) (AssignResult, error)

	// RecordDispatch transitions PENDING -> SENT or PENDING -> FAILED.
	// Any other starting state returns sentinel.ErrInvalidState; a missing
	// assignment returns sentinel.ErrNotFound.
	RecordDispatch(ctx context.Context, leadID domain.LeadID, status DispatchStatus, externalMessageID string) error

	// RecordOutcome transitions UNRESOLVED -> CONVERTED/NO_CONVERSION.
	// An already-resolved assignment returns sentinel.ErrAlreadyResolved
	// so redelivered outcome events are safe no-ops.
	RecordOutcome(ctx context.Context, leadID domain.LeadID, outcome OutcomeStatus) error

	GetByLead(ctx context.Context, leadID domain.LeadID) (*Assignment, error)

	// GetByMessageID resolves a provider message id back to its
	// assignment, for outcome events keyed by external message id.
	GetByMessageID(ctx context.Context, externalMessageID string) (*Assignment, error)

	// UnresolvedCount feeds the operator-facing gauge; unresolved
	// assignments never age out, so visibility matters.
	UnresolvedCount(ctx context.Context) (int64, error)
}
