package policy

import (
	"context"

	"leadflow/internal/bandit"
	"leadflow/pkg/domain"
)

// Store is the policy store contract. Implementations must make
// ApplyOutcome and the Increment operations single atomic increments, not
// application-level read-modify-write: treatment counters are the one hot
// contended resource in the system.
type Store interface {
	// Snapshot returns the belief parameters the selector reads.
	Snapshot(ctx context.Context, activeOnly bool) ([]bandit.Arm, error)

	// ApplyOutcome increments the success count (and converted aggregate)
	// when converted, otherwise the failure count.
	// Returns sentinel.ErrNotFound for an unknown treatment.
	ApplyOutcome(ctx context.Context, id domain.TreatmentID, converted bool) error

	// IncrementAssigned and IncrementDispatched maintain the stage
	// aggregates.
	IncrementAssigned(ctx context.Context, id domain.TreatmentID) error
	IncrementDispatched(ctx context.Context, id domain.TreatmentID) error

	// Register upserts a treatment definition. Label and active flag
	// follow the definition; belief and aggregate counters are set from
	// the priors on first insert only and never reset afterwards.
	Register(ctx context.Context, t Treatment) error

	// SetActive toggles a treatment in or out of the selection pool.
	// Returns sentinel.ErrNotFound for an unknown treatment.
	SetActive(ctx context.Context, id domain.TreatmentID, active bool) error

	Get(ctx context.Context, id domain.TreatmentID) (*Treatment, error)
	List(ctx context.Context) ([]Treatment, error)
}
