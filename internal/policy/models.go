// Package policy owns the durable belief state for each outreach treatment.
// Its stores are the only code permitted to mutate Treatment records; every
// mutation is a store-level atomic operation so concurrent workers on the
// same treatment never lose updates.
package policy

import (
	"time"

	"leadflow/pkg/domain"
)

// Treatment is one experiment arm competing for selection. SuccessCount and
// FailureCount are the Beta posterior shape parameters; they start at the
// configured priors and only ever grow. Treatments are never deleted, only
// deactivated.
type Treatment struct {
	ID           domain.TreatmentID
	Label        string
	Active       bool
	SuccessCount int64
	FailureCount int64

	// Aggregate counters, maintained by the assignment and dispatch
	// stages and the reconciler.
	Assigned   int64
	Dispatched int64
	Converted  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversionRate is derived, never stored.
func (t Treatment) ConversionRate() float64 {
	if t.Assigned == 0 {
		return 0
	}
	return float64(t.Converted) / float64(t.Assigned)
}
