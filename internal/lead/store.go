package lead

import (
	"context"

	"leadflow/pkg/domain"
)

// Store is the lead registry contract.
type Store interface {
	// UpsertScored creates the lead as SCORED or refreshes its score and
	// category. Leads already past SCORED keep their current status;
	// redelivered scored events never move a lead backwards.
	UpsertScored(ctx context.Context, id domain.LeadID, score float64, category string) error

	// SetAssigned moves a SCORED lead to ASSIGNED with its treatment.
	SetAssigned(ctx context.Context, id domain.LeadID, treatmentID domain.TreatmentID) error

	// SetStatus applies a forward transition (DISPATCHED, RESOLVED,
	// ABANDONED). Terminal leads are left untouched.
	SetStatus(ctx context.Context, id domain.LeadID, status Status) error

	Get(ctx context.Context, id domain.LeadID) (*Lead, error)
}
