// Package lead tracks each lead's position in the outreach lifecycle. The
// registry is observational: the ledger, not the lead row, is the
// concurrency guard, so lead transitions are simple guarded updates.
package lead

import (
	"time"

	"leadflow/pkg/domain"
)

// Status is the lead lifecycle state. RESOLVED and ABANDONED are terminal.
type Status string

const (
	StatusRaw        Status = "RAW"
	StatusScored     Status = "SCORED"
	StatusAssigned   Status = "ASSIGNED"
	StatusDispatched Status = "DISPATCHED"
	StatusResolved   Status = "RESOLVED"
	StatusAbandoned  Status = "ABANDONED"
)

// IsTerminal reports whether no further transitions apply.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusAbandoned
}

// Lead is one ingested business lead.
type Lead struct {
	ID          domain.LeadID
	Status      Status
	Score       float64
	Category    string
	TreatmentID domain.TreatmentID
	UpdatedAt   time.Time
}
