// Package ledger owns the durable record binding one lead to one treatment.
// The ledger's insert-if-absent TryAssign is the system's core concurrency
// guard: no matter how many times a scored-lead event is delivered, at most
// one assignment exists per lead.
package ledger

import (
	"time"

	"leadflow/pkg/domain"
)

// DispatchStatus tracks the outreach send for an assignment.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING"
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
)

// IsTerminal reports whether the dispatch state accepts no further
// transitions.
func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchSent || s == DispatchFailed
}

// OutcomeStatus tracks the delayed conversion signal. UNRESOLVED is a valid
// long-lived state: assignments do not age out.
type OutcomeStatus string

const (
	OutcomeUnresolved   OutcomeStatus = "UNRESOLVED"
	OutcomeConverted    OutcomeStatus = "CONVERTED"
	OutcomeNoConversion OutcomeStatus = "NO_CONVERSION"
)

// Assignment is the append-only audit record for one lead's outreach
// lifecycle. Once dispatch reaches SENT the treatment id is immutable; no
// store operation rewrites it.
type Assignment struct {
	LeadID            domain.LeadID
	TreatmentID       domain.TreatmentID
	AssignedAt        time.Time
	DispatchStatus    DispatchStatus
	OutcomeStatus     OutcomeStatus
	ExternalMessageID string
	UpdatedAt         time.Time
}

// AssignResult reports whether TryAssign created the assignment or lost to
// an existing one; TreatmentID is the winner either way.
type AssignResult struct {
	Created     bool
	TreatmentID domain.TreatmentID
}
