// Package event defines the JSON payloads exchanged over the bus. Keys are
// always the lead identifier (or the external message id for outcomes keyed
// by provider), so per-lead ordering holds within a partition.
package event

import "time"

// Outcome values carried by outcome events.
const (
	OutcomeConverted    = "converted"
	OutcomeNoConversion = "no_conversion"
)

// ScoredLead arrives on the scored-leads topic from the upstream scoring
// stage.
type ScoredLead struct {
	LeadID    string    `json:"lead_id"`
	Score     float64   `json:"score"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// Assignment is the internal hand-off from the assignment worker to the
// dispatcher on the lead-assignments topic.
type Assignment struct {
	LeadID      string    `json:"lead_id"`
	TreatmentID string    `json:"treatment_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// Outcome arrives on the outreach-outcomes topic. Exactly one of LeadID or
// ExternalMessageID identifies the assignment.
type Outcome struct {
	LeadID            string    `json:"lead_id,omitempty"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Outcome           string    `json:"outcome"`
	Timestamp         time.Time `json:"timestamp"`
}

// OutreachEvent is emitted on the outreach-events topic after every
// dispatch attempt resolves, for observability collaborators.
type OutreachEvent struct {
	LeadID            string    `json:"lead_id"`
	TreatmentID       string    `json:"treatment_id"`
	DispatchStatus    string    `json:"dispatch_status"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
