package domain

import "fmt"

// LeadID is the external identifier a lead arrives with. It is opaque to the
// engine and doubles as the partition key for every event about the lead.
//
// Usage: construct via ParseLeadID at trust boundaries (event payloads, HTTP);
// direct casting bypasses validation.
type LeadID string

// ParseLeadID validates a lead identifier from external input.
func ParseLeadID(s string) (LeadID, error) {
	if s == "" {
		return "", fmt.Errorf("lead id cannot be empty")
	}
	return LeadID(s), nil
}

func (id LeadID) String() string {
	return string(id)
}

// IsNil returns true if the lead id is empty.
func (id LeadID) IsNil() bool {
	return id == ""
}

// TreatmentID identifies one outreach treatment (experiment arm). Defined at
// configuration time and stable for the life of the treatment.
type TreatmentID string

// ParseTreatmentID validates a treatment identifier from external input.
func ParseTreatmentID(s string) (TreatmentID, error) {
	if s == "" {
		return "", fmt.Errorf("treatment id cannot be empty")
	}
	return TreatmentID(s), nil
}

func (id TreatmentID) String() string {
	return string(id)
}

// IsNil returns true if the treatment id is empty.
func (id TreatmentID) IsNil() bool {
	return id == ""
}
