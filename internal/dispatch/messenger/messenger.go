// Package messenger defines the outbound messaging adapter contract and its
// two implementations: a real HTTP provider client and a heuristic
// simulator for environments without provider credentials. The choice is
// made once at wiring time; business logic never branches on the mode.
package messenger

import (
	"context"

	"leadflow/pkg/domain"
)

// Outreach is one send request.
type Outreach struct {
	LeadID      domain.LeadID
	TreatmentID domain.TreatmentID
	Payload     map[string]string
}

// Receipt is the provider's answer. Accepted=false with a nil error means
// the provider rejected the message (bad recipient, suppression list); the
// dispatcher treats that like a failed attempt.
type Receipt struct {
	ExternalMessageID string
	Accepted          bool
}

// Messenger is the only suspend point in the dispatcher; implementations
// must honor ctx deadlines so one stuck call cannot stall throughput.
type Messenger interface {
	Send(ctx context.Context, req Outreach) (Receipt, error)
}
