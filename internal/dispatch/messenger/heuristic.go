package messenger

import (
	"context"

	"github.com/google/uuid"
)

// Heuristic is the no-provider implementation: it accepts every send and
// fabricates a receipt. Used in development and demo environments where no
// messaging credentials exist, selected purely by configuration.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Send(ctx context.Context, req Outreach) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		ExternalMessageID: "sim-" + uuid.NewString(),
		Accepted:          true,
	}, nil
}
