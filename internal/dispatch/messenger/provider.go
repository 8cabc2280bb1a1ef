package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider sends outreach through the messaging provider's REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider builds the real adapter. The client timeout is the hard
// bound on the dispatcher's only suspend point.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	LeadID      string            `json:"lead_id"`
	TreatmentID string            `json:"treatment_id"`
	Payload     map[string]string `json:"payload,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (p *HTTPProvider) Send(ctx context.Context, req Outreach) (Receipt, error) {
	body, err := json.Marshal(sendRequest{
		LeadID:      string(req.LeadID),
		TreatmentID: string(req.TreatmentID),
		Payload:     req.Payload,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("send outreach for lead %s: %w", req.LeadID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Receipt{}, fmt.Errorf("provider returned %d for lead %s", resp.StatusCode, req.LeadID)
	}
	if resp.StatusCode >= 400 {
		// Provider rejected the message; not retryable as-is but the
		// dispatcher's attempt accounting decides.
		return Receipt{Accepted: false}, nil
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Receipt{}, fmt.Errorf("decode provider response: %w", err)
	}
	return Receipt{
		ExternalMessageID: decoded.MessageID,
		Accepted:          decoded.Status == "sent" || decoded.Status == "accepted",
	}, nil
}
