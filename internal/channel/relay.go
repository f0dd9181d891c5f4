package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RelayExecutor delivers messages through the outbound message relay
// (a single HTTP service fronting email/SMS/social providers).
//
// The relay owns provider credentials and per-channel rate limits; this
// adapter only speaks the relay's JSON contract.
type RelayExecutor struct {
	baseURL string
	token   string
	client  *http.Client
}

type RelayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewRelayExecutor(cfg RelayConfig) (*RelayExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("channel: relay base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayExecutor{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (e *RelayExecutor) Name() string { return "relay" }

type relaySendRequest struct {
	WorkspaceID string `json:"workspace_id"`
	LeadID      string `json:"lead_id"`
	Channel     string `json:"channel"`
	Recipient   string `json:"recipient"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
}

type relaySendResponse struct {
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
	Error      string `json:"error,omitempty"`
}

func (e *RelayExecutor) Send(ctx context.Context, msg Message) (SendResult, error) {
	if msg.WorkspaceID == "" {
		return SendResult{}, errors.New("channel: workspace_id required")
	}
	if !Valid(msg.Channel) {
		return SendResult{}, fmt.Errorf("channel: unknown channel %q", msg.Channel)
	}
	if msg.Recipient == "" {
		return SendResult{}, errors.New("channel: recipient required")
	}

	body, err := json.Marshal(relaySendRequest{
		WorkspaceID: msg.WorkspaceID,
		LeadID:      msg.LeadID,
		Channel:     string(msg.Channel),
		Recipient:   msg.Recipient,
		Subject:     msg.Subject,
		Body:        msg.Body,
	})
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("channel: relay request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("channel: relay response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("channel: relay returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out relaySendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SendResult{}, fmt.Errorf("channel: relay response decode failed: %w", err)
	}

	switch SendStatus(out.Status) {
	case SendStatusSent, SendStatusBounced, SendStatusRejected:
		return SendResult{Status: SendStatus(out.Status), ExternalID: out.ExternalID}, nil
	default:
		return SendResult{}, fmt.Errorf("channel: relay returned unknown status %q", out.Status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
