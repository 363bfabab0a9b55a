// Package voiceengine implements VoiceEngineClient (§6): the out-of-process
// voice-AI engine that allocates join sessions and reports call timing,
// billing, and summaries. The engine itself is out of scope for this
// system (§1); this package is a thin, timeout-bounded HTTP client for it.
package voiceengine

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/acme/campaign-orchestrator/internal/config"
)

// CallMedium describes how the engine should treat the session it allocates.
type CallMedium struct {
	Provider string `json:"provider"`
	Incoming bool   `json:"incoming"`
}

// CreateCallRequest is the body of createCall (§4.4 step 3, §6).
type CreateCallRequest struct {
	AgentID          string            `json:"agentId"`
	Medium           CallMedium        `json:"medium"`
	MaxDuration      int               `json:"maxDuration"`
	RecordingEnabled bool              `json:"recordingEnabled"`
	CorrelationTags  map[string]string `json:"correlationTags"`
}

// CreateCallResponse is the engine's join-session allocation.
type CreateCallResponse struct {
	EngineCallID string `json:"engineCallId"`
	JoinURL      string `json:"joinUrl"`
}

// CallDetails is the engine's post-call report. No code path in this
// repository calls GetCallDetails; the WebhookReducer works from the
// webhook payload alone.
type CallDetails struct {
	EngineCallID    string  `json:"engineCallId"`
	JoinedAt        *string `json:"joinedAt"`
	EndedAt         *string `json:"endedAt"`
	DurationSeconds int     `json:"durationSeconds"`
	Summary         string  `json:"summary"`
	ShortSummary    string  `json:"shortSummary"`
	RecordingURL    string  `json:"recordingUrl"`
}

// Client is the VoiceEngineClient contract from §6.
type Client interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResponse, error)
	GetCallDetails(ctx context.Context, engineCallID string) (CallDetails, error)
	CreateWebhook(ctx context.Context, url string, events []string, agentID, secret string) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// HTTPClient is the production Client, backed by resty so timeouts and JSON
// (de)serialization follow the same conventions the rest of this codebase's
// outbound integrations use. No request retries are configured.
type HTTPClient struct {
	rc *resty.Client
}

// New constructs an HTTPClient from configuration.
func New(cfg config.VoiceEngineConfig) *HTTPClient {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{rc: rc}
}

// CreateCall asks the engine to allocate a join session without dialing
// anyone (medium.incoming is always true for this system's calls).
func (c *HTTPClient) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResponse, error) {
	req.Medium.Incoming = true
	var out CreateCallResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/calls")
	if err != nil {
		return CreateCallResponse{}, fmt.Errorf("voice engine: create call: %w", err)
	}
	if resp.IsError() {
		return CreateCallResponse{}, fmt.Errorf("voice engine: create call: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// GetCallDetails fetches timing, billing, and summary data for a call.
func (c *HTTPClient) GetCallDetails(ctx context.Context, engineCallID string) (CallDetails, error) {
	var out CallDetails
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("callId", engineCallID).
		SetResult(&out).
		Get("/v1/calls/{callId}")
	if err != nil {
		return CallDetails{}, fmt.Errorf("voice engine: get call details: %w", err)
	}
	if resp.IsError() {
		return CallDetails{}, fmt.Errorf("voice engine: get call details: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// CreateWebhook registers a subscription for terminal call events.
func (c *HTTPClient) CreateWebhook(ctx context.Context, url string, events []string, agentID, secret string) (string, error) {
	var out struct {
		WebhookID string `json:"webhookId"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"url":     url,
			"events":  events,
			"agentId": agentID,
			"secret":  secret,
		}).
		SetResult(&out).
		Post("/v1/webhooks")
	if err != nil {
		return "", fmt.Errorf("voice engine: create webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("voice engine: create webhook: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.WebhookID, nil
}

// DeleteWebhook removes a previously registered subscription.
func (c *HTTPClient) DeleteWebhook(ctx context.Context, webhookID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("webhookId", webhookID).
		Delete("/v1/webhooks/{webhookId}")
	if err != nil {
		return fmt.Errorf("voice engine: delete webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("voice engine: delete webhook: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
