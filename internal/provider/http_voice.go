package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPVoiceProvider is a VoiceProvider backed by a hosted voice-agent API.
type HTTPVoiceProvider struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

var _ VoiceProvider = (*HTTPVoiceProvider)(nil)

// NewHTTPVoiceProvider creates a new HTTPVoiceProvider.
func NewHTTPVoiceProvider(baseURL, apiKey string) *HTTPVoiceProvider {
	return &HTTPVoiceProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: providerTimeout},
	}
}

// CreateAgent provisions a voice agent and returns its identifier.
func (p *HTTPVoiceProvider) CreateAgent(ctx context.Context, cfg AgentConfig) (string, error) {
	body, err := p.post(ctx, "/agents", cfg)
	if err != nil {
		return "", err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("agent response missing field id")
	}
	return parsed.ID, nil
}

// StartConversation joins the agent to a room and returns the conversation
// identifier used as the job's external reference.
func (p *HTTPVoiceProvider) StartConversation(ctx context.Context, agentID, roomURL string) (string, error) {
	body, err := p.post(ctx, "/conversations", map[string]string{
		"agent_id": agentID,
		"room_url": roomURL,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode conversation response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("conversation response missing field id")
	}
	return parsed.ID, nil
}

// EndConversation stops a running conversation. Ending a conversation that
// has already finished is a no-op.
func (p *HTTPVoiceProvider) EndConversation(ctx context.Context, conversationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		p.baseURL+"/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("voice provider returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ConversationActive reports whether the conversation is still in progress.
func (p *HTTPVoiceProvider) ConversationActive(ctx context.Context, conversationID string) (bool, error) {
	body, err := p.get(ctx, "/conversations/"+url.PathEscape(conversationID))
	if err != nil {
		return false, err
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("failed to decode conversation response: %w", err)
	}
	switch parsed.Status {
	case "active", "in_progress", "ringing":
		return true, nil
	}
	return false, nil
}

// FetchResults retrieves the transcript and insights of a finished
// conversation.
func (p *HTTPVoiceProvider) FetchResults(ctx context.Context, conversationID string) (*Results, error) {
	body, err := p.get(ctx, "/conversations/"+url.PathEscape(conversationID)+"/results")
	if err != nil {
		return nil, err
	}
	var results Results
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results response: %w", err)
	}
	return &results, nil
}

func (p *HTTPVoiceProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return p.do(req)
}

func (p *HTTPVoiceProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req)
}

func (p *HTTPVoiceProvider) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("voice provider returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
