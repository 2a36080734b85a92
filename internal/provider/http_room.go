package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const providerTimeout = 30 * time.Second

// HTTPRoomProvider is a RoomProvider backed by a hosted rooms API.
type HTTPRoomProvider struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

var _ RoomProvider = (*HTTPRoomProvider)(nil)

// NewHTTPRoomProvider creates a new HTTPRoomProvider.
func NewHTTPRoomProvider(baseURL, apiKey string) *HTTPRoomProvider {
	return &HTTPRoomProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: providerTimeout},
	}
}

// CreateRoom creates a new call room.
func (p *HTTPRoomProvider) CreateRoom(ctx context.Context) (Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rooms", bytes.NewBufferString("{}"))
	if err != nil {
		return Room{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Room{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Room{}, fmt.Errorf("room provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var room Room
	if err := json.Unmarshal(body, &room); err != nil {
		return Room{}, fmt.Errorf("failed to decode room response: %w", err)
	}
	if room.ID == "" || room.URL == "" {
		return Room{}, fmt.Errorf("room response missing id or url")
	}
	return room, nil
}

// DeleteRoom deletes a call room. Deleting a room that no longer exists is
// not an error.
func (p *HTTPRoomProvider) DeleteRoom(ctx context.Context, roomID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/rooms/"+url.PathEscape(roomID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("room provider returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
