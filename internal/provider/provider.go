// Package provider defines the external-process integrations behind
// explicit interfaces: a room provider that hosts calls and a voice
// provider that runs conversational agents inside them. Concrete vendors
// are selected by configuration, never by runtime attribute probing.
package provider

import "context"

// Room is a call room created for one job.
type Room struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AgentConfig describes the voice agent started for a job.
type AgentConfig struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt,omitempty"`
	Greeting string `json:"greeting,omitempty"`
}

// Results is the final artifact of a finished conversation.
type Results struct {
	Transcript string         `json:"transcript"`
	Insights   map[string]any `json:"insights,omitempty"`
}

// RoomProvider manages call rooms.
type RoomProvider interface {
	CreateRoom(ctx context.Context) (Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// VoiceProvider manages conversational agents and their conversations.
// ConversationActive is the liveness probe used by poll-time
// reconciliation; FetchResults is only valid once a conversation has
// ended.
type VoiceProvider interface {
	CreateAgent(ctx context.Context, cfg AgentConfig) (string, error)
	StartConversation(ctx context.Context, agentID, roomURL string) (string, error)
	EndConversation(ctx context.Context, conversationID string) error
	ConversationActive(ctx context.Context, conversationID string) (bool, error)
	FetchResults(ctx context.Context, conversationID string) (*Results, error)
}
