package models

import "time"

// SessionStatus represents the lifecycle state of an asynchronous job.
type SessionStatus string

const (
	SessionStatusStarted   SessionStatus = "started"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is absorbing: a completed or failed
// session is never transitioned again.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is the durable record of one asynchronous job.
//
// Contract:
//   - JobID is generated at creation and never reused.
//   - CompletedAt is non-nil iff Status is terminal.
//   - Result is non-nil only when Status is completed.
//   - Error is non-empty only when Status is failed.
//   - Once terminal, the record is immutable.
type Session struct {
	JobID       string         `json:"job_id"`
	Workflow    string         `json:"workflow"`
	Status      SessionStatus  `json:"status"`
	ExternalRef string         `json:"external_ref"`
	RoomURL     string         `json:"room_url,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}
