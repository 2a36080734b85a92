// Package events publishes session lifecycle transitions for external
// consumers. Delivery is best effort; a publish failure never affects the
// session itself.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxhall/concierge/pkg/models"
)

// Publisher emits one event per session transition.
type Publisher interface {
	SessionTransition(session *models.Session) error
	Close()
}

// NoopPublisher discards all events. It is used when eventing is disabled.
type NoopPublisher struct{}

var _ Publisher = (*NoopPublisher)(nil)

// SessionTransition discards the event.
func (NoopPublisher) SessionTransition(*models.Session) error { return nil }

// Close is a no-op.
func (NoopPublisher) Close() {}

// NATSPublisher publishes transitions to a NATS subject per status, e.g.
// concierge.sessions.completed.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to the NATS server and returns a publisher
// rooted at the given subject prefix.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

type sessionEvent struct {
	JobID       string               `json:"job_id"`
	Workflow    string               `json:"workflow"`
	Status      models.SessionStatus `json:"status"`
	ExternalRef string               `json:"external_ref"`
	Error       string               `json:"error,omitempty"`
	At          time.Time            `json:"at"`
}

// SessionTransition publishes the session's new status.
func (p *NATSPublisher) SessionTransition(session *models.Session) error {
	event := sessionEvent{
		JobID:       session.JobID,
		Workflow:    session.Workflow,
		Status:      session.Status,
		ExternalRef: session.ExternalRef,
		Error:       session.Error,
		At:          time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}
	return p.nc.Publish(fmt.Sprintf("%s.%s", p.subject, session.Status), data)
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}
