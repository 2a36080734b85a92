package repository

import (
	"context"
	"errors"
	"time"

	"github.com/voxhall/concierge/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store shared by the orchestrator and the
// admission gate. Implementations must make UpdateSession a no-op when the
// stored session is already terminal, so that concurrent reconciliation
// writes are idempotent.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, session *models.Session) error
	// GetSession retrieves a session by its job ID.
	GetSession(ctx context.Context, jobID string) (*models.Session, error)
	// UpdateSession replaces a non-terminal session record in full, all
	// mutable fields included. Updating a session that is already terminal
	// returns nil without writing.
	UpdateSession(ctx context.Context, session *models.Session) error
	// ListActiveSessionsOlderThan returns non-terminal sessions created
	// before the cutoff.
	ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Session, error)

	// GetAccount retrieves a billing account by principal ID.
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// SaveAccount creates or replaces a billing account.
	SaveAccount(ctx context.Context, account *models.Account) error
}
