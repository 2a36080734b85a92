package repository

import (
	"context"
	"sync"
	"time"

	"github.com/voxhall/concierge/pkg/models"
)

// MemoryStore is a goroutine-safe Store backed by maps. It backs the
// "memory" db driver and is the default store in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	accounts map[string]*models.Account
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		accounts: make(map[string]*models.Account),
	}
}

// CreateSession persists a new session record.
func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.JobID] = &cp
	return nil
}

// GetSession retrieves a session by its job ID.
func (s *MemoryStore) GetSession(ctx context.Context, jobID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// UpdateSession replaces a non-terminal session record in full. A
// terminal record is left untouched so that racing reconciliation writes
// are harmless.
func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.JobID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status.Terminal() {
		return nil
	}
	cp := *session
	s.sessions[session.JobID] = &cp
	return nil
}

// ListActiveSessionsOlderThan returns non-terminal sessions created before
// the cutoff.
func (s *MemoryStore) ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Session
	for _, session := range s.sessions {
		if session.Status.Terminal() {
			continue
		}
		if !session.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *session
		result = append(result, &cp)
	}
	return result, nil
}

// GetAccount retrieves a billing account by principal ID.
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *account
	return &cp, nil
}

// SaveAccount creates or replaces a billing account.
func (s *MemoryStore) SaveAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}
