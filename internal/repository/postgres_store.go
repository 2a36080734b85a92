package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhall/concierge/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the sessions and accounts tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			job_id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			room_url TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			result JSONB,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			credits DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

// CreateSession persists a new session record.
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.JobID, session.Workflow, string(session.Status), session.ExternalRef,
		session.RoomURL, session.UserID, session.ChannelID,
		session.CreatedAt, session.CompletedAt, result, session.Error,
	)
	return err
}

// GetSession retrieves a session by its job ID.
func (s *PostgresStore) GetSession(ctx context.Context, jobID string) (*models.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error
		 FROM sessions WHERE job_id = $1`, jobID)
	session, err := scanSession(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// UpdateSession overwrites every mutable column of a non-terminal session
// row. The WHERE clause excludes terminal rows, so the second of two racing
// reconciliation writes affects zero rows and is reported as success.
func (s *PostgresStore) UpdateSession(ctx context.Context, session *models.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions
		 SET workflow = $1, status = $2, external_ref = $3, room_url = $4, user_id = $5, channel_id = $6,
		     created_at = $7, completed_at = $8, result = $9, error = $10
		 WHERE job_id = $11 AND status NOT IN ('completed', 'failed')`,
		session.Workflow, string(session.Status), session.ExternalRef,
		session.RoomURL, session.UserID, session.ChannelID,
		session.CreatedAt, session.CompletedAt, result, session.Error, session.JobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row is already terminal (no-op) or it never existed.
		if _, err := s.GetSession(ctx, session.JobID); err != nil {
			return err
		}
	}
	return nil
}

// ListActiveSessionsOlderThan returns non-terminal sessions created before
// the cutoff.
func (s *PostgresStore) ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error
		 FROM sessions
		 WHERE status NOT IN ('completed', 'failed') AND created_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetAccount retrieves a billing account by principal ID.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, credits, created_at, updated_at FROM accounts WHERE id = $1`, id).
		Scan(&account.ID, &account.Credits, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveAccount creates or replaces a billing account.
func (s *PostgresStore) SaveAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (id, credits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET credits = EXCLUDED.credits, updated_at = EXCLUDED.updated_at`,
		account.ID, account.Credits, account.CreatedAt, account.UpdatedAt,
	)
	return err
}

func encodeResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session result: %w", err)
	}
	return data, nil
}

func decodeResult(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode session result: %w", err)
	}
	return result, nil
}

func scanSession(scan func(dest ...any) error) (*models.Session, error) {
	var session models.Session
	var status string
	var result []byte
	if err := scan(&session.JobID, &session.Workflow, &status, &session.ExternalRef,
		&session.RoomURL, &session.UserID, &session.ChannelID,
		&session.CreatedAt, &session.CompletedAt, &result, &session.Error); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	decoded, err := decodeResult(result)
	if err != nil {
		return nil, err
	}
	session.Result = decoded
	return &session, nil
}
