package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxhall/concierge/pkg/models"
)

// SQLiteStore is a Store backed by SQLite, for single-node deployments.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			job_id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			room_url TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			result BLOB,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			credits REAL NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

// CreateSession persists a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.JobID, session.Workflow, string(session.Status), session.ExternalRef,
		session.RoomURL, session.UserID, session.ChannelID,
		session.CreatedAt, session.CompletedAt, result, session.Error,
	)
	return err
}

// GetSession retrieves a session by its job ID.
func (s *SQLiteStore) GetSession(ctx context.Context, jobID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error
		 FROM sessions WHERE job_id = ?`, jobID)
	session, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// UpdateSession overwrites every mutable column of a non-terminal session
// row; terminal rows are excluded by the WHERE clause so the write is
// idempotent under races.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET workflow = ?, status = ?, external_ref = ?, room_url = ?, user_id = ?, channel_id = ?,
		     created_at = ?, completed_at = ?, result = ?, error = ?
		 WHERE job_id = ? AND status NOT IN ('completed', 'failed')`,
		session.Workflow, string(session.Status), session.ExternalRef,
		session.RoomURL, session.UserID, session.ChannelID,
		session.CreatedAt, session.CompletedAt, result, session.Error, session.JobID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, session.JobID); err != nil {
			return err
		}
	}
	return nil
}

// ListActiveSessionsOlderThan returns non-terminal sessions created before
// the cutoff.
func (s *SQLiteStore) ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, workflow, status, external_ref, room_url, user_id, channel_id, created_at, completed_at, result, error
		 FROM sessions
		 WHERE status NOT IN ('completed', 'failed') AND created_at < ?`, cutoff)
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
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, credits, created_at, updated_at FROM accounts WHERE id = ?`, id).
		Scan(&account.ID, &account.Credits, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveAccount creates or replaces a billing account.
func (s *SQLiteStore) SaveAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET credits = excluded.credits, updated_at = excluded.updated_at`,
		account.ID, account.Credits, account.CreatedAt, account.UpdatedAt,
	)
	return err
}
