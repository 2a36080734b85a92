package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voxhall/concierge/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.InitSchema(ctx))

	t.Run("session round trip", func(t *testing.T) {
		session := newSession(models.SessionStatusStarted, 0)
		session.RoomURL = "https://rooms.example.com/r1"
		require.NoError(t, store.CreateSession(ctx, session))

		got, err := store.GetSession(ctx, session.JobID)
		require.NoError(t, err)
		assert.Equal(t, session.JobID, got.JobID)
		assert.Equal(t, models.SessionStatusStarted, got.Status)
		assert.Nil(t, got.CompletedAt)

		_, err = store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("terminal update is idempotent", func(t *testing.T) {
		session := newSession(models.SessionStatusRunning, 0)
		require.NoError(t, store.CreateSession(ctx, session))

		now := time.Now().UTC()
		session.Status = models.SessionStatusCompleted
		session.CompletedAt = &now
		session.Result = map[string]any{"transcript": "hi"}
		require.NoError(t, store.UpdateSession(ctx, session))

		session.Status = models.SessionStatusFailed
		session.Error = "late"
		require.NoError(t, store.UpdateSession(ctx, session))

		got, err := store.GetSession(ctx, session.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusCompleted, got.Status)
		assert.Equal(t, "hi", got.Result["transcript"])
	})

	t.Run("list active older than", func(t *testing.T) {
		old := newSession(models.SessionStatusRunning, 2*time.Hour)
		require.NoError(t, store.CreateSession(ctx, old))

		got, err := store.ListActiveSessionsOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, old.JobID, got[0].JobID)
	})

	t.Run("update replaces all mutable fields", func(t *testing.T) {
		session := newSession(models.SessionStatusRunning, 0)
		require.NoError(t, store.CreateSession(ctx, session))

		session.RoomURL = "https://rooms.example.com/moved"
		session.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
		require.NoError(t, store.UpdateSession(ctx, session))

		got, err := store.GetSession(ctx, session.JobID)
		require.NoError(t, err)
		assert.Equal(t, "https://rooms.example.com/moved", got.RoomURL)
		assert.Equal(t, session.CreatedAt.Unix(), got.CreatedAt.Unix())
	})

	t.Run("account upsert", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: "u1", Credits: 5, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: "u1", Credits: 9, CreatedAt: now, UpdatedAt: now}))

		account, err := store.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 9.0, account.Credits)

		_, err = store.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
