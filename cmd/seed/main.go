package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/voxhall/concierge/internal/config"
	"github.com/voxhall/concierge/internal/logging"
	"github.com/voxhall/concierge/internal/repository"
	"github.com/voxhall/concierge/pkg/models"
)

// Seeds a billing account so local start requests pass admission.
func main() {
	principal := flag.String("principal", "dev-user", "Account ID to create or top up")
	credits := flag.Float64("credits", 100, "Credit balance to set")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	now := time.Now().UTC()
	account := &models.Account{
		ID:        *principal,
		Credits:   *credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := store.GetAccount(ctx, *principal); err == nil {
		account.CreatedAt = existing.CreatedAt
		logger.Info("Updating existing account %s (balance %.2f -> %.2f)", *principal, existing.Credits, *credits)
	} else {
		logger.Info("Creating account %s with %.2f credits", *principal, *credits)
	}

	if err := store.SaveAccount(ctx, account); err != nil {
		log.Fatalf("Failed to save account: %v", err)
	}
	logger.Info("Done")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPostgresStore(pool)
		if err := store.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DB.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("seeding requires a durable db driver, got %q", cfg.DB.Driver)
	}
}
