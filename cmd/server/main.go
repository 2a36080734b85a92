package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	_ "modernc.org/sqlite"

	"github.com/voxhall/concierge/internal/api"
	"github.com/voxhall/concierge/internal/billing"
	"github.com/voxhall/concierge/internal/config"
	"github.com/voxhall/concierge/internal/events"
	"github.com/voxhall/concierge/internal/food"
	"github.com/voxhall/concierge/internal/logging"
	"github.com/voxhall/concierge/internal/mcp"
	"github.com/voxhall/concierge/internal/orchestrator"
	"github.com/voxhall/concierge/internal/provider"
	"github.com/voxhall/concierge/internal/repository"
	"github.com/voxhall/concierge/internal/tls"
	"github.com/voxhall/concierge/internal/workflow"
)

func main() {
	root := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge job orchestration service",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	var maxAge time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Force-stop sessions older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cleanup(maxAge)
		},
	}
	cleanupCmd.Flags().DurationVar(&maxAge, "max-age", time.Hour, "maximum session age to keep")

	root.AddCommand(serveCmd, cleanupCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return err
	}

	logger.Info("Starting Concierge Orchestration Service")

	store, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store: %v", err)
		return err
	}
	defer closeStore()

	logger.Info("Store initialized (driver=%s)", cfg.DB.Driver)

	manager, publisher := buildManager(cfg, store, logger)
	defer publisher.Close()
	defer manager.Close()

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(otelecho.Middleware("concierge"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Mount REST API handlers
	apiHandler := api.NewHandler(manager, logger)
	apiHandler.RegisterRoutes(e.Group("/api/v1"))
	e.GET("/health", apiHandler.HandleHealth)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(manager)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	addr := cfg.Server.Addr
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s (tls=%v)", addr, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

func cleanup(maxAge time.Duration) error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	manager, publisher := buildManager(cfg, store, logger)
	defer publisher.Close()

	stopped, err := manager.CleanupLongRunning(ctx, maxAge)
	if err != nil {
		return err
	}
	logger.Info("Cleanup stopped %d session(s) older than %s", stopped, maxAge)
	return nil
}

func buildManager(cfg *config.Config, store repository.Store, logger *logging.Logger) (*orchestrator.Manager, events.Publisher) {
	foodClient := food.NewClient(cfg.Providers.Food.URL, cfg.Providers.Food.APIKey)
	geocoder := food.NewHTTPGeocoder(cfg.Providers.Geocoder.URL)

	registry := workflow.NewRegistry()
	registry.Register(workflow.NewOrderWorkflow(foodClient, geocoder, 0))
	registry.Register(workflow.NewMenuSearchWorkflow(foodClient, geocoder))

	rooms := provider.NewHTTPRoomProvider(cfg.Providers.Room.URL, cfg.Providers.Room.APIKey)
	voice := provider.NewHTTPVoiceProvider(cfg.Providers.Voice.URL, cfg.Providers.Voice.APIKey)
	gate := billing.NewGate(store, cfg.Billing.MinCredits)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events.NatsURL, cfg.Events.Subject)
		if err != nil {
			logger.Warn("events disabled: %v", err)
		} else {
			publisher = natsPublisher
		}
	}

	return orchestrator.NewManager(store, gate, registry, rooms, voice, publisher, logger), publisher
}

func initStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPostgresStore(pool)
		if err := store.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return store, pool.Close, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DB.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		store, err := repository.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "memory":
		return repository.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
