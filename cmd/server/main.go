/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the deficit engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (defaults, TOML file, .env, environment)
  3. Open the key-value store and the document sink
  4. Create the engine, the escalation scheduler and the API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML configuration file (default: deficit.toml, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database
  -storage Storage backend: memory, sqlite, sqlite-pure, redis

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the escalation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the sink and the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/deficits.db"

  # Run with in-memory store
  ./server -storage=memory

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  See config/config.go (DEFICIT_*, REDIS_*, LOG_*, GCS_CREDENTIALS_JSON).

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Escalation scheduler
  - cmd/internal/boot: Store, sink and engine assembly
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/deficit-engine/api"
	"github.com/warp/deficit-engine/cmd/internal/boot"
	"github.com/warp/deficit-engine/config"
)

func main() {
	// Flags
	configPath := flag.String("config", "deficit.toml", "TOML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	backend := flag.String("storage", "", "Storage backend (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}

	logger := config.NewLogger(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(cfg config.Config, logger *logrus.Logger) error {
	// Flags may have changed the storage section.
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := boot.Open(ctx, cfg, logger, true)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer rt.Close()

	interval, err := cfg.SchedulerInterval()
	if err != nil {
		return err
	}
	scheduler := api.NewEscalationScheduler(rt.Engine, logger)
	scheduler.CheckInterval = interval
	scheduler.Enabled = cfg.Scheduler.Enabled

	handler := api.NewHandler(rt.Engine, scheduler, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		scheduler.Stop()

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
