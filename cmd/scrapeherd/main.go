// Command scrapeherd runs the orchestration API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/config"
	"github.com/scrapeherd/scrapeherd/internal/engine"
	"github.com/scrapeherd/scrapeherd/internal/sequencer"
	"github.com/scrapeherd/scrapeherd/internal/server"
	"github.com/scrapeherd/scrapeherd/internal/service/orch"
	"github.com/scrapeherd/scrapeherd/internal/storage"
	"github.com/scrapeherd/scrapeherd/internal/storage/postgres"
	"github.com/scrapeherd/scrapeherd/internal/storage/sqlite"
	"github.com/scrapeherd/scrapeherd/internal/telemetry"
	"github.com/scrapeherd/scrapeherd/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("scrapeherd starting",
		"version", version, "port", cfg.Port, "backend", cfg.StoreBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the store.
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	// Wire the core: sequencer → orchestrator → driver.
	eventBus := bus.New(logger)
	seq := sequencer.New(store, logger)
	orchSvc := orch.New(store, seq, eventBus, logger)

	var eng engine.Engine
	if cfg.EngineURL != "" {
		eng = engine.NewHTTPEngine(cfg.EngineName, cfg.EngineURL, cfg.EngineAPIKey, cfg.EngineTimeout)
		logger.Info("engine: http", "name", cfg.EngineName, "url", cfg.EngineURL)
	} else {
		eng = &engine.StubEngine{}
		logger.Info("engine: stub (no SCRAPEHERD_ENGINE_URL)")
	}
	driver := engine.NewDriver(orchSvc, eng, cfg.MaxConcurrentRuns, logger)

	srv := server.New(server.ServerConfig{
		Store:               store,
		Orch:                orchSvc,
		Bus:                 eventBus,
		Launcher:            driver,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		StreamHeartbeat:     cfg.StreamHeartbeat,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight,
	// wait for running drivers to record their final state, then tear
	// down the bus so any remaining SSE subscribers unblock.
	slog.Info("scrapeherd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	driver.Wait()
	eventBus.Close()

	return nil
}

// openStore opens the configured backend. Postgres runs embedded
// migrations at startup; SQLite applies its schema in Open.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
