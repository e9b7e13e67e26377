// Kestrel research server: HTTP API, queue workers and the multi-agent
// research orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kestrelhq/kestrel/pkg/agent/prompt"
	"github.com/kestrelhq/kestrel/pkg/api"
	"github.com/kestrelhq/kestrel/pkg/cleanup"
	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/events"
	"github.com/kestrelhq/kestrel/pkg/llm"
	"github.com/kestrelhq/kestrel/pkg/queue"
	"github.com/kestrelhq/kestrel/pkg/research"
	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/store"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
	"github.com/kestrelhq/kestrel/pkg/version"
	"github.com/kestrelhq/kestrel/pkg/web"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openStore connects to PostgreSQL when one is configured. A nil return
// with no error means memory-only mode (sync API only, no queue).
func openStore(ctx context.Context) (*store.Store, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return store.NewStoreDSN(ctx, dsn)
	}
	if os.Getenv("DB_HOST") == "" {
		return nil, nil
	}
	cfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return store.NewStore(ctx, cfg)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Kestrel",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	tracing, err := telemetry.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error shutting down tracer", "error", err)
		}
	}()

	st, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				slog.Error("Error closing store", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("No database configured, running memory-only (sync API, no queue)")
	}

	pool, err := llm.NewPool(cfg.LLMProviderRegistry)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("LLM providers initialized", "providers", cfg.LLMProviderRegistry.Names())

	searcher := web.NewBraveClient(os.Getenv(cfg.Search.APIKeyEnv), cfg.Search.BaseURL)
	fetcher := web.NewReadabilityFetcher()

	bus := events.NewBus()
	defer bus.Close()

	sessions := session.NewManager()
	executor := &research.Executor{
		Config:   cfg,
		LLMs:     pool,
		Bus:      bus,
		Builder:  prompt.NewBuilder(),
		Search:   searcher,
		Fetch:    fetcher,
		Sessions: sessions,
		Store:    st,
		Tracer:   tracing.Tracer(),
	}

	var workers *queue.WorkerPool
	if st != nil {
		workers = queue.NewWorkerPool(st, cfg.Queue, executor)
		workers.Start(ctx)
		slog.Info("Worker pool started", "workers", cfg.Queue.WorkerCount)

		janitor := cleanup.NewService(cfg.Retention, st)
		janitor.Start(ctx)
		defer janitor.Stop()
	}

	var canceller api.Canceller
	if workers != nil {
		canceller = workers
	}
	server := api.NewServer(executor, sessions, bus, st, canceller)

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if workers != nil {
		workers.Stop()
	}

	slog.Info("Kestrel stopped")
}
