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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/askluigi/agentd/internal/adapter/codex"
	agentdhttp "github.com/askluigi/agentd/internal/adapter/http"
	agentdnats "github.com/askluigi/agentd/internal/adapter/nats"
	"github.com/askluigi/agentd/internal/adapter/otel"
	"github.com/askluigi/agentd/internal/adapter/postgres"
	"github.com/askluigi/agentd/internal/adapter/ristretto"
	"github.com/askluigi/agentd/internal/adapter/ws"
	"github.com/askluigi/agentd/internal/cancel"
	"github.com/askluigi/agentd/internal/config"
	"github.com/askluigi/agentd/internal/git"
	"github.com/askluigi/agentd/internal/guard"
	"github.com/askluigi/agentd/internal/logger"
	"github.com/askluigi/agentd/internal/middleware"
	"github.com/askluigi/agentd/internal/port/messagequeue"
	"github.com/askluigi/agentd/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"work_dir", cfg.Agent.WorkDir,
		"thread_max_runs", cfg.Agent.ThreadMaxRuns,
	)

	ctx := context.Background()

	// --- Observability ---

	shutdownTracer, err := otel.InitTracer(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		_ = shutdownTracer(shutdownCtx)
	}()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// An empty NATS URL disables the run lifecycle publisher.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := agentdnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	sessionCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer sessionCache.Close()

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	fileGuard := guard.New(cfg.Agent.WorkDir, cfg.Agent.ProtectedPaths)
	cancelSignal := cancel.New(cfg.Agent.DataDir)
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)

	runnerSvc := service.NewRunnerService(
		codex.New(cfg.Agent.Bin), fileGuard, cancelSignal, queue, hub, cfg.Agent)
	gitSvc := service.NewGitService(runnerSvc, gitPool, cfg.Git, cfg.Agent.WorkDir)
	sessionSvc := service.NewSessionService(store, sessionCache, cfg.Cache.SessionTTL)
	orderSvc := service.NewOrderService(store)

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.Server.CORSOrigin))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", agentdhttp.Health(store))
	r.Get("/ws", hub.HandleWS)

	handlers := agentdhttp.NewHandlers(runnerSvc, gitSvc, sessionSvc, orderSvc)
	agentdhttp.MountRoutes(r, handlers, cfg.Auth.TokenHash)

	addr := ":" + cfg.Server.Port

	// WriteTimeout stays zero: the run stream holds its response open for
	// the full length of an agent turn.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	// A run in flight keeps editing the working tree until it notices the
	// interrupt; ask for cancellation before closing the listener.
	if _, err := runnerSvc.Cancel(ctx); err != nil {
		slog.Warn("cancel on shutdown", "error", err)
	}

	shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	return srv.Shutdown(shutdownCtx)
}
