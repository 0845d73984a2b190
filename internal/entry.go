// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/librarian/internal/api"
	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/mcpserver"
	"github.com/starford/librarian/internal/scanner"
	"github.com/starford/librarian/internal/sse"
	"github.com/starford/librarian/internal/storage"
	"github.com/starford/librarian/internal/tagservice"
)

// engine is the wired set of components for one scan root.
type engine struct {
	store *storage.FS
	idx   *index.Index
	svc   *tagservice.Service
	rec   *index.Reconciler
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

// openEngine builds storage, the index and the service from cfg. The
// caller must call close.
func openEngine(cfg *Config, logger *slog.Logger) (*engine, error) {
	root := cfg.Scan.Directory
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scan dir: %w", err)
	}
	filter, err := storage.NewFilter(root, cfg.Scan.Extensions, cfg.Scan.Exclude, cfg.Scan.RespectGitignore)
	if err != nil {
		return nil, fmt.Errorf("init filter: %w", err)
	}
	store, err := storage.NewFS(root, filter)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Index.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	var backend index.SnapshotStore
	switch cfg.Index.Backend {
	case BackendSQLite:
		db, err := index.OpenSQLite(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		backend = db
	default:
		backend = index.NewJSONFile(cfg.Index.Path, cfg.Index.LockTimeout())
	}
	idx := index.Open(backend, logger)

	cache, err := storage.NewCache(store, cfg.Cache.Size)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}
	sc := scanner.New(cfg.Tags.Mode, cfg.Tags.Whitelist)
	svc := tagservice.NewService(store, idx, cache, sc, logger)
	rec := index.NewReconciler(idx, store, sc, cfg.Watch.Debounce(), logger)
	rec.OnReconcile(svc.Observe)

	return &engine{store: store, idx: idx, svc: svc, rec: rec}, nil
}

// close applies any pending changes and writes the final snapshot.
func (e *engine) close(logger *slog.Logger) {
	if res := e.rec.Flush(); res.Err != nil {
		logger.Error("final reconcile failed", slog.String("error", res.Err.Error()))
	}
	if err := e.idx.Close(); err != nil {
		logger.Error("index close failed", slog.String("error", err.Error()))
	}
}

// startBackground runs the initial sync, the reconciler and, when enabled,
// the watcher inside g.
func (e *engine) startBackground(ctx context.Context, g *errgroup.Group, cfg *Config, logger *slog.Logger) {
	g.Go(func() error {
		if _, err := e.svc.RescanAll(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		return e.rec.Run(ctx)
	})

	if cfg.Watch.Enabled {
		g.Go(func() error {
			if err := index.Watch(ctx, e.rec, e.store, logger); err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("scan_directory", cfg.Scan.Directory),
		slog.String("index_path", cfg.Index.Path),
		slog.String("index_backend", cfg.Index.Backend),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	eng, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close(logger)

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	eng.svc.OnChange(broker.PublishFileEvent)
	eng.svc.OnRescan(broker.PublishRescan)

	apiRouter := api.NewRouter(eng.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if eng.idx.LoadError() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)
	eng.startBackground(gCtx, g, cfg, logger)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to the configured
// output, which must not be stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()
	slog.SetDefault(logger)

	eng, err := openEngine(app.config, logger)
	if err != nil {
		return err
	}
	defer eng.close(logger)

	srv := mcpserver.New(eng.svc, app.version)

	g, gCtx := errgroup.WithContext(ctx)
	eng.startBackground(gCtx, g, app.config, logger)
	g.Go(func() error {
		err := srv.ServeStdio()
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		// stdin closed; stop background work.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Exec opens the index once, brings it up to date (fully when full is
// set) and runs fn against the service. It backs the one-shot CLI
// commands; logs go to stderr.
func Exec(ctx context.Context, full bool, fn func(context.Context, *tagservice.Service, index.SyncResult) error, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	eng, err := openEngine(app.config, logger)
	if err != nil {
		return err
	}
	defer eng.close(logger)

	res, err := eng.svc.RescanAll(ctx, full)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return fn(ctx, eng.svc, res)
}

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
