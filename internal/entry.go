// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
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

	"github.com/kangrianai89/catatan/internal/ai"
	"github.com/kangrianai89/catatan/internal/api"
	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/draftstore"
	"github.com/kangrianai89/catatan/internal/editor"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/entityservice"
	"github.com/kangrianai89/catatan/internal/mcpserver"
	"github.com/kangrianai89/catatan/internal/models"
	"github.com/kangrianai89/catatan/internal/sse"
)

const (
	autosaveEventThrottle = 2 * time.Second
	sweepInterval         = time.Minute
	metaTimeout           = 10 * time.Second
)

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app.logOutputOr(os.Stdout), cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("drafts_backend", cfg.Drafts.Backend),
		slog.String("blob_backend", cfg.Blob.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, svc, blobs, err := openEntities(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Drafts.Backend == draftstore.BackendSQLite {
		if err := ensureParentDir(cfg.Drafts.SQLitePath); err != nil {
			return err
		}
	}
	durable, fsDrafts, err := draftstore.Open(draftstore.Options{
		Backend:    cfg.Drafts.Backend,
		SQLitePath: cfg.Drafts.SQLitePath,
		FSDir:      cfg.Drafts.FSDir,
	})
	if err != nil {
		return fmt.Errorf("init draft store: %w", err)
	}
	if c, ok := durable.(io.Closer); ok {
		defer c.Close()
	}

	// SSE broker.
	broker := sse.NewBroker(autosaveEventThrottle, api.Owner)
	defer broker.Close()
	svc.SetNotifier(func(op, owner string, e *models.Entity) {
		broker.PublishEntityEvent(owner, op, e)
	})

	editors := editor.New(svc.Registry(), durable, svc.Remote, broker, logger, editor.Options{
		Debounce:      cfg.Drafts.Debounce,
		FetchAttempts: cfg.Drafts.FetchAttempts,
		SessionQuota:  cfg.Drafts.SessionQuotaBytes,
		SessionTTL:    cfg.Drafts.SessionTTL,
		IdleTTL:       cfg.Drafts.EditorIdleTTL,
		Retention:     cfg.Drafts.Retention,
	})

	aiClient := ai.NewClient(ai.Options{
		BaseURL:       cfg.AI.BaseURL,
		APIKey:        cfg.AI.APIKey,
		Model:         cfg.AI.Model,
		RetryAttempts: cfg.AI.RetryAttempts,
		Timeout:       cfg.AI.Timeout,
	})
	defer aiClient.Close()
	scraper := ai.NewScraper(metaTimeout)
	defer scraper.Close()
	if !cfg.AI.Enabled() {
		logger.Info("AI generation disabled: no api key configured")
	}

	apiRouter := api.NewRouter(api.Deps{
		Entities: svc,
		Editors:  editors,
		AI:       aiClient,
		Meta:     scraper,
		Events:   broker,
	}, api.AuthOptions{
		Enabled: cfg.Auth.AuthEnabled(),
		Token:   cfg.Auth.Token,
		User:    cfg.Auth.User,
	})

	// Build chi router.
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
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	if cfg.Blob.Backend == BlobBackendFS {
		r.Get(AttachmentsPath+"/*", api.NewAttachmentHandler(blobs).ServeFile)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Editor sweeps; tears every editor down, flushing, on shutdown.
	g.Go(func() error {
		return editors.Run(gCtx, sweepInterval)
	})

	// Draft files written by other processes sharing the FS store.
	if fsDrafts != nil {
		g.Go(func() error {
			return draftstore.Watch(gCtx, fsDrafts, logger, func(op string, raw draft.Key) {
				owner, key, ok := draft.SplitNamespace(raw)
				if !ok {
					return
				}
				broker.DraftExternal(owner, string(key), op)
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server has stopped so the
// editor sweeper and draft watcher exit too.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout as the configured user.
// Logs go to stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(app.logOutputOr(os.Stderr), cfg.App.LogLevel)
	slog.SetDefault(logger)

	db, svc, _, err := openEntities(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("MCP server starting", slog.String("owner", cfg.Auth.User))
	return mcpserver.New(svc, cfg.Auth.User).ServeStdio()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logOutputOr(w io.Writer) io.Writer {
	if a.logOutput != nil {
		return a.logOutput
	}
	return w
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// openEntities opens the entity database and the blob store and builds
// the entity service over them.
func openEntities(ctx context.Context, cfg *Config, logger *slog.Logger) (*entity.DB, *entityservice.Service, blob.Store, error) {
	if err := ensureParentDir(cfg.SQLite.Path); err != nil {
		return nil, nil, nil, err
	}
	db, err := entity.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init entity db: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob.Options())
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("init blob store: %w", err)
	}
	return db, entityservice.New(db, blobs, draft.DefaultRegistry(), logger), blobs, nil
}

func ensureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	return nil
}
