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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/attachments"
	"github.com/starford/ansuz/internal/glm"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/pdf"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/syncer"
)

// core bundles the domain services shared by the HTTP server and the MCP
// server.
type core struct {
	store  *store.Store
	att    *attachments.Manager
	sync   *syncer.Syncer
	db     *index.DB
	remote *glm.Client // nil when GLM is not configured
}

func buildCore(cfg *Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	att := attachments.New(cfg.Data.Dir, logger)
	st := store.New(cfg.Data.Dir, att, logger)
	renderer := pdf.NewRenderer(att)

	var remote *glm.Client
	if cfg.GLM.Enabled() {
		remote = glm.NewClient(cfg.GLM.BaseURL, cfg.GLM.APIKey, logger)
	}
	sync := syncer.New(st, att, renderer, remote, cfg.GLM.KnowledgeBaseID, logger)

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, st.LoadAll(), logger); err != nil {
		logger.Warn("initial index sync failed", slog.String("error", err.Error()))
	}

	return &core{store: st, att: att, sync: sync, db: db, remote: remote}, nil
}

func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("glm_enabled", cfg.GLM.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Keep the index and SSE clients in step with every store mutation.
	// External file changes arrive through the watcher as a reload event.
	unsubscribe := c.store.Subscribe(func(ev store.Event) {
		switch ev.Kind {
		case store.EventSaved:
			if note, err := c.store.Get(ev.NoteID); err == nil {
				if err := c.db.UpsertNote(index.NoteRow{
					ID:        note.ID,
					Title:     note.Title,
					UpdatedAt: note.UpdatedAt.Time,
				}, note.Content); err != nil {
					logger.Warn("index upsert failed", slog.String("error", err.Error()))
				}
			}
			broker.PublishNoteEvent("saved", ev.NoteID)
		case store.EventDeleted:
			if err := c.db.DeleteNote(ev.NoteID); err != nil {
				logger.Warn("index delete failed", slog.String("error", err.Error()))
			}
			broker.PublishNoteEvent("deleted", ev.NoteID)
		case store.EventReloaded:
			broker.PublishNoteEvent("reloaded", "")
		}
	})
	defer unsubscribe()

	c.sync.SetOnSynced(func(noteID string) {
		broker.PublishNoteEvent("synced", noteID)
	})

	// Build API router.
	deps := api.Deps{
		Notes:       api.NewHandler(c.store, c.sync, c.db),
		Attachments: api.NewAttachmentHandler(c.att),
		SSE:         broker,
	}
	if c.remote != nil {
		deps.Chat = api.NewChatHandler(c.remote, cfg.GLM.KnowledgeBaseID, cfg.GLM.ChatModel)
		deps.Knowledge = api.NewKnowledgeHandler(c.remote, cfg.GLM.EmbeddingID)
	}
	apiRouter := api.NewRouter(deps, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the collection file for out-of-band changes.
	g.Go(func() error {
		if err := index.Watch(gCtx, c.db, c.store, cfg.Data.Dir, logger, nil); err != nil {
			logger.Warn("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	// Let in-flight remote syncs land before exiting.
	c.sync.Wait()

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdin/stdout with the given options.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stderr: stdout is the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	srv := mcpserver.New(c.store, c.sync, c.db, mcpserver.Options{
		Chat:            c.remote,
		KnowledgeBaseID: cfg.GLM.KnowledgeBaseID,
		ChatModel:       cfg.GLM.ChatModel,
	})

	logger.Info("Starting MCP server on stdio")
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	c.sync.Wait()
	return nil
}
