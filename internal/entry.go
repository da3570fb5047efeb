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

	"github.com/canopyhq/canopy/internal/api"
	"github.com/canopyhq/canopy/internal/backup"
	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/mcpserver"
	"github.com/canopyhq/canopy/internal/notebook"
	"github.com/canopyhq/canopy/internal/sse"
	"github.com/canopyhq/canopy/internal/storage"
)

// treeThrottle bounds how often the coarse tree.updated SSE event fires.
const treeThrottle = 2 * time.Second

func buildConfig(opts []Option) (*Config, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app.config, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openStore ensures the notebook directory exists and opens storage on it.
func openStore(cfg *Config) (*storage.FS, error) {
	if err := os.MkdirAll(cfg.Notebook.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create notebook dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Notebook.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return store, nil
}

// openIndex opens the SQLite index and registers the configured plugin
// indexers.
func openIndex(cfg *Config, logger *slog.Logger) (*index.Index, error) {
	path := cfg.Index.ResolvePath(cfg.Notebook.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	ix, err := index.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if cfg.Index.Tasks {
		if err := ix.AddPluginIndexer(index.TasksIndexer{}); err != nil {
			_ = ix.Close()
			return nil, fmt.Errorf("register tasks indexer: %w", err)
		}
	}
	if cfg.Index.Search {
		if err := ix.AddPluginIndexer(index.SearchIndexer{}); err != nil {
			_ = ix.Close()
			return nil, fmt.Errorf("register search indexer: %w", err)
		}
	}
	return ix, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stdout, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("notebook_path", cfg.Notebook.Path),
		slog.String("index_path", cfg.Index.ResolvePath(cfg.Notebook.Path)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ix, err := openIndex(cfg, logger)
	if err != nil {
		return err
	}
	defer ix.Close()

	// Bring the index up to date with the files before serving.
	if err := index.Sync(ctx, ix, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// SSE broker republishes index row events to connected clients.
	broker := sse.NewBroker(treeThrottle)
	defer broker.Close()
	ix.Subscribe(broker)
	defer ix.Unsubscribe(broker)

	pages := index.NewPagesModel(ix)
	tags := index.NewTagsModel(ix)
	defer tags.Teardown()
	defer pages.Teardown()

	nb := notebook.New(store, ix,
		notebook.WithLogger(logger),
		notebook.WithAutosave(cfg.Notebook.AutosaveInterval()),
		notebook.WithSaveErrorReporter(func(page *notebook.Page, saveErr error) {
			broker.PublishSaveError(page.Name, saveErr)
		}))
	defer nb.Close()

	apiRouter := api.NewRouter(nb, pages, tags, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, store.Root())

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

	// Watch the notebook directory for external edits. The watcher is
	// best effort: the server stays usable without it.
	g.Go(func() error {
		if err := index.Watch(gCtx, ix, store, store.Root(), logger); err != nil {
			logger.Warn("watcher unavailable", slog.String("error", err.Error()))
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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so the
// stdio transport stays clean.
func RunMCP(ctx context.Context, opts ...Option) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.App.LogLevel)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ix, err := openIndex(cfg, logger)
	if err != nil {
		return err
	}
	defer ix.Close()

	if err := index.Sync(ctx, ix, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	nb := notebook.New(store, ix,
		notebook.WithLogger(logger),
		notebook.WithAutosave(cfg.Notebook.AutosaveInterval()))
	defer nb.Close()

	logger.Info("Starting MCP server on stdio", slog.String("notebook_path", store.Root()))
	return mcpserver.New(nb).ServeStdio()
}

// RunBackup writes a zstd-compressed tar snapshot of the notebook to
// output.
func RunBackup(ctx context.Context, output string, opts ...Option) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stdout, cfg.App.LogLevel)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	if err := backup.Write(ctx, f, store.Root()); err != nil {
		f.Close()
		_ = os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close backup file: %w", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return err
	}
	logger.Info("Backup written",
		slog.String("output", output),
		slog.Int64("bytes", info.Size()))
	return nil
}

// RunReindex rebuilds the index from the page files and reports the
// resulting counts.
func RunReindex(ctx context.Context, opts ...Option) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stdout, cfg.App.LogLevel)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	ix, err := openIndex(cfg, logger)
	if err != nil {
		return err
	}
	defer ix.Close()

	if err := index.Sync(ctx, ix, store, logger); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	stats, err := ix.Stats()
	if err != nil {
		return err
	}
	logger.Info("Reindex complete",
		slog.Int("pages", stats.Pages),
		slog.Int("placeholders", stats.Placeholders),
		slog.Int("links", stats.Links),
		slog.Int("tags", stats.Tags))
	return nil
}
