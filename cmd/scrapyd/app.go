package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/eggstorage"
	"github.com/gwozai/scrapyd/internal/environ"
	"github.com/gwozai/scrapyd/internal/events"
	"github.com/gwozai/scrapyd/internal/jobstorage"
	"github.com/gwozai/scrapyd/internal/launcher"
	"github.com/gwozai/scrapyd/internal/platform/sqlite"
	"github.com/gwozai/scrapyd/internal/scheduler"
	"github.com/gwozai/scrapyd/internal/spiderlist"
)

// application holds the daemon's shared dependencies so startup wiring and
// shutdown cleanup live in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	eggs      *eggstorage.FilesystemStorage
	scheduler *scheduler.Scheduler
	history   *jobstorage.Store
	lister    *spiderlist.Lister
	launcher  *launcher.Launcher
	emitter   events.EventEmitter
}

// newApplication creates an application instance with all dependencies
// initialized: database opened and migrated, stores constructed, and the
// launcher seeded from the durable job history. The launcher is not started
// yet; Run does that.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := sqlite.Open(cfg.Storage.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	app.emitter = emitter

	app.eggs = eggstorage.NewFilesystemStorage(cfg.Storage.EggsDir, logger)
	app.scheduler = scheduler.New(db, emitter, logger)
	app.history = jobstorage.New(db, logger)

	env := environ.New(cfg)
	app.lister = spiderlist.NewLister(app.eggs, spiderlist.NewSQLiteCache(db), env, cfg.Runner, logger)
	app.launcher = launcher.New(app.scheduler, app.eggs, env, app.history, cfg.Launcher, logger)

	if err := app.launcher.Backfill(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to backfill finished jobs: %w", err)
	}

	// Queued jobs wake the launcher; bundle changes invalidate the spider
	// list cache.
	emitter.RegisterHandler(app.launcher)
	emitter.RegisterHandler(app.lister)

	logger.Info("application initialized")
	return app, nil
}

// Run starts the launcher and serves the control API until shutdown.
func (app *application) Run(ctx context.Context) error {
	app.launcher.Start()

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the launcher and closes the database. Stopping the launcher
// signals running crawls and waits up to the configured shutdown grace.
func (app *application) cleanup() {
	if app.launcher != nil {
		stopCtx, cancel := context.WithTimeout(
			context.Background(), app.config.Launcher.ShutdownGrace+5*time.Second)
		defer cancel()
		if err := app.launcher.Stop(stopCtx); err != nil {
			app.logger.Error("failed to stop launcher cleanly", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}

	app.logger.Info("shutdown completed")
}
