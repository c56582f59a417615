package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gwozai/scrapyd/internal/api"
	apimiddleware "github.com/gwozai/scrapyd/internal/api/middleware"
)

// setupRouter wires the control API routes and middleware. Log and item
// directories are browsable so the URLs reported by listjobs.json resolve.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.RequestLogger(app.logger))
	r.Use(chimiddleware.Recoverer)

	auth := apimiddleware.NewBasicAuth(
		app.config.Server.Username,
		app.config.Server.Password,
		app.config.Server.PasswordHash,
		app.logger,
	)
	if auth.Enabled() {
		r.Use(auth.Authenticate)
		app.logger.Info("basic authentication enabled", "username", app.config.Server.Username)
	}

	handler := api.New(
		app.config,
		app.scheduler,
		app.launcher,
		app.eggs,
		app.lister,
		app.history,
		app.emitter,
		app.logger,
	)

	r.Get("/", handler.Home)
	r.Post("/addversion.json", handler.AddVersion)
	r.Post("/schedule.json", handler.Schedule)
	r.Post("/cancel.json", handler.Cancel)
	r.Get("/status.json", handler.Status)
	r.Get("/listprojects.json", handler.ListProjects)
	r.Get("/listversions.json", handler.ListVersions)
	r.Get("/listspiders.json", handler.ListSpiders)
	r.Get("/listjobs.json", handler.ListJobs)
	r.Post("/delversion.json", handler.DeleteVersion)
	r.Post("/delproject.json", handler.DeleteProject)
	r.Get("/daemonstatus.json", handler.DaemonStatus)

	logs := http.StripPrefix("/logs/", http.FileServer(http.Dir(app.config.Storage.LogsDir)))
	r.Get("/logs/*", logs.ServeHTTP)

	if app.config.Storage.ItemsDir != "" {
		items := http.StripPrefix("/items/", http.FileServer(http.Dir(app.config.Storage.ItemsDir)))
		r.Get("/items/*", items.ServeHTTP)
	}

	return r
}
