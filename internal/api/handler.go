// Package api implements the JSON control interface of the daemon. Every
// endpoint answers HTTP 200 with an envelope carrying the node name and an
// ok/error status; domain failures travel inside the envelope, not as HTTP
// status codes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/eggstorage"
	"github.com/gwozai/scrapyd/internal/events"
	"github.com/gwozai/scrapyd/internal/launcher"
)

// JobScheduler enqueues crawl jobs and inspects the pending queues.
type JobScheduler interface {
	Add(ctx context.Context, d domain.JobDescriptor) (string, error)
	List(ctx context.Context, project string) ([]domain.JobDescriptor, error)
	Count(ctx context.Context, project string) (int, error)
	PurgeProject(ctx context.Context, project string) (int64, error)
}

// JobLauncher controls running processes and reports recent completions.
type JobLauncher interface {
	Cancel(ctx context.Context, project, job, signal string) (string, error)
	Running() []launcher.RunningJob
	Finished() []domain.Job
}

// SpiderLister enumerates the spiders in a project's bundle.
type SpiderLister interface {
	Get(ctx context.Context, project, version string) ([]string, error)
}

// FinishedLog is the durable finished-job history.
type FinishedLog interface {
	Has(ctx context.Context, project, job string) (bool, error)
}

// Handler serves every control endpoint. It owns no state beyond its
// collaborators and is safe for concurrent use.
type Handler struct {
	nodeName  string
	settings  map[string]map[string]string
	scheduler JobScheduler
	launcher  JobLauncher
	eggs      eggstorage.Storage
	lister    SpiderLister
	history   FinishedLog
	emitter   events.EventEmitter
	logger    *slog.Logger
}

// New creates a Handler wired to the daemon's components.
func New(
	cfg *config.Config,
	scheduler JobScheduler,
	jobLauncher JobLauncher,
	eggs eggstorage.Storage,
	lister SpiderLister,
	history FinishedLog,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		nodeName:  cfg.Server.NodeName,
		settings:  cfg.Settings,
		scheduler: scheduler,
		launcher:  jobLauncher,
		eggs:      eggs,
		lister:    lister,
		history:   history,
		emitter:   emitter,
		logger:    logger.With("component", "api"),
	}
}

// projects returns every known project: those with a stored bundle plus
// those that only exist as a configured settings section.
func (h *Handler) projects() ([]string, error) {
	stored, err := h.eggs.ListProjects()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored)+len(h.settings))
	names := make([]string, 0, len(stored)+len(h.settings))
	for _, p := range stored {
		if !seen[p] {
			seen[p] = true
			names = append(names, p)
		}
	}
	for p := range h.settings {
		if !seen[p] {
			seen[p] = true
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return names, nil
}

// projectKnown reports whether the project exists, by bundle or by
// configuration.
func (h *Handler) projectKnown(project string) (bool, error) {
	if _, ok := h.settings[project]; ok {
		return true, nil
	}
	stored, err := h.eggs.ListProjects()
	if err != nil {
		return false, err
	}
	for _, p := range stored {
		if p == project {
			return true, nil
		}
	}
	return false, nil
}

const homePage = `<html>
<head><title>Scrapyd</title></head>
<body>
<h1>Scrapyd</h1>
<p>This daemon runs crawl jobs scheduled through its JSON API.</p>
<ul>
<li><a href="/logs/">Logs</a></li>
<li><a href="/listprojects.json">Projects</a></li>
<li><a href="/listjobs.json">Jobs</a></li>
<li><a href="/daemonstatus.json">Status</a></li>
</ul>
</body>
</html>
`

// Home serves the minimal HTML landing page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(homePage))
}
