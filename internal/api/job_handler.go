package api

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gwozai/scrapyd/internal/domain"
)

// Schedule handles POST /schedule.json: validate the project and spider,
// then enqueue a job descriptor. Form parameters other than the reserved
// ones become spider arguments.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondError(w, r, fmt.Errorf("failed to parse form: %w", err))
		return
	}

	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}
	spider, ok := h.requireParam(w, r, "spider")
	if !ok {
		return
	}
	version := r.FormValue("_version")
	jobID := r.FormValue("jobid")

	if _, sent := r.Form["priority"]; sent {
		h.respondMessage(w, r, "'priority' parameter is not supported")
		return
	}

	if err := domain.CheckSegments(project, spider, jobID); err != nil {
		h.respondError(w, r, err)
		return
	}

	known, err := h.projectKnown(project)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !known {
		h.respondError(w, r, domain.NotFound("project", project))
		return
	}

	spiders, err := h.lister.Get(r.Context(), project, version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !slices.Contains(spiders, spider) {
		h.respondError(w, r, domain.NotFound("spider", spider))
		return
	}

	settings := domain.Settings{}
	for _, pair := range r.Form["setting"] {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			h.respondMessage(w, r, fmt.Sprintf("invalid setting '%s'", pair))
			return
		}
		settings[key] = value
	}

	args := map[string]string{}
	for key, values := range r.Form {
		switch key {
		case "project", "spider", "_version", "jobid", "setting", "priority":
			continue
		}
		if len(values) > 0 {
			args[key] = values[0]
		}
	}

	id, err := h.scheduler.Add(r.Context(), domain.JobDescriptor{
		Project:  project,
		Spider:   spider,
		JobID:    jobID,
		Settings: settings,
		Args:     args,
		Version:  version,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, payload{"jobid": id})
}

// Cancel handles POST /cancel.json. The previous state is "running",
// "pending", or null when the job is unknown.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}
	job, ok := h.requireParam(w, r, "job")
	if !ok {
		return
	}

	known, err := h.projectKnown(project)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !known {
		h.respondError(w, r, domain.NotFound("project", project))
		return
	}

	prev, err := h.launcher.Cancel(r.Context(), project, job, r.FormValue("signal"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var prevstate interface{}
	if prev != "" {
		prevstate = prev
	}
	h.respond(w, r, payload{"prevstate": prevstate})
}

// ListJobs handles GET /listjobs.json, optionally filtered to one project.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	project := r.FormValue("project")

	descriptors, err := h.scheduler.List(r.Context(), project)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	pending := make([]payload, 0, len(descriptors))
	for _, d := range descriptors {
		entry := payload{
			"project": d.Project,
			"spider":  d.Spider,
			"id":      d.JobID,
		}
		if d.Version != "" {
			entry["version"] = d.Version
		}
		if len(d.Settings) > 0 {
			entry["settings"] = d.Settings
		}
		if len(d.Args) > 0 {
			entry["args"] = d.Args
		}
		pending = append(pending, entry)
	}

	running := make([]payload, 0)
	for _, job := range h.launcher.Running() {
		if project != "" && job.Project != project {
			continue
		}
		entry := payload{
			"project":    job.Project,
			"spider":     job.Spider,
			"id":         job.ID,
			"pid":        job.PID,
			"start_time": job.StartTime.Format(timeLayout),
			"log_url":    job.LogURL,
		}
		if job.ItemsURL != "" {
			entry["items_url"] = job.ItemsURL
		}
		running = append(running, entry)
	}

	finished := make([]payload, 0)
	for _, job := range h.launcher.Finished() {
		if project != "" && job.Project != project {
			continue
		}
		entry := payload{
			"project":    job.Project,
			"spider":     job.Spider,
			"id":         job.ID,
			"start_time": job.StartTime.Format(timeLayout),
			"end_time":   job.EndTime.Format(timeLayout),
			"log_url":    job.LogURL,
		}
		if job.ItemsURL != "" {
			entry["items_url"] = job.ItemsURL
		}
		finished = append(finished, entry)
	}

	h.respond(w, r, payload{
		"pending":  pending,
		"running":  running,
		"finished": finished,
	})
}

// DaemonStatus handles GET /daemonstatus.json.
func (h *Handler) DaemonStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.scheduler.Count(r.Context(), "")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, payload{
		"pending":  pending,
		"running":  len(h.launcher.Running()),
		"finished": len(h.launcher.Finished()),
	})
}

// Status handles GET /status.json: report one job's current state. Pending
// wins over running, running over finished; the durable history answers for
// jobs that have aged out of the finished set.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := h.requireParam(w, r, "job")
	if !ok {
		return
	}
	project := r.FormValue("project")

	for _, done := range h.launcher.Finished() {
		if done.ID == job && (project == "" || done.Project == project) {
			h.respond(w, r, payload{"currstate": "finished"})
			return
		}
	}

	for _, running := range h.launcher.Running() {
		if running.ID == job && (project == "" || running.Project == project) {
			h.respond(w, r, payload{"currstate": "running"})
			return
		}
	}

	descriptors, err := h.scheduler.List(r.Context(), project)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	for _, d := range descriptors {
		if d.JobID == job {
			h.respond(w, r, payload{"currstate": "pending"})
			return
		}
	}

	// Jobs evicted from the bounded finished set still exist in the durable
	// log; report those as finished rather than unknown.
	has, err := h.history.Has(r.Context(), project, job)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if has {
		h.respond(w, r, payload{"currstate": "finished"})
		return
	}

	h.respond(w, r, payload{"currstate": nil})
}
