package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gwozai/scrapyd/internal/events"
)

// maxUploadMemory caps the in-memory portion of a bundle upload; larger
// uploads spool to disk.
const maxUploadMemory = 32 << 20

// AddVersion handles POST /addversion.json: store a bundle under
// project/version, flush the spider cache, and report how many spiders the
// uploaded version contains.
func (h *Handler) AddVersion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.respondError(w, r, fmt.Errorf("failed to parse upload: %w", err))
		return
	}

	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}
	version, ok := h.requireParam(w, r, "version")
	if !ok {
		return
	}

	// The bundle arrives as a multipart file or as a raw form field.
	var egg io.Reader
	if file, _, err := r.FormFile("egg"); err == nil {
		defer func() {
			_ = file.Close()
		}()
		egg = file
	} else if raw := r.FormValue("egg"); raw != "" {
		egg = strings.NewReader(raw)
	} else {
		h.respondMessage(w, r, "'egg' parameter is required")
		return
	}

	if err := h.eggs.Put(project, version, egg); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.emit(r, events.TypeVersionAdded, project, version)

	// Enumerate the version that was just uploaded, not whatever version is
	// currently the latest.
	spiders, err := h.lister.Get(r.Context(), project, version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, payload{
		"project": project,
		"version": version,
		"spiders": len(spiders),
	})
}

// ListProjects handles GET /listprojects.json.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, payload{"projects": projects})
}

// ListVersions handles GET /listversions.json. An unknown project yields an
// empty list, not an error.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}

	versions, err := h.eggs.List(project)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	h.respond(w, r, payload{"versions": versions})
}

// ListSpiders handles GET /listspiders.json.
func (h *Handler) ListSpiders(w http.ResponseWriter, r *http.Request) {
	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}

	spiders, err := h.lister.Get(r.Context(), project, r.FormValue("_version"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, payload{"spiders": spiders})
}

// DeleteVersion handles POST /delversion.json.
func (h *Handler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}
	version, ok := h.requireParam(w, r, "version")
	if !ok {
		return
	}

	if err := h.eggs.Delete(project, version); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.emit(r, events.TypeVersionDeleted, project, version)
	h.respond(w, r, nil)
}

// DeleteProject handles POST /delproject.json: remove every bundle of the
// project and purge its pending queue.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.requireParam(w, r, "project")
	if !ok {
		return
	}

	if err := h.eggs.Delete(project, ""); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.emit(r, events.TypeVersionDeleted, project, "")

	// The bundles are gone; a purge failure only delays the pending jobs
	// until dispatch rejects them as not found.
	if _, err := h.scheduler.PurgeProject(r.Context(), project); err != nil {
		h.logger.Error("failed to purge pending jobs",
			"project", project, "error", err)
	}

	h.respond(w, r, nil)
}

// emit publishes a bundle lifecycle event; handler failures are logged, not
// surfaced, because the triggering operation has already succeeded.
func (h *Handler) emit(r *http.Request, eventType events.Type, project, version string) {
	event := events.New(eventType, project)
	event.Version = version
	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		h.logger.Warn("event handler failed",
			"type", string(eventType), "project", project, "error", err)
	}
}
