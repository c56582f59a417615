package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gwozai/scrapyd/internal/domain"
)

// payload is one response body before the envelope fields are stamped.
type payload map[string]interface{}

// timeLayout is the wire format for job timestamps.
const timeLayout = "2006-01-02 15:04:05.000000"

// respond writes the body with the envelope fields. The status field is only
// stamped when the body does not already carry one.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, body payload) {
	if body == nil {
		body = payload{}
	}
	body["node_name"] = h.nodeName
	if _, ok := body["status"]; !ok {
		body["status"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response",
			"path", r.URL.Path, "error", err)
	}
}

// respondMessage writes an error envelope with a fixed message.
func (h *Handler) respondMessage(w http.ResponseWriter, r *http.Request, message string) {
	h.respond(w, r, payload{"status": "error", "message": message})
}

// respondError translates a failure into the error envelope. Typed domain
// errors are expected operational outcomes and carry their class name where
// the original clients look for it; anything else is logged before being
// surfaced. The transport status stays 200 either way, the envelope is what
// signals failure.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound  *domain.NotFoundError
		traversal *domain.DirectoryTraversalError
		runner    *domain.RunnerError
	)

	var message string
	switch {
	case errors.As(err, &notFound):
		message = notFound.Error()
	case errors.As(err, &traversal):
		message = "DirectoryTraversalError: " + traversal.Path
	case errors.As(err, &runner):
		message = "RunnerError: " + runner.Detail
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path, "error", err)
		message = err.Error()
	}

	h.respondMessage(w, r, message)
}

// requireParam reads a form or query parameter that must be present and
// non-empty. When it is missing, the error envelope has already been written
// and the caller must return.
func (h *Handler) requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.FormValue(name)
	if value == "" {
		h.respondMessage(w, r, fmt.Sprintf("'%s' parameter is required", name))
		return "", false
	}
	return value, true
}
