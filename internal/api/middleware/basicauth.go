// Package middleware provides the HTTP middleware of the control API.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth guards the control API with HTTP basic authentication. With no
// username configured the API is open and every request passes through.
type BasicAuth struct {
	username     string
	password     string
	passwordHash string
	logger       *slog.Logger
}

// NewBasicAuth creates a BasicAuth middleware. passwordHash, when non-empty,
// must be a bcrypt hash and takes precedence over the plaintext password.
func NewBasicAuth(username, password, passwordHash string, logger *slog.Logger) *BasicAuth {
	return &BasicAuth{
		username:     username,
		password:     password,
		passwordHash: passwordHash,
		logger:       logger.With("component", "auth"),
	}
}

// Enabled reports whether authentication is configured at all.
func (m *BasicAuth) Enabled() bool {
	return m.username != ""
}

// Authenticate rejects requests without valid credentials.
func (m *BasicAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !m.valid(user, pass) {
			m.logger.Warn("unauthorized request",
				"path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="scrapyd"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *BasicAuth) valid(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(m.username)) == 1

	var passOK bool
	if m.passwordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(m.password)) == 1
	}
	return userOK && passOK
}
