package api

import (
	"errors"
	"net/http"
)

var errNotFound = errors.New("not found")

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Environment    string `json:"environment"`
}

// Health reports liveness plus the current session count. It requires no
// authentication and never calls the platform.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	count, err := h.Registry.Count(r.Context())
	if err != nil {
		h.logger().Error("count sessions failed", "error", err)
		count = 0
	}
	h.recorder().SetActiveSessions(count)

	env := h.Environment
	if env == "" {
		env = "development"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		ActiveSessions: count,
		Environment:    env,
	})
}

// Root is the service banner on "/".
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Instagram API Backend is running!",
		"docs_url":     "/docs",
		"health_check": "/api/health",
	})
}
