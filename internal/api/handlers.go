package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"instabridge/internal/observability/metrics"
	"instabridge/internal/platform"
	"instabridge/internal/session"
)

// Handler carries the dependencies shared by every endpoint: the session
// registry, the optional settings vault, and the factory producing fresh
// platform clients for login attempts.
type Handler struct {
	Registry  *session.Registry
	Vault     session.SettingsVault
	NewClient platform.Factory
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	// Environment feeds the health payload (production or development).
	Environment string
}

// NewHandler wires the handler with its required collaborators. Vault is
// optional: leaving it nil selects the ephemeral variant where every login
// performs a fresh credentialed call.
func NewHandler(registry *session.Registry, factory platform.Factory) *Handler {
	if registry == nil {
		registry = session.NewRegistry()
	}
	return &Handler{
		Registry:  registry,
		NewClient: factory,
		Logger:    slog.Default(),
		Metrics:   metrics.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) syncSessionGauge(r *http.Request) {
	if count, err := h.Registry.Count(r.Context()); err == nil {
		h.recorder().SetActiveSessions(count)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(dest)
}

// ExtractToken pulls the bearer credential from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method "+r.Method+" not allowed"))
	return false
}
