package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"instabridge/internal/platform"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SessionToken string `json:"session_token,omitempty"`
}

// Login authenticates against the platform and issues a bearer token. When a
// settings vault is configured, a stored blob for the username is tried first
// so a still-valid session skips the credentialed call entirely.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}

	ctx := r.Context()
	logger := h.logger().With("username", req.Username)

	if h.Vault != nil {
		if client, restored := h.tryRestore(r, req.Username); restored {
			token, err := h.Registry.Create(ctx, req.Username, client)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			h.recorder().ObserveLogin("resumed")
			h.syncSessionGauge(r)
			logger.Info("session resumed from vault")
			writeJSON(w, http.StatusOK, loginResponse{Success: true, Message: "Sesión restaurada", SessionToken: token})
			return
		}
	}

	client := h.NewClient()
	if err := client.Login(ctx, req.Username, req.Password); err != nil {
		h.recorder().ObserveLogin("failed")
		logger.Warn("login failed", "kind", platform.KindOf(err).String(), "error", err)
		h.writeLoginError(w, err)
		return
	}

	if h.Vault != nil {
		// Best-effort: persistence failures never block a successful login.
		if settings, err := client.Settings(); err != nil {
			logger.Warn("export session settings failed", "error", err)
		} else if err := h.Vault.Save(ctx, req.Username, settings); err != nil {
			logger.Warn("persist session settings failed", "error", err)
		}
	}

	token, err := h.Registry.Create(ctx, req.Username, client)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.recorder().ObserveLogin("fresh")
	h.syncSessionGauge(r)
	logger.Info("login succeeded")
	writeJSON(w, http.StatusOK, loginResponse{Success: true, Message: "Login exitoso", SessionToken: token})
}

// tryRestore attempts the vault path: load the stored blob, revive a client
// from it, and revalidate without credentials. Any failure falls back to the
// fresh login path.
func (h *Handler) tryRestore(r *http.Request, username string) (platform.Client, bool) {
	ctx := r.Context()
	logger := h.logger().With("username", username)

	blob, ok, err := h.Vault.Load(ctx, username)
	if err != nil {
		logger.Warn("load stored session failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	client := h.NewClient()
	if err := client.Restore(ctx, blob); err != nil {
		logger.Info("stored session rejected; falling back to fresh login", "error", err)
		return nil, false
	}
	return client, true
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	switch platform.KindOf(err) {
	case platform.KindInvalidCredentials:
		writeError(w, http.StatusBadRequest, errors.New("Credenciales incorrectas"))
	case platform.KindChallengeRequired:
		writeError(w, http.StatusBadRequest, errors.New("Challenge requerido. Verifica tu cuenta desde la app oficial."))
	case platform.KindRateLimited:
		w.Header().Set("Retry-After", "300")
		writeError(w, http.StatusTooManyRequests, errors.New("Demasiados intentos. Espera unos minutos."))
	default:
		writeError(w, http.StatusInternalServerError, fmt.Errorf("Error interno: %s", err.Error()))
	}
}

// Logout removes the verified token from the registry. The underlying
// platform session stays valid remotely; this is local bookkeeping only.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if err := h.Registry.Remove(r.Context(), sess.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.syncSessionGauge(r)
	h.logger().Info("logout succeeded")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Logout exitoso"})
}
