package api

import (
	"context"
	"errors"
	"net/http"

	"instabridge/internal/platform"
)

type contextKey string

const sessionContextKey contextKey = "authenticatedSession"

// Session pairs a verified bearer token with its live platform client.
type Session struct {
	Token  string
	Client platform.Client
}

// ContextWithSession stores the verified session in the provided context.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext retrieves the verified session from context if present.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(Session)
	return sess, ok
}

// ErrInvalidToken is the uniform rejection for absent or unknown bearer
// credentials.
var ErrInvalidToken = errors.New("Token inválido o expirado")

// AuthenticateRequest validates the bearer token on the request against the
// registry and returns the session. The check never touches platform state.
func (h *Handler) AuthenticateRequest(r *http.Request) (Session, error) {
	token := ExtractToken(r)
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	client, ok, err := h.Registry.Lookup(r.Context(), token)
	if err != nil {
		h.logger().Error("session lookup failed", "error", err)
		return Session{}, ErrInvalidToken
	}
	if !ok {
		return Session{}, ErrInvalidToken
	}
	return Session{Token: token, Client: client}, nil
}

// requireSession resolves the caller's session, preferring one already
// injected by the auth middleware and falling back to validating the bearer
// token directly.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return sess, true
	}
	sess, err := h.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return Session{}, false
	}
	return sess, true
}
