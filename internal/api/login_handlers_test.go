package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"instabridge/internal/platform"
	"instabridge/internal/session"
	"instabridge/internal/testsupport/platformstub"
)

func newTestHandler(stub *platformstub.Client) *Handler {
	return NewHandler(session.NewRegistry(), stub.Factory())
}

func doLogin(t *testing.T, handler *Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/login", body)
	rec := httptest.NewRecorder()
	handler.Login(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestLoginIssuesUsernameTimestampToken(t *testing.T) {
	stub := platformstub.New()
	handler := newTestHandler(stub)

	rec := doLogin(t, handler, "alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["success"] != true {
		t.Fatalf("expected success true, got %v", payload["success"])
	}
	if payload["message"] != "Login exitoso" {
		t.Fatalf("unexpected message %q", payload["message"])
	}
	token, _ := payload["session_token"].(string)
	if !regexp.MustCompile(`^alice_\d+$`).MatchString(token) {
		t.Fatalf("token %q does not match username_timestamp shape", token)
	}
	if got := stub.Calls("login"); got != 1 {
		t.Fatalf("expected exactly one platform login, got %d", got)
	}
}

func TestLoginToleratesUnknownBodyFields(t *testing.T) {
	stub := platformstub.New()
	handler := newTestHandler(stub)

	body := strings.NewReader(`{"username":"alice","password":"secret","device_id":"abc","remember":true}`)
	rec := httptest.NewRecorder()
	handler.Login(rec, httptest.NewRequest(http.MethodPost, "/api/login", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("extra body fields must be ignored, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := stub.Calls("login"); got != 1 {
		t.Fatalf("expected exactly one platform login, got %d", got)
	}
}

func TestLoginRejectsBadRequests(t *testing.T) {
	stub := platformstub.New()
	handler := newTestHandler(stub)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"wrong method", httptest.NewRequest(http.MethodGet, "/api/login", nil)},
		{"invalid json", httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{"))},
		{"missing username", httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"x"}`))},
		{"missing password", httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice"}`))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.Login(rec, tc.req)
			if rec.Code != http.StatusBadRequest && rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("expected rejection, got %d", rec.Code)
			}
		})
	}
	if got := stub.Calls("login"); got != 0 {
		t.Fatalf("rejected requests must not reach the platform, got %d logins", got)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "invalid credentials",
			err:        &platform.Error{Kind: platform.KindInvalidCredentials, Message: "bad password"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Credenciales incorrectas",
		},
		{
			name:       "challenge required",
			err:        &platform.Error{Kind: platform.KindChallengeRequired, Message: "checkpoint"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Challenge requerido. Verifica tu cuenta desde la app oficial.",
		},
		{
			name:       "rate limited",
			err:        &platform.Error{Kind: platform.KindRateLimited, Message: "please wait"},
			wantStatus: http.StatusTooManyRequests,
			wantMsg:    "Demasiados intentos. Espera unos minutos.",
		},
		{
			name:       "unexpected",
			err:        &platform.Error{Kind: platform.KindOther, Message: "boom"},
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Error interno: boom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := platformstub.New()
			stub.LoginErr = tc.err
			handler := newTestHandler(stub)

			rec := doLogin(t, handler, "alice", "secret")
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			payload := decodeBody(t, rec)
			if payload["error"] != tc.wantMsg {
				t.Fatalf("expected error %q, got %q", tc.wantMsg, payload["error"])
			}
			if tc.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
				t.Fatal("rate limited response must carry Retry-After")
			}
		})
	}
}

func TestLoginResumesStoredSession(t *testing.T) {
	vault, err := session.NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileVault: %v", err)
	}
	stub := platformstub.New()
	handler := newTestHandler(stub)
	handler.Vault = vault

	rec := doLogin(t, handler, "alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("first login failed: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != "Login exitoso" {
		t.Fatalf("first login should be fresh, got message %q", got)
	}
	if stub.Calls("login") != 1 {
		t.Fatalf("expected one credentialed login, got %d", stub.Calls("login"))
	}

	rec = doLogin(t, handler, "alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("second login failed: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != "Sesión restaurada" {
		t.Fatalf("second login should resume, got message %q", got)
	}
	if stub.Calls("login") != 1 {
		t.Fatalf("resumed login must skip the credentialed call, got %d logins", stub.Calls("login"))
	}
	if stub.Calls("restore") != 1 {
		t.Fatalf("expected one restore call, got %d", stub.Calls("restore"))
	}
}

func TestLoginFallsBackWhenRestoreRejected(t *testing.T) {
	vault, err := session.NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileVault: %v", err)
	}
	if err := vault.Save(context.Background(), "alice", []byte(`{"username":"alice"}`)); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	stub := platformstub.New()
	stub.RestoreErr = &platform.Error{Kind: platform.KindInvalidCredentials, Message: "login required"}
	handler := newTestHandler(stub)
	handler.Vault = vault

	rec := doLogin(t, handler, "alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fallback login success, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != "Login exitoso" {
		t.Fatalf("fallback must look like a fresh login, got %q", got)
	}
	if stub.Calls("restore") != 1 || stub.Calls("login") != 1 {
		t.Fatalf("expected restore then fresh login, got restore=%d login=%d",
			stub.Calls("restore"), stub.Calls("login"))
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	stub := platformstub.New()
	handler := newTestHandler(stub)

	rec := doLogin(t, handler, "alice", "secret")
	token, _ := decodeBody(t, rec)["session_token"].(string)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.Logout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["success"] != true || payload["message"] != "Logout exitoso" {
		t.Fatalf("unexpected logout payload %v", payload)
	}

	// The same token is invalid afterwards.
	req = httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.Logout(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", rec.Code)
	}
}

func TestLogoutRequiresToken(t *testing.T) {
	handler := newTestHandler(platformstub.New())

	for _, header := range []string{"", "Bearer ", "Bearer nope", "Basic abc"} {
		req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.Logout(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != ErrInvalidToken.Error() {
			t.Fatalf("header %q: unexpected error %q", header, got)
		}
	}
}
