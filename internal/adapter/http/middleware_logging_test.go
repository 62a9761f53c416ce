package adapthttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"licensetrack/internal/app"
	"licensetrack/internal/domain"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(original) })
	return &buf
}

func TestLoggingMiddleware(t *testing.T) {
	s := &Server{}
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = withSession(r, &domain.Session{UserID: 42})
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("OK"))
	})
	handler := s.loggingMiddleware(nextHandler)

	buf := captureLogs(t)

	req := httptest.NewRequest(http.MethodGet, "/test-path", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, w.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" || entry["method"] != "GET" || entry["path"] != "/test-path" {
		t.Errorf("log output missing expected fields: %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["level"] != "WARN" {
		t.Errorf("expected WARN with status 418, got %v", entry)
	}
	if entry["user_id"] != float64(42) {
		t.Errorf("expected user_id 42, got %v", entry["user_id"])
	}
	if entry["request_id"] != w.Header().Get("X-Request-ID") {
		t.Errorf("expected request_id to match header, got %v", entry["request_id"])
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &domain.ValidationError{Field: "state", Msg: "is required"}, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("add: %w", &domain.ValidationError{Field: "x", Msg: "bad"}), http.StatusBadRequest},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"bad credentials", app.ErrInvalidCredentials, http.StatusUnauthorized},
		{"expired session", fmt.Errorf("refresh: %w", app.ErrSessionExpired), http.StatusUnauthorized},
		{"users exist", app.ErrUsersExist, http.StatusConflict},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}
	captureLogs(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, httptest.NewRequest(http.MethodGet, "/api/x", nil), tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	t.Run("internal details are not leaked", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeServiceError(w, httptest.NewRequest(http.MethodGet, "/api/x", nil), errors.New("pq: password authentication failed"))
		if bytes.Contains(w.Body.Bytes(), []byte("pq:")) {
			t.Errorf("expected generic message, got %s", w.Body.String())
		}
	})
}

func TestLoginLimiter(t *testing.T) {
	if newLoginLimiter(0) != nil {
		t.Error("expected nil limiter when disabled")
	}
	// A nil limiter passes requests through.
	var disabled *loginLimiter
	h := disabled.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("expected passthrough, got %d", w.Code)
	}

	l := newLoginLimiter(1)
	if !l.get("10.0.0.1").Allow() {
		t.Error("expected first attempt allowed")
	}
	if l.get("10.0.0.1").Allow() {
		t.Error("expected second attempt limited")
	}
	if !l.get("10.0.0.2").Allow() {
		t.Error("expected other IP to have its own budget")
	}
	if l.size() != 2 {
		t.Errorf("expected 2 tracked IPs, got %d", l.size())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	if got := clientIP(r); got != "192.0.2.7" {
		t.Errorf("expected 192.0.2.7, got %q", got)
	}
	r.RemoteAddr = "unix"
	if got := clientIP(r); got != "unix" {
		t.Errorf("expected raw address, got %q", got)
	}
}

func TestStaticFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "style.css"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "assets.d"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/style.css", true},
		{"/missing.css", false},
		{"/dashboard", false},
		{"/assets.d", false},
		{"/../style.css", true},
		{"/", false},
	}
	for _, tt := range tests {
		if got := staticFile(dir, tt.path); got != tt.want {
			t.Errorf("staticFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSessionToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if sessionToken(r) != "" {
		t.Error("expected empty token")
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := sessionToken(r); got != "abc" {
		t.Errorf("expected bearer token, got %q", got)
	}
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: "from-cookie"})
	if got := sessionToken(r); got != "from-cookie" {
		t.Errorf("expected cookie to win, got %q", got)
	}
}

func TestSSOClaimsUsername(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"verified email", `{"email":"Nurse@Example.com","email_verified":true,"sub":"AbC123"}`, "nurse@example.com"},
		{"verified as string", `{"email":"nurse@example.com","email_verified":"true","sub":"AbC123"}`, "nurse@example.com"},
		{"unverified email falls back to subject", `{"email":"nurse@example.com","email_verified":false,"sub":"AbC123"}`, "AbC123"},
		{"missing flag is unverified", `{"email":"nurse@example.com","sub":"AbC123"}`, "AbC123"},
		{"subject keeps its case", `{"sub":"AbC123"}`, "AbC123"},
		{"nothing usable", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ssoClaims
			if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := c.username(); got != tt.want {
				t.Errorf("username() = %q, want %q", got, tt.want)
			}
		})
	}
}
