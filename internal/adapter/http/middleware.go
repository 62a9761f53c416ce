package adapthttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"licensetrack/internal/app"
	"licensetrack/internal/domain"

	"github.com/google/uuid"
)

type contextKey string

const (
	sessionContextKey contextKey = "session"
	requestContextKey contextKey = "request"
)

const sessionCookie = "session"

// testUserID is the user every request runs as when auth is disabled.
const testUserID int64 = 1

// requestInfo is filled in as the request moves down the chain so the
// logging middleware can report who made it.
type requestInfo struct {
	id     string
	userID int64
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestContextKey).(*requestInfo)
	return info
}

func sessionFrom(ctx context.Context) *domain.Session {
	sess, _ := ctx.Value(sessionContextKey).(*domain.Session)
	return sess
}

// userID returns the owner of the request's session. Only valid behind
// requireSession.
func userID(r *http.Request) int64 {
	if sess := sessionFrom(r.Context()); sess != nil {
		return sess.UserID
	}
	return 0
}

// statusRecorder wraps http.ResponseWriter and records the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// loggingMiddleware emits one structured line per request. The level
// follows the status code.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{id: uuid.NewString()}
		w.Header().Set("X-Request-ID", info.id)

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestContextKey, info)))

		if s.metrics != nil {
			s.metrics.RecordHTTPStatus(rec.statusCode)
		}

		attrs := []any{
			slog.String("request_id", info.id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.statusCode),
			slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
		}
		if info.userID != 0 {
			attrs = append(attrs, slog.Int64("user_id", info.userID))
		}

		level := slog.LevelInfo
		if rec.statusCode >= 500 {
			level = slog.LevelError
		} else if rec.statusCode >= 400 {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http_request", attrs...)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func withNoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// sessionToken reads the session cookie, falling back to a bearer token.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// decide runs the session guard for the request against path p.
func (s *Server) decide(r *http.Request, p string) app.Decision {
	if s.disableAuth {
		return app.Decision{
			Outcome: app.Allow,
			Session: &domain.Session{UserID: testUserID, Subject: "test", ExpiresAt: time.Now().Add(time.Hour)},
		}
	}

	// Authelia-style forward auth from a trusted proxy.
	if s.forwardAuth {
		if remoteUser := r.Header.Get("Remote-User"); remoteUser != "" {
			user, err := s.auth.ForwardUser(r.Context(), remoteUser)
			if err == nil {
				return s.guard.Resolve(s.auth.ForwardSession(user), p)
			}
			slog.Warn("forward auth: cannot resolve user",
				slog.String("remote_user", remoteUser),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.guard.Evaluate(r.Context(), sessionToken(r), p)
}

func withSession(r *http.Request, sess *domain.Session) *http.Request {
	if info := requestInfoFrom(r.Context()); info != nil {
		info.userID = sess.UserID
	}
	return r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess))
}

// requireSession guards API routes. Anything but a live session is a 401
// carrying the login location.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.decide(r, r.URL.Path)
		if d.Outcome != app.Allow || d.Session == nil {
			if sessionToken(r) != "" {
				s.clearSessionCookie(w, r)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":    "unauthorized",
				"redirect": app.LoginPath,
			})
			return
		}
		next.ServeHTTP(w, withSession(r, d.Session))
	})
}

// guardPage guards browser routes with a 302 to the guard's location.
func (s *Server) guardPage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.decide(r, r.URL.Path)
		switch d.Outcome {
		case app.Allow:
			if d.Session != nil {
				r = withSession(r, d.Session)
			}
			next.ServeHTTP(w, r)
		default:
			if d.Outcome == app.RedirectToLogin && sessionToken(r) != "" {
				s.clearSessionCookie(w, r)
			}
			http.Redirect(w, r, d.Location, http.StatusFound)
		}
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, sess *domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(s.auth.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure || r.TLS != nil,
		// Lax so the cookie survives the redirect back from the SSO provider.
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
