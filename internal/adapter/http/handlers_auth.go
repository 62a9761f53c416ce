package adapthttp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"licensetrack/internal/app"
	"licensetrack/internal/domain"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const stateCookie = "oauth_state"

// SSO holds the OIDC client used for single sign-on.
type SSO struct {
	OAuth2   *oauth2.Config
	Verifier *oidc.IDTokenVerifier
}

// NewSSO discovers the issuer and builds the OAuth2 client.
func NewSSO(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*SSO, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &SSO{
		OAuth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		Verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

type sessionResponse struct {
	Subject   string    `json:"subject"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newSessionResponse(sess *domain.Session) sessionResponse {
	return sessionResponse{Subject: sess.Subject, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.auth.SignIn(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if s.metrics != nil {
		s.metrics.ObserveLogin(err == nil)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.auth.SignOut(r.Context(), token); err != nil {
			slog.Warn("logout failed", slog.String("error", err.Error()))
		}
	}
	s.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "redirect": app.LoginPath})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := s.auth.Refresh(r.Context(), sessionToken(r))
	if err != nil {
		if errors.Is(err, app.ErrSessionExpired) || errors.Is(err, app.ErrSessionNotFound) {
			s.clearSessionCookie(w, r)
		}
		writeServiceError(w, r, err)
		return
	}
	s.setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) handleSetupUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.auth.CreateInitialUser(r.Context(), req.Email, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sso_enabled":    s.sso != nil,
		"forward_auth":   s.forwardAuth,
		"deadline_days":  s.licenses.DeadlineWindow(),
		"session_ttl_ms": s.auth.SessionTTL().Milliseconds(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(sessionFrom(r.Context())))
}

func (s *Server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "sso disabled"})
		return
	}
	state, err := generateState()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
	http.Redirect(w, r, s.sso.OAuth2.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "sso disabled"})
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || !app.ConstantTimeCompare(r.URL.Query().Get("state"), state.Value) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid state"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	token, err := s.sso.OAuth2.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		slog.Warn("sso: code exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to exchange token"})
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "no id_token"})
		return
	}

	idToken, err := s.sso.Verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		slog.Warn("sso: id token rejected", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "failed to verify token", "redirect": app.LoginPath})
		return
	}

	var claims ssoClaims
	if err = idToken.Claims(&claims); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to parse claims"})
		return
	}
	username := claims.username()

	sess, err := s.auth.LoginWithUser(r.Context(), username, r.UserAgent(), clientIP(r))
	if s.metrics != nil {
		s.metrics.ObserveLogin(err == nil)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.setSessionCookie(w, r, sess)
	http.Redirect(w, r, app.DashboardPath, http.StatusFound)
}

// ssoClaims are the ID token claims used to name the local user.
type ssoClaims struct {
	Email         string       `json:"email"`
	EmailVerified verifiedFlag `json:"email_verified"`
	Sub           string       `json:"sub"`
}

// username is the verified email when the provider vouches for it, otherwise
// the subject as issued.
func (c ssoClaims) username() string {
	if c.Email != "" && bool(c.EmailVerified) {
		return app.NormalizeEmail(c.Email)
	}
	return c.Sub
}

// verifiedFlag accepts email_verified as a JSON bool or as the string some
// providers send.
type verifiedFlag bool

func (v *verifiedFlag) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case bool:
		*v = verifiedFlag(x)
	case string:
		*v = verifiedFlag(strings.EqualFold(x, "true"))
	default:
		*v = false
	}
	return nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
