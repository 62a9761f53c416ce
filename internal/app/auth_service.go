// Package app holds the application services and business logic.
package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licensetrack/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates that the provided username or password was incorrect.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrUserNotFound indicates that the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsersExist is returned by CreateInitialUser once any user exists.
	ErrUsersExist = errors.New("users already exist")
)

// DefaultSessionTTL is the lifetime of a new or refreshed session.
const DefaultSessionTTL = 24 * time.Hour

// Identity is the identity collaborator consumed by the session guard and
// the HTTP layer.
type Identity interface {
	GetSession(ctx context.Context, token string) (*domain.Session, error)
	SignIn(ctx context.Context, email, password, userAgent, ip string) (*domain.Session, error)
	SignOut(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*domain.Session, error)
	OnSessionChange(fn func(SessionChange)) (unsubscribe func())
}

// AuthService handles authentication and session management.
type AuthService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	events   *sessionEvents
	ttl      time.Duration
	now      func() time.Time
}

var _ Identity = (*AuthService)(nil)

// NewAuthService creates a new authentication service.
func NewAuthService(users domain.UserRepository, sessions domain.SessionRepository) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		events:   newSessionEvents(),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
}

// WithSessionTTL sets the lifetime of new and refreshed sessions.
func (s *AuthService) WithSessionTTL(ttl time.Duration) *AuthService {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock replaces the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// SessionTTL returns the configured session lifetime.
func (s *AuthService) SessionTTL() time.Duration { return s.ttl }

// NormalizeEmail trims and lower-cases a sign-in identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignIn exchanges credentials for a new session.
func (s *AuthService) SignIn(ctx context.Context, email, password, userAgent, ip string) (*domain.Session, error) {
	user, err := s.users.GetByUsername(ctx, NormalizeEmail(email))
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		// SSO-provisioned accounts have no password.
		return nil, ErrInvalidCredentials
	}
	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(ctx, user, userAgent, ip)
}

// LoginWithUser creates a session for an already authenticated user (e.g. via SSO).
func (s *AuthService) LoginWithUser(ctx context.Context, username, userAgent, ip string) (*domain.Session, error) {
	user, err := s.ForwardUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user, userAgent, ip)
}

// ForwardUser returns the user named by a trusted upstream (SSO or an
// authenticating proxy), provisioning it on first sight. Email addresses are
// normalized; other identifiers, such as an OIDC subject, are case-sensitive
// and kept as given.
func (s *AuthService) ForwardUser(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if strings.Contains(username, "@") {
		username = NormalizeEmail(username)
	}
	if username == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err == nil && user != nil {
		return user, nil
	}
	// Auto-provision if missing. Provisioned users get an empty password hash.
	user, err = s.users.Create(ctx, username, "")
	if err != nil {
		// Lost a race on the unique constraint; read the winner.
		user, err = s.users.GetByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
	}
	return user, nil
}

// ForwardSession builds an unstored session for a user vouched for by an
// authenticating proxy. It lives for one request.
func (s *AuthService) ForwardSession(user *domain.User) *domain.Session {
	now := s.now()
	return &domain.Session{
		UserID:    user.ID,
		Subject:   user.Username,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User, userAgent, ip string) (*domain.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &domain.Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    user.ID,
		Subject:   user.Username,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.events.publish(changeFor(SessionSignedIn, sess, now))
	return sess, nil
}

// GetSession returns the stored session for token, or (nil, nil) when there
// is none. An expired session is still returned so callers can tell expiry
// from absence; an Expired change is published when one is seen.
func (s *AuthService) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess != nil && !sess.Valid(s.now()) {
		s.events.publish(changeFor(SessionExpired, sess, s.now()))
	}
	return sess, nil
}

// SignOut invalidates a session. Signing out an unknown token is not an error.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		slog.Warn("sign out: lookup failed", slog.String("error", err.Error()))
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if sess == nil {
		sess = &domain.Session{Token: token}
	}
	s.events.publish(changeFor(SessionSignedOut, sess, s.now()))
	return nil
}

// Refresh extends a live session by the configured TTL.
func (s *AuthService) Refresh(ctx context.Context, token string) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if !sess.Valid(now) {
		return nil, ErrSessionExpired
	}
	expiresAt := now.Add(s.ttl)
	if err := s.sessions.Extend(ctx, token, expiresAt); err != nil {
		return nil, fmt.Errorf("extend session: %w", err)
	}
	refreshed := *sess
	refreshed.ExpiresAt = expiresAt
	s.events.publish(changeFor(SessionRefreshed, &refreshed, now))
	return &refreshed, nil
}

// OnSessionChange registers fn for every session change. fn runs on the
// publisher's goroutine and must not block or call back into the service.
func (s *AuthService) OnSessionChange(fn func(SessionChange)) func() {
	return s.events.subscribe(fn)
}

// PurgeExpired removes sessions past their expiration.
func (s *AuthService) PurgeExpired(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

// CreateInitialUser creates the first user if no users exist.
func (s *AuthService) CreateInitialUser(ctx context.Context, username, password string) error {
	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrUsersExist
	}
	return s.CreateUser(ctx, username, password)
}

// CreateUser adds a password user.
func (s *AuthService) CreateUser(ctx context.Context, username, password string) error {
	username = NormalizeEmail(username)
	if username == "" || len(password) < 8 {
		return &domain.ValidationError{Field: "password", Msg: "username required and password must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.users.Create(ctx, username, string(hash))
	return err
}

func changeFor(kind ChangeKind, sess *domain.Session, at time.Time) SessionChange {
	return SessionChange{
		Kind:      kind,
		SessionID: sess.ID,
		Token:     sess.Token,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
		At:        at,
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
