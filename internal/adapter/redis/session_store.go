// Package redis implements the session repository on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licensetrack/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "licensetrack:session:"

// ExpiredRetention keeps an expired session readable for a while so callers
// can tell expiry from absence before Redis evicts it.
const ExpiredRetention = time.Hour

// Connect initializes a client from a redis:// URL or a host:port address.
func Connect(redisURL string) (*goredis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := goredis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return goredis.NewClient(opt), nil
	}
	return goredis.NewClient(&goredis.Options{Addr: redisURL}), nil
}

// SessionStore stores sessions as JSON under their token.
type SessionStore struct {
	client *goredis.Client
	now    func() time.Time
}

var _ domain.SessionRepository = (*SessionStore)(nil)

// NewSessionStore wraps a client.
func NewSessionStore(client *goredis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

type record struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Subject   string    `json:"subject"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *SessionStore) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now()) + ExpiredRetention
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func (s *SessionStore) put(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(record{
		ID:        sess.ID.String(),
		Token:     sess.Token,
		UserID:    sess.UserID,
		Subject:   sess.Subject,
		UserAgent: sess.UserAgent,
		IP:        sess.IP,
		ExpiresAt: sess.ExpiresAt,
		CreatedAt: sess.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+sess.Token, data, s.ttl(sess.ExpiresAt)).Err()
}

// Create stores a session.
func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if err := s.put(ctx, sess); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetByToken returns the session for token, or nil when absent.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess := &domain.Session{
		Token:     r.Token,
		UserID:    r.UserID,
		Subject:   r.Subject,
		UserAgent: r.UserAgent,
		IP:        r.IP,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
	if err := sess.ID.UnmarshalText([]byte(r.ID)); err != nil {
		return nil, fmt.Errorf("decode session id: %w", err)
	}
	return sess, nil
}

// Extend rewrites the session with a new expiration and TTL.
func (s *SessionStore) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	sess, err := s.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if sess == nil {
		return domain.ErrNotFound
	}
	sess.ExpiresAt = expiresAt
	return s.put(ctx, sess)
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, keyPrefix+token).Err()
}

// DeleteExpired removes sessions past their expiration that Redis has not
// evicted yet.
func (s *SessionStore) DeleteExpired(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	now := s.now()
	for iter.Next(ctx) {
		token := strings.TrimPrefix(iter.Val(), keyPrefix)
		sess, err := s.GetByToken(ctx, token)
		if err != nil {
			// Tokens are credentials and stay out of the log.
			slog.Warn("purge expired sessions: lookup failed", slog.String("error", err.Error()))
			continue
		}
		if sess == nil {
			continue
		}
		if !now.Before(sess.ExpiresAt) {
			if err := s.Delete(ctx, token); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}
