// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session represents an authenticated principal's login state.
type Session struct {
	ID        uuid.UUID
	Token     string
	UserID    int64
	Subject   string
	UserAgent string
	IP        string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Valid reports whether the session is present and now is strictly before
// its expiration instant.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// IsValidSession is the free-function form of Session.Valid.
func IsValidSession(s *Session, now time.Time) bool {
	return s.Valid(now)
}

// UserRepository defines the port for user persistence operations.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	Count(ctx context.Context) (int, error)
}

// SessionRepository defines the port for session persistence operations.
// GetByToken returns (nil, nil) when no session is stored under token.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	Extend(ctx context.Context, token string, expiresAt time.Time) error
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) error
}
