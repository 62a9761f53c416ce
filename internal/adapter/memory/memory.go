// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"licensetrack/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	licenses []domain.License
	courses  []domain.CourseCompletion
	users    []*domain.User
	sessions map[string]domain.Session

	licenseIDCounter int64
	courseIDCounter  int64
	userIDCounter    int64

	now func() time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]domain.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ensure interfaces are met.
var _ domain.LicenseRepository = (*DB)(nil)
var _ domain.CourseRepository = (*DB)(nil)
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// --- LicenseRepository ---

// ListLicenses returns the user's licenses in insertion order.
func (db *DB) ListLicenses(ctx context.Context, userID int64) ([]domain.License, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.License, 0)
	for _, l := range db.licenses {
		if l.UserID == userID {
			result = append(result, l)
		}
	}
	return result, nil
}

// GetLicense returns one license owned by userID.
func (db *DB) GetLicense(ctx context.Context, userID, id int64) (*domain.License, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.licenseIndex(userID, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	l := db.licenses[i]
	return &l, nil
}

// InsertLicense stores l and returns it with its new ID.
func (db *DB) InsertLicense(ctx context.Context, l domain.License) (*domain.License, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.licenseIDCounter++
	now := db.now()
	l.ID = db.licenseIDCounter
	l.CreatedAt = now
	l.UpdatedAt = now
	db.licenses = append(db.licenses, l)
	return &l, nil
}

// ModifyLicense applies fn to the stored license while holding the lock.
func (db *DB) ModifyLicense(ctx context.Context, userID, id int64, fn func(domain.License) (domain.License, error)) (*domain.License, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.licenseIndex(userID, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	current := db.licenses[i]
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next.ID, next.UserID = current.ID, current.UserID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = db.now()
	db.licenses[i] = next
	return &next, nil
}

// DeleteLicense removes a license.
func (db *DB) DeleteLicense(ctx context.Context, userID, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.licenseIndex(userID, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	db.licenses = append(db.licenses[:i], db.licenses[i+1:]...)
	return nil
}

func (db *DB) licenseIndex(userID, id int64) int {
	for i, l := range db.licenses {
		if l.ID == id && l.UserID == userID {
			return i
		}
	}
	return -1
}

// --- CourseRepository ---

// ListCourses returns the user's course completions, newest completion first.
func (db *DB) ListCourses(ctx context.Context, userID int64) ([]domain.CourseCompletion, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.CourseCompletion, 0)
	for _, c := range db.courses {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sortCourses(result)
	return result, nil
}

// GetCourse returns one course completion owned by userID.
func (db *DB) GetCourse(ctx context.Context, userID, id int64) (*domain.CourseCompletion, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.courseIndex(userID, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	c := db.courses[i]
	return &c, nil
}

// InsertCourse stores c and returns it with its new ID.
func (db *DB) InsertCourse(ctx context.Context, c domain.CourseCompletion) (*domain.CourseCompletion, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.courseIDCounter++
	now := db.now()
	c.ID = db.courseIDCounter
	c.CreatedAt = now
	c.UpdatedAt = now
	db.courses = append(db.courses, c)
	return &c, nil
}

// UpdateCourse replaces the stored course completion with the same ID and owner.
func (db *DB) UpdateCourse(ctx context.Context, c domain.CourseCompletion) (*domain.CourseCompletion, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.courseIndex(c.UserID, c.ID)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	c.CreatedAt = db.courses[i].CreatedAt
	c.UpdatedAt = db.now()
	db.courses[i] = c
	return &c, nil
}

// DeleteCourse removes a course completion.
func (db *DB) DeleteCourse(ctx context.Context, userID, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.courseIndex(userID, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	db.courses = append(db.courses[:i], db.courses[i+1:]...)
	return nil
}

func sortCourses(cs []domain.CourseCompletion) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CompletionDate.Equal(cs[j].CompletionDate) {
			return cs[i].CompletionDate.After(cs[j].CompletionDate)
		}
		return cs[i].ID > cs[j].ID
	})
}

func (db *DB) courseIndex(userID, id int64) int {
	for i, c := range db.courses {
		if c.ID == id && c.UserID == userID {
			return i
		}
	}
	return -1
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return u, nil
		}
	}
	// Return nil if not found
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, errors.New("user already exists")
		}
	}

	db.userIDCounter++
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    db.now(),
	}
	db.users = append(db.users, u)
	return u, nil
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create stores a session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[s.Token] = *s
	return nil
}

// GetByToken retrieves a session by token. Expired sessions are returned
// as stored; the caller decides what expiry means.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s, ok := r.db.sessions[token]; ok {
		return &s, nil
	}
	return nil, nil
}

// Extend moves a session's expiration.
func (r *SessionRepo) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok {
		return domain.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	r.db.sessions[token] = s
	return nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for k, v := range r.db.sessions {
		if !now.Before(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}
