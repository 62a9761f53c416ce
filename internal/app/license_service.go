package app

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"licensetrack/internal/domain"

	"github.com/microcosm-cc/bluemonday"
)

// LicenseView is a license with the values derived for display.
type LicenseView struct {
	domain.License
	Status           string  `json:"status"`
	DaysUntil        int     `json:"daysUntil"`
	CEProgress       float64 `json:"ceProgress"`
	UpcomingDeadline bool    `json:"upcomingDeadline"`
}

// RenewalObserver is told about every confirmed renewal.
type RenewalObserver interface {
	ObserveRenewal()
}

// LicenseService encapsulates license use cases.
type LicenseService struct {
	repo     domain.LicenseRepository
	policy   *bluemonday.Policy
	window   int
	now      func() time.Time
	observer RenewalObserver
}

// NewLicenseService creates a LicenseService backed by the given repository.
func NewLicenseService(repo domain.LicenseRepository) *LicenseService {
	return &LicenseService{
		repo:   repo,
		policy: bluemonday.StrictPolicy(),
		window: domain.DefaultDeadlineWindow,
		now:    time.Now,
	}
}

// WithDeadlineWindow sets the upcoming-deadline look-ahead in days.
func (s *LicenseService) WithDeadlineWindow(days int) *LicenseService {
	if days > 0 {
		s.window = days
	}
	return s
}

// DeadlineWindow returns the upcoming-deadline look-ahead in days.
func (s *LicenseService) DeadlineWindow() int { return s.window }

// WithClock replaces the time source.
func (s *LicenseService) WithClock(now func() time.Time) *LicenseService {
	s.now = now
	return s
}

// WithObserver attaches a renewal observer.
func (s *LicenseService) WithObserver(o RenewalObserver) *LicenseService {
	s.observer = o
	return s
}

// View derives the display values of l as of asOf.
func (s *LicenseService) View(l domain.License, asOf time.Time) LicenseView {
	return LicenseView{
		License:          l,
		Status:           l.Status(asOf),
		DaysUntil:        l.DaysUntil(asOf),
		CEProgress:       l.CEProgressPercent(),
		UpcomingDeadline: l.IsUpcomingDeadline(asOf, s.window),
	}
}

func (s *LicenseService) views(ls []domain.License) []LicenseView {
	now := s.now()
	out := make([]LicenseView, 0, len(ls))
	for _, l := range ls {
		out = append(out, s.View(l, now))
	}
	return out
}

// List returns the user's licenses matching query and status, in store
// order. Status is "active", "expired", "pending" (renewal due within the
// deadline window) or empty for all.
func (s *LicenseService) List(ctx context.Context, userID int64, query, status string) ([]LicenseView, error) {
	status = strings.ToLower(status)
	switch status {
	case "", "all":
		status = ""
	case "active", "expired", "pending":
	default:
		return nil, &domain.ValidationError{Field: "status", Msg: "must be active, expired, pending or all"}
	}
	ls, err := s.repo.ListLicenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	now := s.now()
	ls = domain.FilterBySearch(ls, query)
	if status == "pending" {
		ls = domain.FilterPendingRenewal(ls, now, s.window)
	} else {
		ls = domain.FilterByStatus(ls, status, now)
	}
	return s.views(ls), nil
}

// Get returns one license.
func (s *LicenseService) Get(ctx context.Context, userID, id int64) (*LicenseView, error) {
	l, err := s.repo.GetLicense(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	v := s.View(*l, s.now())
	return &v, nil
}

// Add validates and stores a new license for userID.
func (s *LicenseService) Add(ctx context.Context, userID int64, l domain.License) (*LicenseView, error) {
	l.ID = 0
	l.UserID = userID
	l.Notes = plainText(s.policy, l.Notes)
	l = s.clean(l)
	if err := l.Validate(); err != nil {
		return nil, err
	}
	created, err := s.repo.InsertLicense(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	v := s.View(*created, s.now())
	return &v, nil
}

// Update applies a partial edit to the stored row. Notes are cleaned only
// when the patch sets them.
func (s *LicenseService) Update(ctx context.Context, userID, id int64, patch domain.LicensePatch) (*LicenseView, error) {
	if patch.Notes != nil {
		notes := plainText(s.policy, *patch.Notes)
		patch.Notes = &notes
	}
	updated, err := s.repo.ModifyLicense(ctx, userID, id, func(current domain.License) (domain.License, error) {
		next := s.clean(patch.Apply(current))
		return next, next.Validate()
	})
	if err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	v := s.View(*updated, s.now())
	return &v, nil
}

// Delete removes a license.
func (s *LicenseService) Delete(ctx context.Context, userID, id int64) error {
	return s.repo.DeleteLicense(ctx, userID, id)
}

// Renew extends the license by one renewal term from its stored expiration
// and resets CE progress. Each call is one renewal, and concurrent calls each
// apply.
func (s *LicenseService) Renew(ctx context.Context, userID, id int64) (*LicenseView, error) {
	now := s.now()
	updated, err := s.repo.ModifyLicense(ctx, userID, id, func(current domain.License) (domain.License, error) {
		return current.Renew(now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("renew license: %w", err)
	}
	if s.observer != nil {
		s.observer.ObserveRenewal()
	}
	v := s.View(*updated, now)
	return &v, nil
}

// Export serializes one license as a flat JSON document and names the file
// it should be saved as.
func (s *LicenseService) Export(ctx context.Context, userID, id int64) (string, []byte, error) {
	l, err := s.repo.GetLicense(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode license: %w", err)
	}
	return ExportFilename(*l), data, nil
}

// ExportFilename returns "<state>_<number>_license.json" with path
// separators and quotes replaced.
func ExportFilename(l domain.License) string {
	r := strings.NewReplacer("/", "-", "\\", "-", "\"", "", " ", "_")
	return r.Replace(l.State) + "_" + r.Replace(l.LicenseNumber) + "_license.json"
}

func (s *LicenseService) clean(l domain.License) domain.License {
	l.State = strings.TrimSpace(l.State)
	l.LicenseType = strings.TrimSpace(l.LicenseType)
	l.LicenseNumber = strings.TrimSpace(l.LicenseNumber)
	return l
}

// plainText strips markup from user-entered text. The result is stored and
// served as plain text, so the escaping Sanitize adds is undone.
func plainText(p *bluemonday.Policy, s string) string {
	return strings.TrimSpace(html.UnescapeString(p.Sanitize(s)))
}
