package app

import (
	"context"
	"fmt"
	"time"

	"licensetrack/internal/domain"
)

// maxCalendarSpan bounds a calendar request.
const maxCalendarSpan = 2 * 366 * 24 * time.Hour

// DashboardService computes the summary tiles and calendar from freshly
// fetched records.
type DashboardService struct {
	licenses *LicenseService
	courses  domain.CourseRepository
	now      func() time.Time
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(ls *LicenseService, cr domain.CourseRepository) *DashboardService {
	return &DashboardService{licenses: ls, courses: cr, now: time.Now}
}

// WithClock replaces the time source.
func (s *DashboardService) WithClock(now func() time.Time) *DashboardService {
	s.now = now
	return s
}

// Summary is the dashboard overview.
type Summary struct {
	Today            domain.Date   `json:"today"`
	LicenseCount     int           `json:"licenseCount"`
	ActiveCount      int           `json:"activeCount"`
	ExpiredCount     int           `json:"expiredCount"`
	Jurisdictions    int           `json:"jurisdictions"`
	CreditsCompleted float64       `json:"creditsCompleted"`
	CourseCount      int           `json:"courseCount"`
	DeadlineWindow   int           `json:"deadlineWindow"`
	Upcoming         []LicenseView `json:"upcoming"`
}

// Summary loads the user's licenses and courses and derives the overview.
func (s *DashboardService) Summary(ctx context.Context, userID int64) (*Summary, error) {
	ls, err := s.licenses.repo.ListLicenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	cs, err := s.courses.ListCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	now := s.now()
	sum := &Summary{
		Today:            domain.DateOf(now),
		LicenseCount:     len(ls),
		Jurisdictions:    domain.CountJurisdictions(ls),
		CreditsCompleted: domain.TotalCreditsCompleted(cs),
		CourseCount:      len(cs),
		DeadlineWindow:   s.licenses.window,
		Upcoming:         make([]LicenseView, 0),
	}
	for _, l := range ls {
		if l.IsExpired(now) {
			sum.ExpiredCount++
		} else {
			sum.ActiveCount++
		}
	}
	for _, l := range domain.UpcomingDeadlines(ls, now, s.licenses.window) {
		sum.Upcoming = append(sum.Upcoming, s.licenses.View(l, now))
	}
	return sum, nil
}

// Calendar returns renewal events in [from, to]. Zero bounds default to the
// current UTC month.
func (s *DashboardService) Calendar(ctx context.Context, userID int64, from, to domain.Date) ([]domain.CalendarEvent, error) {
	if from.IsZero() || to.IsZero() {
		y, m, _ := s.now().UTC().Date()
		first := domain.NewDate(y, m, 1)
		if from.IsZero() {
			from = first
		}
		if to.IsZero() {
			to = domain.DateOf(first.Time().AddDate(0, 1, -1))
		}
	}
	if to.Before(from) {
		return nil, &domain.ValidationError{Field: "to", Msg: "must not be before from"}
	}
	if to.Time().Sub(from.Time()) > maxCalendarSpan {
		return nil, &domain.ValidationError{Field: "to", Msg: "range too large"}
	}
	ls, err := s.licenses.repo.ListLicenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return domain.CalendarEvents(ls, from, to), nil
}
