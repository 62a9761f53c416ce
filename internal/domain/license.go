package domain

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// License status values. Status is derived from the expiration date at
// display time and never stored.
const (
	StatusActive  = "Active"
	StatusExpired = "Expired"
)

// DefaultDeadlineWindow is the look-ahead, in days, of the upcoming
// deadlines view.
const DefaultDeadlineWindow = 90

// RenewalTerm is the number of years a renewal adds to the expiration date.
const RenewalTerm = 2

const day = 24 * time.Hour

// License is one professional credential held by a user in one jurisdiction.
type License struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	State          string    `json:"state"`
	LicenseType    string    `json:"licenseType"`
	LicenseNumber  string    `json:"licenseNumber"`
	IssueDate      Date      `json:"issueDate"`
	ExpirationDate Date      `json:"expirationDate"`
	CERequired     float64   `json:"ceRequired"`
	CECompleted    float64   `json:"ceCompleted"`
	Notes          string    `json:"notes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the fields a user supplies on add and edit.
func (l License) Validate() error {
	switch {
	case strings.TrimSpace(l.State) == "":
		return invalid("state", "is required")
	case strings.TrimSpace(l.LicenseType) == "":
		return invalid("licenseType", "is required")
	case strings.TrimSpace(l.LicenseNumber) == "":
		return invalid("licenseNumber", "is required")
	case l.ExpirationDate.IsZero():
		return invalid("expirationDate", "is required")
	case !l.IssueDate.IsZero() && !l.ExpirationDate.After(l.IssueDate):
		return invalid("expirationDate", "must be after issueDate")
	case l.CERequired < 0 || math.IsNaN(l.CERequired):
		return invalid("ceRequired", "must be >= 0")
	case l.CECompleted < 0 || math.IsNaN(l.CECompleted):
		return invalid("ceCompleted", "must be >= 0")
	}
	return nil
}

// IsExpired reports asOf >= expiration. There is no grace period.
func (l License) IsExpired(asOf time.Time) bool {
	return !asOf.Before(l.ExpirationDate.Time())
}

// DaysUntil returns the whole days from asOf to the expiration date, rounded
// down. It is negative once the license has expired.
func (l License) DaysUntil(asOf time.Time) int {
	d := l.ExpirationDate.Time().Sub(asOf)
	n := d / day
	if d%day != 0 && d < 0 {
		n--
	}
	return int(n)
}

// IsUpcomingDeadline reports whether the license expires within windowDays
// of asOf. An expired license is never upcoming.
func (l License) IsUpcomingDeadline(asOf time.Time, windowDays int) bool {
	if l.IsExpired(asOf) {
		return false
	}
	n := l.DaysUntil(asOf)
	return n >= 0 && n <= windowDays
}

// Status returns StatusActive or StatusExpired as of asOf.
func (l License) Status(asOf time.Time) string {
	if l.IsExpired(asOf) {
		return StatusExpired
	}
	return StatusActive
}

// CEProgressPercent returns completed/required*100 clamped to [0, 100]. A
// license with no requirement is fully satisfied.
func (l License) CEProgressPercent() float64 {
	if l.CERequired <= 0 {
		return 100
	}
	p := l.CECompleted / l.CERequired * 100
	return math.Max(0, math.Min(100, p))
}

// Renew returns a copy of l with the expiration pushed RenewalTerm years past
// the current expiration, CE progress reset and a renewal note appended.
// Calling it twice renews twice.
func (l License) Renew(asOf time.Time) License {
	out := l
	out.ExpirationDate = l.ExpirationDate.AddYears(RenewalTerm)
	out.CECompleted = 0
	note := "Renewed on " + DateOf(asOf).String() + "."
	if strings.TrimSpace(l.Notes) == "" {
		out.Notes = note
	} else {
		out.Notes = strings.TrimRight(l.Notes, " \n") + " " + note
	}
	return out
}

// FilterBySearch keeps the licenses whose state, number or type contains
// query, ignoring case. Input order is preserved.
func FilterBySearch(licenses []License, query string) []License {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]License, 0, len(licenses))
	for _, l := range licenses {
		if q == "" ||
			strings.Contains(strings.ToLower(l.State), q) ||
			strings.Contains(strings.ToLower(l.LicenseNumber), q) ||
			strings.Contains(strings.ToLower(l.LicenseType), q) {
			out = append(out, l)
		}
	}
	return out
}

// FilterByStatus keeps the licenses whose derived status equals status.
// An empty status keeps everything.
func FilterByStatus(licenses []License, status string, asOf time.Time) []License {
	out := make([]License, 0, len(licenses))
	for _, l := range licenses {
		if status == "" || strings.EqualFold(l.Status(asOf), status) {
			out = append(out, l)
		}
	}
	return out
}

// CountJurisdictions returns the number of distinct states.
func CountJurisdictions(licenses []License) int {
	seen := make(map[string]struct{}, len(licenses))
	for _, l := range licenses {
		seen[l.State] = struct{}{}
	}
	return len(seen)
}

// FilterPendingRenewal keeps the licenses with an upcoming deadline, in input
// order.
func FilterPendingRenewal(licenses []License, asOf time.Time, windowDays int) []License {
	out := make([]License, 0)
	for _, l := range licenses {
		if l.IsUpcomingDeadline(asOf, windowDays) {
			out = append(out, l)
		}
	}
	return out
}

// UpcomingDeadlines returns the licenses expiring within windowDays of asOf,
// soonest first.
func UpcomingDeadlines(licenses []License, asOf time.Time, windowDays int) []License {
	out := FilterPendingRenewal(licenses, asOf, windowDays)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpirationDate.Before(out[j].ExpirationDate)
	})
	return out
}

// LicensePatch carries the fields of a partial update. Nil fields are left
// unchanged.
type LicensePatch struct {
	State          *string  `json:"state"`
	LicenseType    *string  `json:"licenseType"`
	LicenseNumber  *string  `json:"licenseNumber"`
	IssueDate      *Date    `json:"issueDate"`
	ExpirationDate *Date    `json:"expirationDate"`
	CERequired     *float64 `json:"ceRequired"`
	CECompleted    *float64 `json:"ceCompleted"`
	Notes          *string  `json:"notes"`
}

// Apply returns l with the patch's non-nil fields set.
func (p LicensePatch) Apply(l License) License {
	if p.State != nil {
		l.State = *p.State
	}
	if p.LicenseType != nil {
		l.LicenseType = *p.LicenseType
	}
	if p.LicenseNumber != nil {
		l.LicenseNumber = *p.LicenseNumber
	}
	if p.IssueDate != nil {
		l.IssueDate = *p.IssueDate
	}
	if p.ExpirationDate != nil {
		l.ExpirationDate = *p.ExpirationDate
	}
	if p.CERequired != nil {
		l.CERequired = *p.CERequired
	}
	if p.CECompleted != nil {
		l.CECompleted = *p.CECompleted
	}
	if p.Notes != nil {
		l.Notes = *p.Notes
	}
	return l
}

// LicenseRepository is the port for license persistence. Every method is
// scoped to the owning user; a record owned by someone else is ErrNotFound.
type LicenseRepository interface {
	ListLicenses(ctx context.Context, userID int64) ([]License, error)
	GetLicense(ctx context.Context, userID, id int64) (*License, error)
	InsertLicense(ctx context.Context, l License) (*License, error)
	DeleteLicense(ctx context.Context, userID, id int64) error
	// ModifyLicense reads the license, passes it to fn and stores fn's result
	// as one step. Concurrent calls on the same license are serialized. An
	// error from fn aborts the write and is returned unchanged.
	ModifyLicense(ctx context.Context, userID, id int64, fn func(License) (License, error)) (*License, error)
}
