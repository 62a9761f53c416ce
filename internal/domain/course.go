package domain

import (
	"context"
	"math"
	"strings"
	"time"
)

// CourseCompletion is one completed continuing-education course.
type CourseCompletion struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	CourseName     string    `json:"courseName"`
	Provider       string    `json:"provider"`
	CompletionDate Date      `json:"completionDate"`
	Credits        float64   `json:"credits"`
	Notes          string    `json:"notes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the fields a user supplies on add and edit.
func (c CourseCompletion) Validate() error {
	switch {
	case strings.TrimSpace(c.CourseName) == "":
		return invalid("courseName", "is required")
	case c.CompletionDate.IsZero():
		return invalid("completionDate", "is required")
	case c.Credits < 0 || math.IsNaN(c.Credits) || math.IsInf(c.Credits, 0):
		return invalid("credits", "must be >= 0")
	}
	return nil
}

// TotalCreditsCompleted sums the credits of courses.
func TotalCreditsCompleted(courses []CourseCompletion) float64 {
	var total float64
	for _, c := range courses {
		total += c.Credits
	}
	return total
}

// FilterCoursesBySearch keeps the courses whose name or provider contains
// query, ignoring case. Input order is preserved.
func FilterCoursesBySearch(courses []CourseCompletion, query string) []CourseCompletion {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]CourseCompletion, 0, len(courses))
	for _, c := range courses {
		if q == "" ||
			strings.Contains(strings.ToLower(c.CourseName), q) ||
			strings.Contains(strings.ToLower(c.Provider), q) {
			out = append(out, c)
		}
	}
	return out
}

// CoursePatch carries the fields of a partial update.
type CoursePatch struct {
	CourseName     *string  `json:"courseName"`
	Provider       *string  `json:"provider"`
	CompletionDate *Date    `json:"completionDate"`
	Credits        *float64 `json:"credits"`
	Notes          *string  `json:"notes"`
}

// Apply returns c with the patch's non-nil fields set.
func (p CoursePatch) Apply(c CourseCompletion) CourseCompletion {
	if p.CourseName != nil {
		c.CourseName = *p.CourseName
	}
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
	if p.CompletionDate != nil {
		c.CompletionDate = *p.CompletionDate
	}
	if p.Credits != nil {
		c.Credits = *p.Credits
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	return c
}

// CourseRepository is the port for course completion persistence, scoped to
// the owning user.
type CourseRepository interface {
	ListCourses(ctx context.Context, userID int64) ([]CourseCompletion, error)
	GetCourse(ctx context.Context, userID, id int64) (*CourseCompletion, error)
	InsertCourse(ctx context.Context, c CourseCompletion) (*CourseCompletion, error)
	UpdateCourse(ctx context.Context, c CourseCompletion) (*CourseCompletion, error)
	DeleteCourse(ctx context.Context, userID, id int64) error
}
