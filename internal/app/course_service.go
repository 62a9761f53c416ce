package app

import (
	"context"
	"fmt"
	"strings"

	"licensetrack/internal/domain"

	"github.com/microcosm-cc/bluemonday"
)

// CourseService encapsulates continuing-education course use cases.
type CourseService struct {
	repo   domain.CourseRepository
	policy *bluemonday.Policy
}

// NewCourseService creates a CourseService backed by the given repository.
func NewCourseService(repo domain.CourseRepository) *CourseService {
	return &CourseService{repo: repo, policy: bluemonday.StrictPolicy()}
}

// List returns the user's course completions whose name or provider
// matches query. An empty query returns all of them.
func (s *CourseService) List(ctx context.Context, userID int64, query string) ([]domain.CourseCompletion, error) {
	cs, err := s.repo.ListCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return domain.FilterCoursesBySearch(cs, query), nil
}

// Add validates and stores a course completion.
func (s *CourseService) Add(ctx context.Context, userID int64, c domain.CourseCompletion) (*domain.CourseCompletion, error) {
	c.ID = 0
	c.UserID = userID
	c.Notes = plainText(s.policy, c.Notes)
	c = s.clean(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	created, err := s.repo.InsertCourse(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	return created, nil
}

// Update applies a partial edit to a course completion.
func (s *CourseService) Update(ctx context.Context, userID, id int64, patch domain.CoursePatch) (*domain.CourseCompletion, error) {
	if patch.Notes != nil {
		notes := plainText(s.policy, *patch.Notes)
		patch.Notes = &notes
	}
	current, err := s.repo.GetCourse(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	next := s.clean(patch.Apply(*current))
	if err := next.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateCourse(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	return updated, nil
}

// Delete removes a course completion.
func (s *CourseService) Delete(ctx context.Context, userID, id int64) error {
	return s.repo.DeleteCourse(ctx, userID, id)
}

func (s *CourseService) clean(c domain.CourseCompletion) domain.CourseCompletion {
	c.CourseName = strings.TrimSpace(c.CourseName)
	c.Provider = strings.TrimSpace(c.Provider)
	return c
}
