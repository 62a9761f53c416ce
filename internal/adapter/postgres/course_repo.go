package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"licensetrack/internal/domain"
)

var _ domain.CourseRepository = (*DB)(nil)

const courseColumns = `id, user_id, course_name, provider, completion_date, credits, notes,
	created_at, updated_at`

func scanCourse(row rowScanner) (*domain.CourseCompletion, error) {
	var c domain.CourseCompletion
	err := row.Scan(&c.ID, &c.UserID, &c.CourseName, &c.Provider, &c.CompletionDate, &c.Credits,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCourses returns the user's course completions, newest completion first.
func (d *DB) ListCourses(ctx context.Context, userID int64) ([]domain.CourseCompletion, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+courseColumns+" FROM course_completions WHERE user_id = $1 ORDER BY completion_date DESC, id DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.CourseCompletion, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCourse returns one course completion owned by userID.
func (d *DB) GetCourse(ctx context.Context, userID, id int64) (*domain.CourseCompletion, error) {
	return scanCourse(d.sql.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM course_completions WHERE id = $1 AND user_id = $2",
		id, userID,
	))
}

// InsertCourse stores c and returns the stored row.
func (d *DB) InsertCourse(ctx context.Context, c domain.CourseCompletion) (*domain.CourseCompletion, error) {
	created, err := scanCourse(d.sql.QueryRowContext(ctx,
		`INSERT INTO course_completions (user_id, course_name, provider, completion_date, credits, notes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+courseColumns,
		c.UserID, c.CourseName, c.Provider, c.CompletionDate, c.Credits, c.Notes,
	))
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	return created, nil
}

// UpdateCourse overwrites the editable fields of a course completion.
func (d *DB) UpdateCourse(ctx context.Context, c domain.CourseCompletion) (*domain.CourseCompletion, error) {
	return scanCourse(d.sql.QueryRowContext(ctx,
		`UPDATE course_completions SET course_name = $3, provider = $4, completion_date = $5,
			credits = $6, notes = $7, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+courseColumns,
		c.ID, c.UserID, c.CourseName, c.Provider, c.CompletionDate, c.Credits, c.Notes,
	))
}

// DeleteCourse removes a course completion.
func (d *DB) DeleteCourse(ctx context.Context, userID, id int64) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM course_completions WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
