package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"licensetrack/internal/domain"
)

var _ domain.LicenseRepository = (*DB)(nil)

const licenseColumns = `id, user_id, state, license_type, license_number, issue_date,
	expiration_date, ce_required, ce_completed, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*domain.License, error) {
	var l domain.License
	err := row.Scan(&l.ID, &l.UserID, &l.State, &l.LicenseType, &l.LicenseNumber, &l.IssueDate,
		&l.ExpirationDate, &l.CERequired, &l.CECompleted, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLicenses returns the user's licenses, oldest first.
func (d *DB) ListLicenses(ctx context.Context, userID int64) ([]domain.License, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+licenseColumns+" FROM licenses WHERE user_id = $1 ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.License, 0)
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetLicense returns one license owned by userID.
func (d *DB) GetLicense(ctx context.Context, userID, id int64) (*domain.License, error) {
	return scanLicense(d.sql.QueryRowContext(ctx,
		"SELECT "+licenseColumns+" FROM licenses WHERE id = $1 AND user_id = $2",
		id, userID,
	))
}

// InsertLicense stores l and returns the stored row.
func (d *DB) InsertLicense(ctx context.Context, l domain.License) (*domain.License, error) {
	created, err := scanLicense(d.sql.QueryRowContext(ctx,
		`INSERT INTO licenses (user_id, state, license_type, license_number, issue_date,
			expiration_date, ce_required, ce_completed, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+licenseColumns,
		l.UserID, l.State, l.LicenseType, l.LicenseNumber, l.IssueDate,
		l.ExpirationDate, l.CERequired, l.CECompleted, l.Notes,
	))
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	return created, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// updateLicense overwrites the editable fields of the license with l's ID
// and owner, returning the stored row.
func updateLicense(ctx context.Context, q rowQuerier, l domain.License) (*domain.License, error) {
	return scanLicense(q.QueryRowContext(ctx,
		`UPDATE licenses SET state = $3, license_type = $4, license_number = $5, issue_date = $6,
			expiration_date = $7, ce_required = $8, ce_completed = $9, notes = $10, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+licenseColumns,
		l.ID, l.UserID, l.State, l.LicenseType, l.LicenseNumber, l.IssueDate,
		l.ExpirationDate, l.CERequired, l.CECompleted, l.Notes,
	))
}

// ModifyLicense locks the row with SELECT ... FOR UPDATE, applies fn and
// writes the result in the same transaction.
func (d *DB) ModifyLicense(ctx context.Context, userID, id int64, fn func(domain.License) (domain.License, error)) (*domain.License, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanLicense(tx.QueryRowContext(ctx,
		"SELECT "+licenseColumns+" FROM licenses WHERE id = $1 AND user_id = $2 FOR UPDATE",
		id, userID,
	))
	if err != nil {
		return nil, err
	}
	next, err := fn(*current)
	if err != nil {
		return nil, err
	}
	next.ID, next.UserID = current.ID, current.UserID
	updated, err := updateLicense(ctx, tx, next)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// DeleteLicense removes a license.
func (d *DB) DeleteLicense(ctx context.Context, userID, id int64) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM licenses WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
