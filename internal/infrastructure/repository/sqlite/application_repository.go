package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

const applicationColumns = `id, status, priority, source, source_email, patient_name, dob, phone, address,
	insurance, policy_number, diagnosis, medications, allergies, physician, facility, services,
	ai_summary, confidence_score, raw_text, raw_email_subject, source_ref, extraction, created_at, updated_at`

type ApplicationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewApplicationRepository(db *sql.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db, now: time.Now}
}

func (r *ApplicationRepository) CreateApplication(ctx context.Context, app *domain.Application) (string, error) {
	lists, err := marshalLists(app)
	if err != nil {
		return "", err
	}
	var extraction sql.NullString
	if len(app.Extraction) > 0 {
		raw, err := json.Marshal(app.Extraction)
		if err != nil {
			return "", fmt.Errorf("marshal extraction: %w", err)
		}
		extraction = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO applications (`+applicationColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		app.ID, string(app.Status), app.Priority, app.Source, app.SourceEmail, app.PatientName, app.DOB,
		app.Phone, app.Address, app.Insurance, app.PolicyNumber, lists[0], lists[1], lists[2],
		app.Physician, app.Facility, lists[3], app.AISummary, app.ConfidenceScore, app.RawText,
		app.RawEmailSubject, app.SourceRef, extraction, formatTime(app.CreatedAt), formatTime(app.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert application: %w", err)
	}
	return app.ID, nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*domain.Application, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrApplicationNotFound, "get application", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}
	return app, nil
}

func (r *ApplicationRepository) List(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}
	query := "SELECT " + applicationColumns + " FROM applications"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Application, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return out, nil
}

func (r *ApplicationRepository) Update(ctx context.Context, app *domain.Application) error {
	lists, err := marshalLists(app)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE applications
SET priority = ?, patient_name = ?, dob = ?, phone = ?, address = ?, insurance = ?, policy_number = ?,
	diagnosis = ?, medications = ?, allergies = ?, physician = ?, facility = ?, services = ?,
	ai_summary = ?, updated_at = ?
WHERE id = ?
`,
		app.Priority, app.PatientName, app.DOB, app.Phone, app.Address, app.Insurance, app.PolicyNumber,
		lists[0], lists[1], lists[2], app.Physician, app.Facility, lists[3], app.AISummary,
		formatTime(app.UpdatedAt), app.ID,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return requireAffected(res, "update application", app.ID)
}

func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id string, status domain.ApplicationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE applications SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return requireAffected(res, "update application status", id)
}

func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return requireAffected(res, "delete application", id)
}

func (r *ApplicationRepository) Stats(ctx context.Context) (domain.ApplicationStats, error) {
	var stats domain.ApplicationStats
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count applications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.Add(domain.ApplicationStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate status counts: %w", err)
	}

	since := formatTime(r.now().Add(-7 * 24 * time.Hour))
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE created_at >= ?`, since,
	).Scan(&stats.ThisWeek); err != nil {
		return stats, fmt.Errorf("count recent applications: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var (
		app                  domain.Application
		status               string
		lists                [4]string
		extraction           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&app.ID, &status, &app.Priority, &app.Source, &app.SourceEmail, &app.PatientName, &app.DOB,
		&app.Phone, &app.Address, &app.Insurance, &app.PolicyNumber, &lists[0], &lists[1], &lists[2],
		&app.Physician, &app.Facility, &lists[3], &app.AISummary, &app.ConfidenceScore, &app.RawText,
		&app.RawEmailSubject, &app.SourceRef, &extraction, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = domain.ApplicationStatus(status)

	targets := []*[]string{&app.Diagnosis, &app.Medications, &app.Allergies, &app.Services}
	for i, target := range targets {
		*target = []string{}
		if lists[i] == "" {
			continue
		}
		if err := json.Unmarshal([]byte(lists[i]), target); err != nil {
			return nil, fmt.Errorf("unmarshal list column: %w", err)
		}
	}
	if extraction.Valid && extraction.String != "" {
		if err := json.Unmarshal([]byte(extraction.String), &app.Extraction); err != nil {
			return nil, fmt.Errorf("unmarshal extraction: %w", err)
		}
	}
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &app, nil
}

func marshalLists(app *domain.Application) ([4]string, error) {
	var out [4]string
	for i, items := range [][]string{app.Diagnosis, app.Medications, app.Allergies, app.Services} {
		if items == nil {
			items = []string{}
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return out, fmt.Errorf("marshal list column: %w", err)
		}
		out[i] = string(raw)
	}
	return out, nil
}

func requireAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrApplicationNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
