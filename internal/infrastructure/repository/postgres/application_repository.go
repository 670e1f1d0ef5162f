package postgres

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
	extraction, err := marshalExtraction(app.Extraction)
	if err != nil {
		return "", err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO applications (`+applicationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
`,
		app.ID, string(app.Status), app.Priority, app.Source, app.SourceEmail, app.PatientName, app.DOB,
		app.Phone, app.Address, app.Insurance, app.PolicyNumber, lists[0], lists[1], lists[2],
		app.Physician, app.Facility, lists[3], app.AISummary, app.ConfidenceScore, app.RawText,
		app.RawEmailSubject, app.SourceRef, extraction, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert application: %w", err)
	}
	return app.ID, nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*domain.Application, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+applicationColumns+`
FROM applications
WHERE id = $1
`, id)

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
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}

	query := "SELECT " + applicationColumns + "\nFROM applications\n"
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
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
SET priority = $2, patient_name = $3, dob = $4, phone = $5, address = $6, insurance = $7,
	policy_number = $8, diagnosis = $9, medications = $10, allergies = $11, physician = $12,
	facility = $13, services = $14, ai_summary = $15, updated_at = $16
WHERE id = $1
`,
		app.ID, app.Priority, app.PatientName, app.DOB, app.Phone, app.Address, app.Insurance,
		app.PolicyNumber, lists[0], lists[1], lists[2], app.Physician, app.Facility, lists[3],
		app.AISummary, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return requireAffected(res, "update application", app.ID)
}

func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id string, status domain.ApplicationStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE applications
SET status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), r.now().UTC())
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return requireAffected(res, "update application status", id)
}

func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
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

	since := r.now().UTC().Add(-7 * 24 * time.Hour)
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE created_at >= $1`, since,
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
		app           domain.Application
		status        string
		lists         [4][]byte
		extractionRaw []byte
	)
	err := row.Scan(
		&app.ID, &status, &app.Priority, &app.Source, &app.SourceEmail, &app.PatientName, &app.DOB,
		&app.Phone, &app.Address, &app.Insurance, &app.PolicyNumber, &lists[0], &lists[1], &lists[2],
		&app.Physician, &app.Facility, &lists[3], &app.AISummary, &app.ConfidenceScore, &app.RawText,
		&app.RawEmailSubject, &app.SourceRef, &extractionRaw, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = domain.ApplicationStatus(status)

	targets := []*[]string{&app.Diagnosis, &app.Medications, &app.Allergies, &app.Services}
	for i, target := range targets {
		*target = []string{}
		if len(lists[i]) == 0 {
			continue
		}
		if err := json.Unmarshal(lists[i], target); err != nil {
			return nil, fmt.Errorf("unmarshal list column: %w", err)
		}
	}
	if len(extractionRaw) > 0 {
		if err := json.Unmarshal(extractionRaw, &app.Extraction); err != nil {
			return nil, fmt.Errorf("unmarshal extraction: %w", err)
		}
	}
	return &app, nil
}

func marshalLists(app *domain.Application) ([4][]byte, error) {
	var out [4][]byte
	for i, items := range [][]string{app.Diagnosis, app.Medications, app.Allergies, app.Services} {
		if items == nil {
			items = []string{}
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return out, fmt.Errorf("marshal list column: %w", err)
		}
		out[i] = raw
	}
	return out, nil
}

func marshalExtraction(record domain.FlattenedRecord) ([]byte, error) {
	if len(record) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction: %w", err)
	}
	return raw, nil
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
