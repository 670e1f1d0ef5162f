// Package sqlite is the local application store used when the review API is
// unreachable, plus the processed_emails ledger for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC text so they order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/intake.db"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const query = `
CREATE TABLE IF NOT EXISTS applications (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal',
	source TEXT NOT NULL,
	source_email TEXT NOT NULL DEFAULT '',
	patient_name TEXT NOT NULL,
	dob TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	insurance TEXT NOT NULL DEFAULT '',
	policy_number TEXT NOT NULL DEFAULT '',
	diagnosis TEXT NOT NULL DEFAULT '[]',
	medications TEXT NOT NULL DEFAULT '[]',
	allergies TEXT NOT NULL DEFAULT '[]',
	physician TEXT NOT NULL DEFAULT '',
	facility TEXT NOT NULL DEFAULT '',
	services TEXT NOT NULL DEFAULT '[]',
	ai_summary TEXT NOT NULL DEFAULT '',
	confidence_score REAL NOT NULL DEFAULT 0,
	raw_text TEXT NOT NULL DEFAULT '',
	raw_email_subject TEXT NOT NULL DEFAULT '',
	source_ref TEXT NOT NULL DEFAULT '',
	extraction TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_created_at ON applications(created_at DESC);

CREATE TABLE IF NOT EXISTS processed_emails (
	message_id TEXT PRIMARY KEY,
	processed_at TEXT NOT NULL,
	outcome TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
