package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID = int64(2024030101)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the applications and processed_emails tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/intake/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

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
	diagnosis JSONB NOT NULL DEFAULT '[]'::jsonb,
	medications JSONB NOT NULL DEFAULT '[]'::jsonb,
	allergies JSONB NOT NULL DEFAULT '[]'::jsonb,
	physician TEXT NOT NULL DEFAULT '',
	facility TEXT NOT NULL DEFAULT '',
	services JSONB NOT NULL DEFAULT '[]'::jsonb,
	ai_summary TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	raw_text TEXT NOT NULL DEFAULT '',
	raw_email_subject TEXT NOT NULL DEFAULT '',
	source_ref TEXT NOT NULL DEFAULT '',
	extraction JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_created_at ON applications(created_at DESC);

CREATE TABLE IF NOT EXISTS processed_emails (
	message_id TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL,
	outcome TEXT NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
