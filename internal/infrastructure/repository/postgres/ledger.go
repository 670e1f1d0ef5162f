package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

// ConsumptionLedger records processed message IDs in processed_emails.
type ConsumptionLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewConsumptionLedger(db *sql.DB) *ConsumptionLedger {
	return &ConsumptionLedger{db: db, now: time.Now}
}

func (l *ConsumptionLedger) IsConsumed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_emails WHERE message_id = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed email: %w", err)
	}
	return exists, nil
}

func (l *ConsumptionLedger) MarkConsumed(ctx context.Context, key string, outcome domain.IntakeOutcome) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO processed_emails (message_id, processed_at, outcome)
VALUES ($1, $2, $3)
ON CONFLICT (message_id) DO UPDATE
SET processed_at = EXCLUDED.processed_at, outcome = EXCLUDED.outcome
`, key, l.now().UTC(), string(outcome))
	if err != nil {
		return fmt.Errorf("upsert processed email: %w", err)
	}
	return nil
}
