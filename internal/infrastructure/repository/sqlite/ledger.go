package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

type ConsumptionLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewConsumptionLedger(db *sql.DB) *ConsumptionLedger {
	return &ConsumptionLedger{db: db, now: time.Now}
}

func (l *ConsumptionLedger) IsConsumed(ctx context.Context, key string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM processed_emails WHERE message_id = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed email: %w", err)
	}
	return true, nil
}

func (l *ConsumptionLedger) MarkConsumed(ctx context.Context, key string, outcome domain.IntakeOutcome) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_emails (message_id, processed_at, outcome) VALUES (?, ?, ?)`,
		key, formatTime(l.now()), string(outcome),
	)
	if err != nil {
		return fmt.Errorf("upsert processed email: %w", err)
	}
	return nil
}

// Outcome returns the recorded outcome for key, or "" when absent.
func (l *ConsumptionLedger) Outcome(ctx context.Context, key string) (domain.IntakeOutcome, error) {
	var outcome string
	err := l.db.QueryRowContext(ctx, `SELECT outcome FROM processed_emails WHERE message_id = ?`, key).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query processed email outcome: %w", err)
	}
	return domain.IntakeOutcome(outcome), nil
}
