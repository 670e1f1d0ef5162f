// Package fallback chains application stores: the first success wins.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
)

type Store struct {
	primary   ports.ApplicationStore
	secondary ports.ApplicationStore
}

func NewStore(primary, secondary ports.ApplicationStore) *Store {
	return &Store{primary: primary, secondary: secondary}
}

func (s *Store) CreateApplication(ctx context.Context, app *domain.Application) (string, error) {
	id, err := s.primary.CreateApplication(ctx, app)
	if err == nil {
		return id, nil
	}
	if ctx.Err() != nil || s.secondary == nil {
		return "", err
	}

	slog.Warn("application_store_fallback", "application_id", app.ID, "error", err)
	id, fallbackErr := s.secondary.CreateApplication(ctx, app)
	if fallbackErr != nil {
		return "", fmt.Errorf("all application stores failed: %w", errors.Join(err, fallbackErr))
	}
	return id, nil
}
