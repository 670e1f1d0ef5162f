package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
)

// ApplicationExporter renders applications into a spreadsheet.
type ApplicationExporter interface {
	ExportApplications(apps []domain.Application) ([]byte, error)
}

type ApplicationService struct {
	repo     ports.ApplicationRepository
	exporter ApplicationExporter
	now      func() time.Time
}

func NewApplicationService(repo ports.ApplicationRepository, exporter ApplicationExporter) *ApplicationService {
	return &ApplicationService{
		repo:     repo,
		exporter: exporter,
		now:      time.Now,
	}
}

func (s *ApplicationService) Create(ctx context.Context, app *domain.Application) (string, error) {
	if app == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "create application", errors.New("empty payload"))
	}
	if strings.TrimSpace(app.PatientName) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "create application", errors.New("patient_name is required"))
	}

	now := s.now().UTC()
	if strings.TrimSpace(app.ID) == "" {
		app.ID = NewApplicationID(now)
	}
	if app.Status == "" {
		app.Status = domain.ApplicationPending
	}
	if !app.Status.Valid() {
		return "", domain.WrapError(domain.ErrInvalidInput, "create application", fmt.Errorf("unknown status %q", app.Status))
	}
	if strings.TrimSpace(app.Priority) == "" {
		app.Priority = domain.DefaultPriority
	}
	if app.Source == "" {
		app.Source = domain.IntakeSourceLabel
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}
	return s.repo.CreateApplication(ctx, app)
}

func (s *ApplicationService) Get(ctx context.Context, id string) (*domain.Application, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get application", errors.New("id is required"))
	}
	return s.repo.GetByID(ctx, id)
}

func (s *ApplicationService) List(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list applications", fmt.Errorf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

func (s *ApplicationService) Patch(ctx context.Context, id string, patch domain.ApplicationPatch) (*domain.Application, error) {
	if patch.Empty() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "patch application", errors.New("no fields to update"))
	}
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	app.ApplyPatch(patch, s.now())
	if err := s.repo.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	return app, nil
}

func (s *ApplicationService) Decide(ctx context.Context, id string, decision domain.ApplicationStatus) error {
	if !decision.IsDecision() {
		return domain.WrapError(domain.ErrInvalidInput, "decide application", fmt.Errorf("invalid decision %q", decision))
	}
	return s.repo.UpdateStatus(ctx, id, decision)
}

func (s *ApplicationService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *ApplicationService) Stats(ctx context.Context) (domain.ApplicationStats, error) {
	return s.repo.Stats(ctx)
}

func (s *ApplicationService) ExportXLSX(ctx context.Context, filter domain.ApplicationFilter) ([]byte, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10000
	}
	apps, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list applications for export: %w", err)
	}
	return s.exporter.ExportApplications(apps)
}
