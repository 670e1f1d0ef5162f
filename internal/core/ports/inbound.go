package ports

import (
	"context"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

// DocumentExtractor is the inbound contract of the extraction pipeline.
// It always returns a structurally complete result; a non-nil error is a
// *domain.ExtractionError describing why the result is degraded.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc domain.RawDocument) (domain.ExtractionResult, error)
}

// SourceProcessor runs one source item through intake.
type SourceProcessor interface {
	ProcessItem(ctx context.Context, ref domain.SourceRef) (domain.IntakeOutcome, error)
}

// ApplicationReviewer is the inbound contract of the review API.
type ApplicationReviewer interface {
	Create(ctx context.Context, app *domain.Application) (string, error)
	Get(ctx context.Context, id string) (*domain.Application, error)
	List(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error)
	Patch(ctx context.Context, id string, patch domain.ApplicationPatch) (*domain.Application, error)
	Decide(ctx context.Context, id string, decision domain.ApplicationStatus) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (domain.ApplicationStats, error)
	ExportXLSX(ctx context.Context, filter domain.ApplicationFilter) ([]byte, error)
}
