package ports

import (
	"context"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

// ModelClient sends one chat request to a language model and returns its text.
type ModelClient interface {
	Complete(ctx context.Context, req domain.ModelRequest) (domain.ModelResponse, error)
}

// ImagePreparer turns document bytes into bounded JPEG page images.
type ImagePreparer interface {
	Prepare(ctx context.Context, data []byte, filename string) ([]domain.PageImage, error)
}

// VisionExtractor reads page images into a structured extraction.
type VisionExtractor interface {
	ExtractFromImages(ctx context.Context, pages []domain.PageImage, subject, body string) (domain.ExtractionResult, error)
}

// TextFallbackExtractor reads plain text into a structured extraction.
type TextFallbackExtractor interface {
	ExtractFromText(ctx context.Context, text, subject string) (domain.ExtractionResult, error)
}

// ExtractionVerifier re-reads raw text to confirm or correct a prior extraction.
type ExtractionVerifier interface {
	Verify(ctx context.Context, prior domain.ExtractionResult, text, subject string) (domain.ExtractionResult, error)
}

// PlainTextExtractor returns best-effort text for a file. It returns "" on failure.
type PlainTextExtractor interface {
	ExtractText(ctx context.Context, data []byte, filename string) string
}

// SourceTransport delivers inbound items and records their consumption.
type SourceTransport interface {
	ListPending(ctx context.Context) ([]domain.SourceRef, error)
	Fetch(ctx context.Context, ref domain.SourceRef) (domain.Email, error)
	MarkConsumed(ctx context.Context, ref domain.SourceRef, outcome domain.IntakeOutcome) error
}

// ConsumptionLedger remembers which source items reached a terminal state.
type ConsumptionLedger interface {
	IsConsumed(ctx context.Context, key string) (bool, error)
	MarkConsumed(ctx context.Context, key string, outcome domain.IntakeOutcome) error
}

// ApplicationStore accepts new applications from intake.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *domain.Application) (string, error)
}

// ApplicationRepository persists and reads applications for review.
type ApplicationRepository interface {
	ApplicationStore
	GetByID(ctx context.Context, id string) (*domain.Application, error)
	List(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error)
	Update(ctx context.Context, app *domain.Application) error
	UpdateStatus(ctx context.Context, id string, status domain.ApplicationStatus) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (domain.ApplicationStats, error)
}

// WorkDispatcher hands a source item to whoever processes it.
type WorkDispatcher interface {
	Dispatch(ctx context.Context, ref domain.SourceRef) error
}

// IntakeMetrics observes orchestrator outcomes.
type IntakeMetrics interface {
	StartItem()
	FinishItem(outcome domain.IntakeOutcome, duration time.Duration)
	ObserveOutcome(outcome domain.IntakeOutcome)
	ObserveExtraction(method domain.ExtractionMethod, tokens *domain.TokenUsage)
	ObserveVerification(decision string)
}
