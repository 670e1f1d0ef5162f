package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
)

const DefaultConfidenceThreshold = 85

const (
	VerificationAdopted = "adopted"
	VerificationKept    = "kept"
	VerificationFailed  = "failed"
	VerificationSkipped = "skipped"
)

var visionExts = map[string]struct{}{
	"pdf": {}, "png": {}, "jpg": {}, "jpeg": {}, "tiff": {}, "tif": {}, "gif": {}, "webp": {}, "bmp": {},
}

var textOnlyExts = map[string]struct{}{
	"docx": {}, "doc": {},
}

var errNoContent = errors.New("no images or text to extract from")

func IsVisionCapable(filename string) bool {
	_, ok := visionExts[domain.FileExt(filename)]
	return ok
}

func IsTextOnly(filename string) bool {
	_, ok := textOnlyExts[domain.FileExt(filename)]
	return ok
}

type ExtractDocumentUseCase struct {
	preparer  ports.ImagePreparer
	vision    ports.VisionExtractor
	text      ports.TextFallbackExtractor
	verifier  ports.ExtractionVerifier
	metrics   ports.IntakeMetrics
	threshold int
}

func NewExtractDocumentUseCase(
	preparer ports.ImagePreparer,
	vision ports.VisionExtractor,
	text ports.TextFallbackExtractor,
	verifier ports.ExtractionVerifier,
	metrics ports.IntakeMetrics,
	threshold int,
) *ExtractDocumentUseCase {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ExtractDocumentUseCase{
		preparer:  preparer,
		vision:    vision,
		text:      text,
		verifier:  verifier,
		metrics:   metrics,
		threshold: threshold,
	}
}

// Extract runs primary extraction and, when confidence is below the
// threshold and raw text exists, a verification pass. The returned result
// is always complete; err is a *domain.ExtractionError when it is degraded.
func (uc *ExtractDocumentUseCase) Extract(ctx context.Context, doc domain.RawDocument) (domain.ExtractionResult, error) {
	result, err := uc.primary(ctx, doc)
	uc.metrics.ObserveExtraction(result.Meta.Method, result.Meta.Tokens)

	result, adopted := uc.verifyIfNeeded(ctx, result, doc)
	if adopted {
		err = nil
	}
	result.Complete()
	return result, err
}

func (uc *ExtractDocumentUseCase) primary(ctx context.Context, doc domain.RawDocument) (domain.ExtractionResult, error) {
	pages := uc.preparePages(ctx, doc)
	if len(pages) > 0 {
		return uc.vision.ExtractFromImages(ctx, pages, doc.Subject, doc.Body)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return domain.EmptyExtraction(errNoContent.Error()), &domain.ExtractionError{
			Method: domain.MethodTextFallback,
			Stage:  domain.StagePrepare,
			Err:    errNoContent,
		}
	}
	return uc.text.ExtractFromText(ctx, doc.Text, doc.Subject)
}

func (uc *ExtractDocumentUseCase) preparePages(ctx context.Context, doc domain.RawDocument) []domain.PageImage {
	if len(doc.Data) == 0 || !IsVisionCapable(doc.Filename) {
		return nil
	}
	pages, err := uc.preparer.Prepare(ctx, doc.Data, doc.Filename)
	if err != nil {
		slog.Warn("image_preparation_failed",
			"filename", doc.Filename,
			"error", err,
		)
		return nil
	}
	return pages
}

func (uc *ExtractDocumentUseCase) verifyIfNeeded(ctx context.Context, prior domain.ExtractionResult, doc domain.RawDocument) (domain.ExtractionResult, bool) {
	if prior.OverallConfidence >= uc.threshold {
		return prior, false
	}
	if strings.TrimSpace(doc.Text) == "" {
		uc.metrics.ObserveVerification(VerificationSkipped)
		return prior, false
	}

	verified, err := uc.verifier.Verify(ctx, prior, doc.Text, doc.Subject)
	if err != nil {
		slog.Warn("verification_failed",
			"prior_confidence", prior.OverallConfidence,
			"error", err,
		)
		uc.metrics.ObserveVerification(VerificationFailed)
		kept := prior.Clone()
		kept.Meta.TurboError = err.Error()
		return kept, false
	}
	uc.metrics.ObserveExtraction(verified.Meta.Method, verified.Meta.Tokens)

	chosen, adopted := ChooseVerified(prior, verified)
	decision := VerificationKept
	if adopted {
		decision = VerificationAdopted
	}
	slog.Info("verification_decision",
		"decision", decision,
		"prior_confidence", prior.OverallConfidence,
		"verified_confidence", verified.OverallConfidence,
	)
	uc.metrics.ObserveVerification(decision)
	return chosen, adopted
}

// ChooseVerified adopts the verified result only when it is strictly more
// confident than prior, so the kept confidence never decreases.
func ChooseVerified(prior, verified domain.ExtractionResult) (domain.ExtractionResult, bool) {
	if verified.OverallConfidence > prior.OverallConfidence {
		adopted := verified.Clone()
		if adopted.Meta.Method == "" {
			adopted.Meta.Method = domain.MethodVerification
		}
		adopted.Meta.Reprocessed = true
		original := prior.OverallConfidence
		adopted.Meta.OriginalConfidence = &original
		return adopted, true
	}
	kept := prior.Clone()
	kept.Meta.TurboAttempted = true
	return kept, false
}

type noopMetrics struct{}

func (noopMetrics) StartItem() {}
func (noopMetrics) FinishItem(domain.IntakeOutcome, time.Duration) {}
func (noopMetrics) ObserveOutcome(domain.IntakeOutcome) {}
func (noopMetrics) ObserveExtraction(domain.ExtractionMethod, *domain.TokenUsage) {}
func (noopMetrics) ObserveVerification(string) {}
