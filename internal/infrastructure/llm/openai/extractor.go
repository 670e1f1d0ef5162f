package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

type ExtractionConfig struct {
	VisionModel       string
	TextModel         string
	Temperature       float64
	MaxTokens         int
	MaxImagesPerCall  int
	BodyPreviewChars  int
	FallbackTextChars int
	VerifyTextChars   int
}

func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		VisionModel:       "gpt-4o",
		TextModel:         "gpt-4-turbo",
		Temperature:       0.1,
		MaxTokens:         3000,
		MaxImagesPerCall:  10,
		BodyPreviewChars:  500,
		FallbackTextChars: 10000,
		VerifyTextChars:   12000,
	}
}

func (c ExtractionConfig) normalize() ExtractionConfig {
	out := c
	def := DefaultExtractionConfig()
	if strings.TrimSpace(out.VisionModel) == "" {
		out.VisionModel = def.VisionModel
	}
	if strings.TrimSpace(out.TextModel) == "" {
		out.TextModel = def.TextModel
	}
	if out.Temperature < 0 {
		out.Temperature = def.Temperature
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.MaxImagesPerCall <= 0 {
		out.MaxImagesPerCall = def.MaxImagesPerCall
	}
	if out.BodyPreviewChars <= 0 {
		out.BodyPreviewChars = def.BodyPreviewChars
	}
	if out.FallbackTextChars <= 0 {
		out.FallbackTextChars = def.FallbackTextChars
	}
	if out.VerifyTextChars <= 0 {
		out.VerifyTextChars = def.VerifyTextChars
	}
	return out
}

var errEmptyText = errors.New("no document text")

// Extractor implements the vision, text-fallback and verification model calls.
type Extractor struct {
	client ports.ModelClient
	cfg    ExtractionConfig
	schema *jsonschema.Schema
	now    func() time.Time
}

func NewExtractor(client ports.ModelClient, cfg ExtractionConfig) (*Extractor, error) {
	schema, err := compileExtractionSchema()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		client: client,
		cfg:    cfg.normalize(),
		schema: schema,
		now:    time.Now,
	}, nil
}

func (e *Extractor) ExtractFromImages(ctx context.Context, pages []domain.PageImage, subject, body string) (domain.ExtractionResult, error) {
	if len(pages) > e.cfg.MaxImagesPerCall {
		pages = pages[:e.cfg.MaxImagesPerCall]
	}

	parts := make([]domain.ContentPart, 0, len(pages)+2)
	if contextText := visionContext(subject, body, e.cfg.BodyPreviewChars); contextText != "" {
		parts = append(parts, domain.TextPart(contextText))
	}
	parts = append(parts, domain.TextPart(extractionPrompt))
	for _, page := range pages {
		parts = append(parts, domain.ImagePart(page))
	}

	result, err := e.run(ctx, domain.MethodVision, domain.ModelRequest{
		Operation: "vision_extract",
		Model:     e.cfg.VisionModel,
		Parts:     parts,
	})
	if err != nil {
		return result, err
	}
	result.Meta.ImagesProcessed = len(pages)
	return result, nil
}

func (e *Extractor) ExtractFromText(ctx context.Context, text, subject string) (domain.ExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return failed(domain.MethodTextFallback, domain.StagePrepare, errEmptyText)
	}
	return e.run(ctx, domain.MethodTextFallback, domain.ModelRequest{
		Operation: "text_extract",
		Model:     e.cfg.TextModel,
		Parts:     []domain.ContentPart{domain.TextPart(buildTextPrompt(text, subject, e.cfg.FallbackTextChars))},
	})
}

// Verify re-reads text against prior. On failure prior is returned unchanged
// together with the error.
func (e *Extractor) Verify(ctx context.Context, prior domain.ExtractionResult, text, subject string) (domain.ExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return prior, &domain.ExtractionError{Method: domain.MethodVerification, Stage: domain.StagePrepare, Err: errEmptyText}
	}
	prompt, err := buildVerificationPrompt(prior, text, subject, e.cfg.VerifyTextChars)
	if err != nil {
		return prior, &domain.ExtractionError{Method: domain.MethodVerification, Stage: domain.StagePrepare, Err: err}
	}

	result, err := e.run(ctx, domain.MethodVerification, domain.ModelRequest{
		Operation: "verify",
		Model:     e.cfg.TextModel,
		Parts:     []domain.ContentPart{domain.TextPart(prompt)},
	})
	if err != nil {
		return prior, err
	}
	original := prior.OverallConfidence
	result.Meta.OriginalConfidence = &original
	result.Meta.Reprocessed = true
	return result, nil
}

func (e *Extractor) run(ctx context.Context, method domain.ExtractionMethod, req domain.ModelRequest) (domain.ExtractionResult, error) {
	req.System = systemPrompt
	req.Temperature = e.cfg.Temperature
	req.MaxTokens = e.cfg.MaxTokens

	started := e.now()
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		stage := domain.StageRequest
		if errors.Is(err, errMissingAPIKey) {
			stage = domain.StageConfig
		}
		return failed(method, stage, err)
	}

	cleaned := cleanModelJSON(resp.Text)
	result, err := domain.ParseExtraction([]byte(cleaned))
	if err != nil {
		return failedWithUsage(method, domain.StageParse, err, resp)
	}
	if err := validateExtraction(e.schema, []byte(cleaned)); err != nil {
		return failedWithUsage(method, domain.StageValidate, err, resp)
	}

	result.Meta = domain.ExtractionMeta{
		Method:    method,
		Model:     resp.Model,
		Timestamp: e.now().UTC(),
		Tokens:    resp.Usage,
	}
	result.Complete()

	attrs := []any{
		"method", string(method),
		"model", resp.Model,
		"confidence", result.OverallConfidence,
		"duration_ms", e.now().Sub(started).Milliseconds(),
	}
	if resp.Usage != nil {
		attrs = append(attrs, "tokens_total", resp.Usage.Total)
	}
	slog.Info("model_extraction_completed", attrs...)
	return result, nil
}

func failed(method domain.ExtractionMethod, stage domain.ExtractionStage, err error) (domain.ExtractionResult, error) {
	extErr := &domain.ExtractionError{Method: method, Stage: stage, Err: err}
	slog.Warn("model_extraction_failed",
		"method", string(method),
		"stage", string(stage),
		"error", err,
	)
	return domain.EmptyExtraction(fmt.Sprintf("%s: %v", stage, err)), extErr
}

func failedWithUsage(method domain.ExtractionMethod, stage domain.ExtractionStage, err error, resp domain.ModelResponse) (domain.ExtractionResult, error) {
	result, extErr := failed(method, stage, err)
	result.Meta.Model = resp.Model
	result.Meta.Tokens = resp.Usage
	return result, extErr
}
