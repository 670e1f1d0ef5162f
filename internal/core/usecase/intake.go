package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
)

const DefaultRawTextLimit = 5000

var requiredFields = []string{"patient_name", "dob"}

type IntakeConfig struct {
	Keywords          []string
	MinKeywordMatches int
	RawTextLimit      int
	SourceLabel       string
}

func (c IntakeConfig) normalize() IntakeConfig {
	out := c
	if len(out.Keywords) == 0 {
		out.Keywords = DefaultKeywords
	}
	if out.MinKeywordMatches <= 0 {
		out.MinKeywordMatches = DefaultMinKeywordMatches
	}
	if out.RawTextLimit <= 0 {
		out.RawTextLimit = DefaultRawTextLimit
	}
	if out.SourceLabel == "" {
		out.SourceLabel = domain.IntakeSourceLabel
	}
	return out
}

// CycleReport summarizes one polling pass.
type CycleReport struct {
	Listed     int
	Dispatched int
	Outcomes   map[domain.IntakeOutcome]int
}

// SourceClaimer is implemented by transports that can reserve an item for a
// single consumer before it is dispatched. Release hands a reservation back
// when the item will not be finished.
type SourceClaimer interface {
	Claim(ctx context.Context, ref domain.SourceRef) (bool, error)
	Release(ctx context.Context, ref domain.SourceRef) error
}

type IntakeUseCase struct {
	transport  ports.SourceTransport
	ledger     ports.ConsumptionLedger
	extractor  ports.DocumentExtractor
	texts      ports.PlainTextExtractor
	store      ports.ApplicationStore
	dispatcher ports.WorkDispatcher
	metrics    ports.IntakeMetrics
	cfg        IntakeConfig

	now   func() time.Time
	newID func(time.Time) string
}

func NewIntakeUseCase(
	transport ports.SourceTransport,
	ledger ports.ConsumptionLedger,
	extractor ports.DocumentExtractor,
	texts ports.PlainTextExtractor,
	store ports.ApplicationStore,
	metrics ports.IntakeMetrics,
	cfg IntakeConfig,
) *IntakeUseCase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &IntakeUseCase{
		transport: transport,
		ledger:    ledger,
		extractor: extractor,
		texts:     texts,
		store:     store,
		metrics:   metrics,
		cfg:       cfg.normalize(),
		now:       time.Now,
		newID:     NewApplicationID,
	}
}

// WithDispatcher makes RunCycle hand items off instead of processing them inline.
func (uc *IntakeUseCase) WithDispatcher(dispatcher ports.WorkDispatcher) *IntakeUseCase {
	uc.dispatcher = dispatcher
	return uc
}

// NewApplicationID returns APP-<yyyymmddhhmmss>-<100..999>.
func NewApplicationID(now time.Time) string {
	return fmt.Sprintf("APP-%s-%d", now.UTC().Format("20060102150405"), 100+rand.IntN(900))
}

func (uc *IntakeUseCase) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Outcomes: map[domain.IntakeOutcome]int{}}

	refs, err := uc.transport.ListPending(ctx)
	if err != nil {
		return report, domain.WrapError(domain.ErrTemporary, "list pending source items", err)
	}
	report.Listed = len(refs)

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if uc.dispatcher != nil {
			if uc.dispatch(ctx, ref) {
				report.Dispatched++
			}
			continue
		}
		outcome, _ := uc.ProcessItem(ctx, ref)
		report.Outcomes[outcome]++
	}
	return report, nil
}

func (uc *IntakeUseCase) dispatch(ctx context.Context, ref domain.SourceRef) bool {
	claimer, canClaim := uc.transport.(SourceClaimer)
	if canClaim {
		claimed, err := claimer.Claim(ctx, ref)
		if err != nil {
			slog.Warn("intake_claim_failed", "source_ref", string(ref), "error", err)
			return false
		}
		if !claimed {
			return false
		}
	}
	if err := uc.dispatcher.Dispatch(ctx, ref); err != nil {
		slog.Error("intake_dispatch_failed", "source_ref", string(ref), "error", err)
		if canClaim {
			uc.release(ctx, claimer, ref)
		}
		return false
	}
	return true
}

func (uc *IntakeUseCase) release(ctx context.Context, claimer SourceClaimer, ref domain.SourceRef) {
	if err := claimer.Release(context.WithoutCancel(ctx), ref); err != nil {
		slog.Error("intake_release_failed", "source_ref", string(ref), "error", err)
	}
}

// ProcessItem drives one source item to a terminal state and marks it
// consumed exactly once. Rejections are not errors.
func (uc *IntakeUseCase) ProcessItem(ctx context.Context, ref domain.SourceRef) (outcome domain.IntakeOutcome, err error) {
	uc.metrics.StartItem()
	started := uc.now()
	defer func() {
		uc.metrics.FinishItem(outcome, uc.now().Sub(started))
	}()

	email, err := uc.transport.Fetch(ctx, ref)
	if err != nil {
		if domain.IsKind(err, domain.ErrSourceNotFound) {
			slog.Info("intake_item_gone", "source_ref", string(ref))
			return domain.OutcomeDuplicate, nil
		}
		slog.Error("intake_fetch_failed", "source_ref", string(ref), "error", err)
		uc.finish(ctx, ref, string(ref), domain.OutcomeError)
		return domain.OutcomeError, fmt.Errorf("fetch source item: %w", err)
	}

	key := consumptionKey(email, ref)
	if uc.alreadyConsumed(ctx, key) {
		slog.Info("intake_item_duplicate", "source_ref", string(ref), "message_id", email.MessageID)
		uc.markTransport(ctx, ref, domain.OutcomeDuplicate)
		uc.metrics.ObserveOutcome(domain.OutcomeDuplicate)
		return domain.OutcomeDuplicate, nil
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = domain.OutcomeError
			err = fmt.Errorf("process source item %s: panic: %v", ref, r)
			slog.Error("intake_item_panic", "source_ref", string(ref), "panic", fmt.Sprint(r))
		}
		if ctx.Err() != nil {
			// Interrupted items go back to the queue for the next run.
			slog.Warn("intake_item_interrupted", "source_ref", string(ref), "error", ctx.Err())
			if claimer, ok := uc.transport.(SourceClaimer); ok {
				uc.release(ctx, claimer, ref)
			}
			return
		}
		uc.finish(ctx, ref, key, outcome)
	}()

	return uc.process(ctx, ref, email)
}

func (uc *IntakeUseCase) process(ctx context.Context, ref domain.SourceRef, email domain.Email) (domain.IntakeOutcome, error) {
	filenames := make([]string, 0, len(email.Attachments))
	for _, att := range email.Attachments {
		filenames = append(filenames, att.Filename)
	}

	matches := CountKeywordMatches(uc.cfg.Keywords, email.Subject, email.Body, filenames)
	if matches < uc.cfg.MinKeywordMatches {
		slog.Info("intake_item_rejected",
			"source_ref", string(ref),
			"reason", "not_healthcare",
			"keyword_matches", matches,
		)
		return domain.OutcomeRejectedSpam, nil
	}

	doc := uc.buildDocument(ctx, email)
	result, extractErr := uc.extractor.Extract(ctx, doc)
	if err := ctx.Err(); err != nil {
		return domain.OutcomeError, err
	}
	if extractErr != nil {
		attrs := []any{"source_ref", string(ref), "error", extractErr}
		if extErr, ok := domain.AsExtractionError(extractErr); ok {
			attrs = append(attrs, "method", string(extErr.Method), "stage", string(extErr.Stage))
		}
		slog.Warn("extraction_degraded", attrs...)
	}

	record := Flatten(result)
	if missing := MissingRequiredFields(record); len(missing) > 0 {
		slog.Info("intake_item_rejected",
			"source_ref", string(ref),
			"reason", "missing_required_fields",
			"missing", strings.Join(missing, ","),
			"confidence", record.Int("confidence_score"),
		)
		return domain.OutcomeRejectedIncomplete, nil
	}

	now := uc.now()
	app := domain.NewApplication(uc.newID(now), record, uc.sourceMetadata(ref, email), now)
	id, err := uc.store.CreateApplication(ctx, app)
	if err != nil {
		slog.Error("application_create_failed", "source_ref", string(ref), "error", err)
		return domain.OutcomeError, fmt.Errorf("create application: %w", err)
	}

	slog.Info("application_created",
		"source_ref", string(ref),
		"application_id", id,
		"method", record.String("_extraction_method"),
		"confidence", record.Int("confidence_score"),
		"reprocessed", record.Bool("_reprocessed"),
	)
	return domain.OutcomeCreated, nil
}

// buildDocument routes the first vision-capable attachment to the image path
// and gathers the body plus every attachment's text for fallback and
// verification.
func (uc *IntakeUseCase) buildDocument(ctx context.Context, email domain.Email) domain.RawDocument {
	doc := domain.RawDocument{
		Subject: email.Subject,
		Body:    email.Body,
	}

	var text strings.Builder
	text.WriteString(email.Body)
	for _, att := range email.Attachments {
		if doc.Data == nil && IsVisionCapable(att.Filename) && len(att.Data) > 0 {
			doc.Data = att.Data
			doc.Filename = att.Filename
		}
		if !IsVisionCapable(att.Filename) && !IsTextOnly(att.Filename) {
			continue
		}
		extracted := strings.TrimSpace(uc.texts.ExtractText(ctx, att.Data, att.Filename))
		if extracted == "" {
			continue
		}
		fmt.Fprintf(&text, "\n\n--- Content from %s ---\n%s", att.Filename, extracted)
	}
	doc.Text = text.String()
	return doc
}

func (uc *IntakeUseCase) sourceMetadata(ref domain.SourceRef, email domain.Email) domain.SourceMetadata {
	meta := domain.SourceMetadata{
		Source:      uc.cfg.SourceLabel,
		SourceEmail: email.FromEmail,
		SourceName:  email.FromName,
		Subject:     email.Subject,
		RawText:     truncateRunes(email.Body, uc.cfg.RawTextLimit),
		SourceRef:   string(ref),
		MessageID:   email.MessageID,
	}
	if ts, ok := email.ReceivedAt(); ok {
		meta.ReceivedAt = ts
	}
	return meta
}

// MissingRequiredFields lists required fields that are blank or carry zero confidence.
func MissingRequiredFields(record domain.FlattenedRecord) []string {
	var missing []string
	for _, field := range requiredFields {
		if record.TrimmedString(field) == "" || record.Confidence(field) == 0 {
			missing = append(missing, field)
		}
	}
	return missing
}

func (uc *IntakeUseCase) alreadyConsumed(ctx context.Context, key string) bool {
	consumed, err := uc.ledger.IsConsumed(ctx, key)
	if err != nil {
		slog.Warn("consumption_ledger_read_failed", "key", key, "error", err)
		return false
	}
	return consumed
}

func (uc *IntakeUseCase) finish(ctx context.Context, ref domain.SourceRef, key string, outcome domain.IntakeOutcome) {
	uc.metrics.ObserveOutcome(outcome)
	if err := uc.ledger.MarkConsumed(ctx, key, outcome); err != nil {
		slog.Error("consumption_ledger_write_failed", "key", key, "outcome", string(outcome), "error", err)
	}
	uc.markTransport(ctx, ref, outcome)
}

func (uc *IntakeUseCase) markTransport(ctx context.Context, ref domain.SourceRef, outcome domain.IntakeOutcome) {
	if err := uc.transport.MarkConsumed(ctx, ref, outcome); err != nil && !errors.Is(err, domain.ErrSourceNotFound) {
		slog.Error("transport_mark_consumed_failed", "source_ref", string(ref), "outcome", string(outcome), "error", err)
	}
}

func consumptionKey(email domain.Email, ref domain.SourceRef) string {
	if id := strings.TrimSpace(email.MessageID); id != "" {
		return id
	}
	return string(ref)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
