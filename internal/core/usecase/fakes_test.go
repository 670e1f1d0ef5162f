package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

type preparerFake struct {
	pages []domain.PageImage
	err   error
	calls int
}

func (f *preparerFake) Prepare(context.Context, []byte, string) ([]domain.PageImage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type visionFake struct {
	result   domain.ExtractionResult
	err      error
	calls    int
	gotPages int
	gotSubj  string
	gotBody  string
}

func (f *visionFake) ExtractFromImages(_ context.Context, pages []domain.PageImage, subject, body string) (domain.ExtractionResult, error) {
	f.calls++
	f.gotPages = len(pages)
	f.gotSubj = subject
	f.gotBody = body
	return f.result.Clone(), f.err
}

type textFake struct {
	result  domain.ExtractionResult
	err     error
	calls   int
	gotText string
}

func (f *textFake) ExtractFromText(_ context.Context, text, _ string) (domain.ExtractionResult, error) {
	f.calls++
	f.gotText = text
	return f.result.Clone(), f.err
}

type verifierFake struct {
	result  domain.ExtractionResult
	err     error
	calls   int
	gotText string
}

func (f *verifierFake) Verify(_ context.Context, prior domain.ExtractionResult, text, _ string) (domain.ExtractionResult, error) {
	f.calls++
	f.gotText = text
	if f.err != nil {
		return prior, f.err
	}
	return f.result.Clone(), nil
}

type documentExtractorFake struct {
	result domain.ExtractionResult
	err    error
	panics bool
	calls  int
	docs   []domain.RawDocument
}

func (f *documentExtractorFake) Extract(_ context.Context, doc domain.RawDocument) (domain.ExtractionResult, error) {
	f.calls++
	f.docs = append(f.docs, doc)
	if f.panics {
		panic("renderer crashed")
	}
	return f.result.Clone(), f.err
}

type plainTextFake struct {
	texts map[string]string
}

func (f *plainTextFake) ExtractText(_ context.Context, _ []byte, filename string) string {
	return f.texts[filename]
}

type consumeCall struct {
	ref     domain.SourceRef
	outcome domain.IntakeOutcome
}

type transportFake struct {
	mu       sync.Mutex
	items    map[domain.SourceRef]domain.Email
	order    []domain.SourceRef
	listErr  error
	fetchErr error
	markErr  error
	consumed []consumeCall
	claimed  []domain.SourceRef
	released []domain.SourceRef
}

func newTransportFake(items ...sourceItem) *transportFake {
	f := &transportFake{items: map[domain.SourceRef]domain.Email{}}
	for _, item := range items {
		f.items[item.ref] = item.email
		f.order = append(f.order, item.ref)
	}
	return f
}

type sourceItem struct {
	ref   domain.SourceRef
	email domain.Email
}

func (f *transportFake) ListPending(context.Context) ([]domain.SourceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.SourceRef, 0, len(f.order))
	out = append(out, f.order...)
	return out, nil
}

func (f *transportFake) Fetch(_ context.Context, ref domain.SourceRef) (domain.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return domain.Email{}, f.fetchErr
	}
	email, ok := f.items[ref]
	if !ok {
		return domain.Email{}, domain.WrapError(domain.ErrSourceNotFound, "fetch", errors.New(string(ref)))
	}
	return email, nil
}

func (f *transportFake) MarkConsumed(_ context.Context, ref domain.SourceRef, outcome domain.IntakeOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, consumeCall{ref: ref, outcome: outcome})
	if f.markErr != nil {
		return f.markErr
	}
	for i, pending := range f.order {
		if pending == ref {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *transportFake) Claim(_ context.Context, ref domain.SourceRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.claimed {
		if c == ref {
			return false, nil
		}
	}
	f.claimed = append(f.claimed, ref)
	return true, nil
}

func (f *transportFake) Release(_ context.Context, ref domain.SourceRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ref)
	for i, c := range f.claimed {
		if c == ref {
			f.claimed = append(f.claimed[:i], f.claimed[i+1:]...)
			break
		}
	}
	return nil
}

type ledgerFake struct {
	marks   map[string]domain.IntakeOutcome
	readErr error
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{marks: map[string]domain.IntakeOutcome{}}
}

func (f *ledgerFake) IsConsumed(_ context.Context, key string) (bool, error) {
	if f.readErr != nil {
		return false, f.readErr
	}
	_, ok := f.marks[key]
	return ok, nil
}

func (f *ledgerFake) MarkConsumed(_ context.Context, key string, outcome domain.IntakeOutcome) error {
	f.marks[key] = outcome
	return nil
}

type storeFake struct {
	apps []*domain.Application
	err  error
}

func (f *storeFake) CreateApplication(_ context.Context, app *domain.Application) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.apps = append(f.apps, app)
	return app.ID, nil
}

type dispatcherFake struct {
	refs []domain.SourceRef
	err  error
}

func (f *dispatcherFake) Dispatch(_ context.Context, ref domain.SourceRef) error {
	if f.err != nil {
		return f.err
	}
	f.refs = append(f.refs, ref)
	return nil
}

type metricsFake struct {
	outcomes      map[domain.IntakeOutcome]int
	verifications map[string]int
	inFlight      int
	finished      []domain.IntakeOutcome
}

func newMetricsFake() *metricsFake {
	return &metricsFake{
		outcomes:      map[domain.IntakeOutcome]int{},
		verifications: map[string]int{},
	}
}

func (m *metricsFake) StartItem() { m.inFlight++ }

func (m *metricsFake) FinishItem(o domain.IntakeOutcome, _ time.Duration) {
	m.inFlight--
	m.finished = append(m.finished, o)
}

func (m *metricsFake) ObserveOutcome(o domain.IntakeOutcome) { m.outcomes[o]++ }

func (m *metricsFake) ObserveExtraction(domain.ExtractionMethod, *domain.TokenUsage) {}

func (m *metricsFake) ObserveVerification(decision string) { m.verifications[decision]++ }

// referralResult builds a vision-style extraction for Margaret Thompson.
func referralResult(method domain.ExtractionMethod, overall int) domain.ExtractionResult {
	r := domain.EmptyExtraction("")
	r.Meta.Method = method
	r.Meta.Model = "test-model"
	r.ExtractionNotes = ""
	r.AISummary = "83-year-old female referred for skilled nursing."
	r.OverallConfidence = overall
	r.Fields["patient_name"] = domain.FieldExtraction{Value: domain.TextValue("Margaret Thompson"), Confidence: overall}
	r.Fields["dob"] = domain.FieldExtraction{Value: domain.TextValue("03/15/1942"), Confidence: overall}
	r.Fields["diagnosis"] = domain.FieldExtraction{Value: domain.ListValue("Dementia", "Hypertension"), Confidence: overall}
	r.Fields["priority"] = domain.FieldExtraction{Value: domain.TextValue("high"), Confidence: overall}
	return r
}
