package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/observability/metrics"
)

type reviewerFake struct {
	apps       map[string]*domain.Application
	err        error
	lastFilter domain.ApplicationFilter
	lastPatch  domain.ApplicationPatch
	decisions  map[string]domain.ApplicationStatus
	created    []*domain.Application
}

func newReviewerFake() *reviewerFake {
	return &reviewerFake{
		apps: map[string]*domain.Application{
			"APP-1": {ID: "APP-1", Status: domain.ApplicationPending, PatientName: "Margaret Thompson"},
		},
		decisions: map[string]domain.ApplicationStatus{},
	}
}

func (f *reviewerFake) Create(_ context.Context, app *domain.Application) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if app.ID == "" {
		app.ID = "APP-new"
	}
	app.Status = domain.ApplicationPending
	f.created = append(f.created, app)
	return app.ID, nil
}

func (f *reviewerFake) Get(_ context.Context, id string) (*domain.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	app, ok := f.apps[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrApplicationNotFound, "get application", errors.New("id="+id))
	}
	return app, nil
}

func (f *reviewerFake) List(_ context.Context, filter domain.ApplicationFilter) ([]domain.Application, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Application, 0, len(f.apps))
	for _, app := range f.apps {
		out = append(out, *app)
	}
	return out, nil
}

func (f *reviewerFake) Patch(_ context.Context, id string, patch domain.ApplicationPatch) (*domain.Application, error) {
	f.lastPatch = patch
	app, ok := f.apps[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrApplicationNotFound, "patch application", errors.New("id="+id))
	}
	app.ApplyPatch(patch, time.Now())
	return app, nil
}

func (f *reviewerFake) Decide(_ context.Context, id string, decision domain.ApplicationStatus) error {
	if _, ok := f.apps[id]; !ok {
		return domain.WrapError(domain.ErrApplicationNotFound, "decide application", errors.New("id="+id))
	}
	f.decisions[id] = decision
	return nil
}

func (f *reviewerFake) Delete(_ context.Context, id string) error {
	if _, ok := f.apps[id]; !ok {
		return domain.WrapError(domain.ErrApplicationNotFound, "delete application", errors.New("id="+id))
	}
	delete(f.apps, id)
	return nil
}

func (f *reviewerFake) Stats(context.Context) (domain.ApplicationStats, error) {
	if f.err != nil {
		return domain.ApplicationStats{}, f.err
	}
	return domain.ApplicationStats{Pending: 1, Total: 1, ThisWeek: 1}, nil
}

func (f *reviewerFake) ExportXLSX(_ context.Context, filter domain.ApplicationFilter) ([]byte, error) {
	f.lastFilter = filter
	return []byte("PK-xlsx"), nil
}

func newTestHandler(t *testing.T, apps *reviewerFake, opts Options) http.Handler {
	t.Helper()
	router, err := NewRouter(context.Background(), apps, metrics.NewHTTPServerMetrics(serviceName), opts)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	router.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return router.Handler()
}

func serve(handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestListApplicationsPassesFilter(t *testing.T) {
	apps := newReviewerFake()
	res := serve(newTestHandler(t, apps, Options{}), http.MethodGet, "/api/applications?status=pending&priority=high&limit=25", nil)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	want := domain.ApplicationFilter{Status: domain.ApplicationPending, Priority: "high", Limit: 25}
	if apps.lastFilter != want {
		t.Fatalf("filter = %+v, want %+v", apps.lastFilter, want)
	}
	if body := decodeBody(t, res); body["count"] != float64(1) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestContractViolationsReturn400(t *testing.T) {
	handler := newTestHandler(t, newReviewerFake(), Options{})
	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"unknown status", http.MethodGet, "/api/applications?status=archived", nil},
		{"limit too large", http.MethodGet, "/api/applications?limit=9999", nil},
		{"create without patient", http.MethodPost, "/api/applications", map[string]any{"dob": "01/01/1950"}},
		{"patch unknown field", http.MethodPatch, "/api/applications/APP-1", map[string]any{"status": "approved"}},
		{"patch empty", http.MethodPatch, "/api/applications/APP-1", map[string]any{}},
		{"bad decision", http.MethodPost, "/api/applications/APP-1/decision", map[string]any{"decision": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := serve(handler, tt.method, tt.target, tt.body)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
		})
	}
}

func TestGetApplicationReturns404ForNotFound(t *testing.T) {
	res := serve(newTestHandler(t, newReviewerFake(), Options{}), http.MethodGet, "/api/applications/missing", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["request_id"] == "" || body["request_id"] != res.Header().Get(requestIDHeader) {
		t.Fatalf("expected request id in error body, got %v", body)
	}
}

func TestTemporaryErrorsReturn503WithoutDetails(t *testing.T) {
	apps := newReviewerFake()
	apps.err = domain.WrapError(domain.ErrTemporary, "stats", errors.New("pq: connection refused to 10.0.0.5"))
	res := serve(newTestHandler(t, apps, Options{}), http.MethodGet, "/api/applications/stats", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestCreateApplication(t *testing.T) {
	apps := newReviewerFake()
	res := serve(newTestHandler(t, apps, Options{}), http.MethodPost, "/api/applications", map[string]any{
		"patient_name": "John Doe",
		"diagnosis":    []string{"CHF"},
		"extraction":   map[string]any{"_reprocessed": true},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if len(apps.created) != 1 || apps.created[0].PatientName != "John Doe" {
		t.Fatalf("unexpected created apps: %+v", apps.created)
	}
	if body := decodeBody(t, res); body["id"] != "APP-new" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPatchAndDecide(t *testing.T) {
	apps := newReviewerFake()
	handler := newTestHandler(t, apps, Options{})

	res := serve(handler, http.MethodPatch, "/api/applications/APP-1", map[string]any{"phone": " 555-0100 "})
	if res.Code != http.StatusOK {
		t.Fatalf("patch expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if apps.apps["APP-1"].Phone != "555-0100" {
		t.Fatalf("patch not applied: %+v", apps.apps["APP-1"])
	}

	res = serve(handler, http.MethodPost, "/api/applications/APP-1/decision", map[string]any{"decision": "approved"})
	if res.Code != http.StatusOK {
		t.Fatalf("decision expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if apps.decisions["APP-1"] != domain.ApplicationApproved {
		t.Fatalf("decision not recorded: %v", apps.decisions)
	}

	res = serve(handler, http.MethodDelete, "/api/applications/APP-1", nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", res.Code)
	}
}

func TestExportApplicationsReturnsWorkbook(t *testing.T) {
	apps := newReviewerFake()
	res := serve(newTestHandler(t, apps, Options{}), http.MethodGet, "/api/applications/export?status=approved", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Header().Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if got := res.Header().Get("Content-Disposition"); !strings.Contains(got, "applications-20240301.xlsx") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if apps.lastFilter.Status != domain.ApplicationApproved {
		t.Fatalf("filter not passed: %+v", apps.lastFilter)
	}
}

func TestBearerAuthGuardsAPIRoutesOnly(t *testing.T) {
	handler := newTestHandler(t, newReviewerFake(), Options{AuthToken: "secret"})

	if res := serve(handler, http.MethodGet, "/healthz", nil); res.Code != http.StatusOK {
		t.Fatalf("healthz expected 200, got %d", res.Code)
	}
	if res := serve(handler, http.MethodGet, "/api/applications", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/applications", nil)
	req.Header.Set("Authorization", "Bearer secret")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", res.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	handler := newTestHandler(t, newReviewerFake(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected request id echo, got %q", res.Header().Get(requestIDHeader))
	}
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	handler := newTestHandler(t, newReviewerFake(), Options{})
	if res := serve(handler, http.MethodGet, "/v1/documents", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if res := serve(handler, http.MethodPut, "/api/applications/APP-1", nil); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrApplicationNotFound, "op", errors.New("x")), http.StatusNotFound},
		{domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapErrorToHTTPStatus(tt.err); got != tt.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
