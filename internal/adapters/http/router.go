package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/core/ports"
	"github.com/kirillkom/referral-intake/internal/observability/metrics"
)

const serviceName = "api"

type Options struct {
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	apps      ports.ApplicationReviewer
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
	opts      Options
	now       func() time.Time
}

func NewRouter(ctx context.Context, apps ports.ApplicationReviewer, httpMetrics *metrics.HTTPServerMetrics, opts Options) (*Router, error) {
	validator, err := newRequestValidator(ctx)
	if err != nil {
		return nil, err
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 100 * time.Millisecond
	}
	return &Router{
		apps:      apps,
		metrics:   httpMetrics,
		validator: validator,
		opts:      opts,
		now:       time.Now,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("GET /api/applications", rt.listApplications)
	mux.HandleFunc("POST /api/applications", rt.createApplication)
	mux.HandleFunc("GET /api/applications/stats", rt.applicationStats)
	mux.HandleFunc("GET /api/applications/export", rt.exportApplications)
	mux.HandleFunc("GET /api/applications/{id}", rt.getApplication)
	mux.HandleFunc("PATCH /api/applications/{id}", rt.patchApplication)
	mux.HandleFunc("DELETE /api/applications/{id}", rt.deleteApplication)
	mux.HandleFunc("POST /api/applications/{id}/decision", rt.decideApplication)

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = bearerAuthMiddleware(handler, rt.opts.AuthToken)
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listApplications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apps, err := rt.apps.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applications": apps,
		"count":        len(apps),
	})
}

func (rt *Router) createApplication(w http.ResponseWriter, r *http.Request) {
	var app domain.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := rt.apps.Create(r.Context(), &app)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": string(app.Status)})
}

func (rt *Router) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := rt.apps.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) patchApplication(w http.ResponseWriter, r *http.Request) {
	var patch domain.ApplicationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	app, err := rt.apps.Patch(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) deleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := rt.apps.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) decideApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision domain.ApplicationStatus `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	id := r.PathValue("id")
	if err := rt.apps.Decide(r.Context(), id, req.Decision); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordDecision(serviceName, req.Decision)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Decision)})
}

func (rt *Router) applicationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.apps.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) exportApplications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	data, err := rt.apps.ExportXLSX(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	filename := fmt.Sprintf("applications-%s.xlsx", rt.now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilter(r *http.Request) (domain.ApplicationFilter, error) {
	q := r.URL.Query()
	filter := domain.ApplicationFilter{
		Status:   domain.ApplicationStatus(strings.TrimSpace(q.Get("status"))),
		Priority: strings.TrimSpace(q.Get("priority")),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", errors.New("limit must be a positive integer"))
		}
		filter.Limit = limit
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
