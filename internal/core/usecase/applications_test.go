package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

type memoryRepo struct {
	apps       map[string]*domain.Application
	lastFilter domain.ApplicationFilter
	updates    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{apps: map[string]*domain.Application{}}
}

func (r *memoryRepo) CreateApplication(_ context.Context, app *domain.Application) (string, error) {
	copied := *app
	r.apps[app.ID] = &copied
	return app.ID, nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.Application, error) {
	app, ok := r.apps[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	copied := *app
	return &copied, nil
}

func (r *memoryRepo) List(_ context.Context, filter domain.ApplicationFilter) ([]domain.Application, error) {
	r.lastFilter = filter
	out := make([]domain.Application, 0, len(r.apps))
	for _, app := range r.apps {
		if filter.Status != "" && app.Status != filter.Status {
			continue
		}
		out = append(out, *app)
	}
	return out, nil
}

func (r *memoryRepo) Update(_ context.Context, app *domain.Application) error {
	r.updates++
	copied := *app
	r.apps[app.ID] = &copied
	return nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, id string, status domain.ApplicationStatus) error {
	app, ok := r.apps[id]
	if !ok {
		return domain.ErrApplicationNotFound
	}
	app.Status = status
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	delete(r.apps, id)
	return nil
}

func (r *memoryRepo) Stats(context.Context) (domain.ApplicationStats, error) {
	return domain.ApplicationStats{Total: len(r.apps)}, nil
}

type exporterFake struct {
	got []domain.Application
}

func (e *exporterFake) ExportApplications(apps []domain.Application) ([]byte, error) {
	e.got = apps
	return []byte("xlsx"), nil
}

func newApplicationServiceFixture() (*ApplicationService, *memoryRepo, *exporterFake) {
	repo := newMemoryRepo()
	exporter := &exporterFake{}
	svc := NewApplicationService(repo, exporter)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, exporter
}

func TestApplicationServiceCreateFillsDefaults(t *testing.T) {
	svc, repo, _ := newApplicationServiceFixture()

	id, err := svc.Create(context.Background(), &domain.Application{PatientName: "Margaret Thompson"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	app := repo.apps[id]
	if app.Status != domain.ApplicationPending || app.Priority != "normal" || app.Source != domain.IntakeSourceLabel {
		t.Fatalf("app = status %q priority %q source %q", app.Status, app.Priority, app.Source)
	}
	if app.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
}

func TestApplicationServiceCreateRequiresPatientName(t *testing.T) {
	svc, _, _ := newApplicationServiceFixture()

	_, err := svc.Create(context.Background(), &domain.Application{PatientName: "  "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("Create() error = %v, want invalid input", err)
	}
}

func TestApplicationServicePatchRejectsEmptyPatch(t *testing.T) {
	svc, repo, _ := newApplicationServiceFixture()
	repo.apps["APP-1"] = &domain.Application{ID: "APP-1", PatientName: "A"}

	_, err := svc.Patch(context.Background(), "APP-1", domain.ApplicationPatch{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("Patch() error = %v, want invalid input", err)
	}
	if repo.updates != 0 {
		t.Fatalf("updates = %d, want 0", repo.updates)
	}
}

func TestApplicationServicePatchAppliesFields(t *testing.T) {
	svc, repo, _ := newApplicationServiceFixture()
	repo.apps["APP-1"] = &domain.Application{ID: "APP-1", PatientName: "Margret Thomson", Diagnosis: []string{"Dementia"}}

	name := " Margaret Thompson "
	meds := []string{"Metformin 500mg"}
	app, err := svc.Patch(context.Background(), "APP-1", domain.ApplicationPatch{PatientName: &name, Medications: &meds})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if app.PatientName != "Margaret Thompson" {
		t.Fatalf("patient_name = %q", app.PatientName)
	}
	if len(app.Diagnosis) != 1 || len(app.Medications) != 1 {
		t.Fatalf("diagnosis=%v medications=%v", app.Diagnosis, app.Medications)
	}
	if repo.apps["APP-1"].PatientName != "Margaret Thompson" {
		t.Fatal("patch was not persisted")
	}
}

func TestApplicationServicePatchMissingApplication(t *testing.T) {
	svc, _, _ := newApplicationServiceFixture()
	name := "X"

	_, err := svc.Patch(context.Background(), "APP-404", domain.ApplicationPatch{PatientName: &name})
	if !domain.IsKind(err, domain.ErrApplicationNotFound) {
		t.Fatalf("Patch() error = %v, want not found", err)
	}
}

func TestApplicationServiceDecideValidatesDecision(t *testing.T) {
	svc, repo, _ := newApplicationServiceFixture()
	repo.apps["APP-1"] = &domain.Application{ID: "APP-1", Status: domain.ApplicationPending}

	if err := svc.Decide(context.Background(), "APP-1", domain.ApplicationPending); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("Decide(pending) error = %v, want invalid input", err)
	}
	if err := svc.Decide(context.Background(), "APP-1", domain.ApplicationApproved); err != nil {
		t.Fatalf("Decide(approved) error = %v", err)
	}
	if repo.apps["APP-1"].Status != domain.ApplicationApproved {
		t.Fatalf("status = %q", repo.apps["APP-1"].Status)
	}
}

func TestApplicationServiceListBoundsLimit(t *testing.T) {
	svc, repo, _ := newApplicationServiceFixture()

	if _, err := svc.List(context.Background(), domain.ApplicationFilter{Limit: 10000}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if repo.lastFilter.Limit != 100 {
		t.Fatalf("limit = %d, want 100", repo.lastFilter.Limit)
	}
	if _, err := svc.List(context.Background(), domain.ApplicationFilter{Status: "archived"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("List() error = %v, want invalid input", err)
	}
}

func TestApplicationServiceExportPassesFilteredApplications(t *testing.T) {
	svc, repo, exporter := newApplicationServiceFixture()
	repo.apps["APP-1"] = &domain.Application{ID: "APP-1", Status: domain.ApplicationApproved}
	repo.apps["APP-2"] = &domain.Application{ID: "APP-2", Status: domain.ApplicationPending}

	data, err := svc.ExportXLSX(context.Background(), domain.ApplicationFilter{Status: domain.ApplicationApproved})
	if err != nil {
		t.Fatalf("ExportXLSX() error = %v", err)
	}
	if string(data) != "xlsx" || len(exporter.got) != 1 || exporter.got[0].ID != "APP-1" {
		t.Fatalf("exported = %v", exporter.got)
	}
}
