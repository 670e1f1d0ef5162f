package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "intake.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	// Idempotent.
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() second call error = %v", err)
	}
	return db
}

func sampleApp(id string, status domain.ApplicationStatus, priority string, created time.Time) *domain.Application {
	return &domain.Application{
		ID:              id,
		Status:          status,
		Priority:        priority,
		Source:          domain.IntakeSourceLabel,
		SourceEmail:     "c@clinic.example",
		PatientName:     "Margaret Thompson",
		DOB:             "03/15/1942",
		Diagnosis:       []string{"Dementia", "Hypertension"},
		ConfidenceScore: 91,
		RawText:         "body",
		Extraction:      domain.FlattenedRecord{"patient_name": "Margaret Thompson", "_reprocessed": true},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestApplicationRepositoryRoundTrip(t *testing.T) {
	repo := NewApplicationRepository(openTestDB(t))
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	id, err := repo.CreateApplication(ctx, sampleApp("APP-1", domain.ApplicationPending, "high", created))
	if err != nil {
		t.Fatalf("CreateApplication() error = %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PatientName != "Margaret Thompson" || len(got.Diagnosis) != 2 || got.ConfidenceScore != 91 {
		t.Fatalf("unexpected application: %+v", got)
	}
	if got.Medications == nil {
		t.Fatalf("empty list must read back as [], got nil")
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.Extraction.Bool("_reprocessed") {
		t.Fatalf("extraction not persisted: %v", got.Extraction)
	}

	if _, err := repo.CreateApplication(ctx, sampleApp("APP-1", domain.ApplicationPending, "high", created)); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestApplicationRepositoryGetMissing(t *testing.T) {
	repo := NewApplicationRepository(openTestDB(t))
	_, err := repo.GetByID(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestApplicationRepositoryListFiltersAndOrders(t *testing.T) {
	repo := NewApplicationRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := []*domain.Application{
		sampleApp("APP-1", domain.ApplicationPending, "high", base),
		sampleApp("APP-2", domain.ApplicationPending, "normal", base.Add(time.Hour)),
		sampleApp("APP-3", domain.ApplicationApproved, "high", base.Add(2*time.Hour)),
		sampleApp("APP-4", domain.ApplicationPending, "high", base.Add(3*time.Hour)),
	}
	for _, app := range seed {
		if _, err := repo.CreateApplication(ctx, app); err != nil {
			t.Fatalf("CreateApplication(%s) error = %v", app.ID, err)
		}
	}

	apps, err := repo.List(ctx, domain.ApplicationFilter{Status: domain.ApplicationPending, Priority: "high"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(apps) != 2 || apps[0].ID != "APP-4" || apps[1].ID != "APP-1" {
		t.Fatalf("unexpected filtered list: %+v", ids(apps))
	}

	apps, err = repo.List(ctx, domain.ApplicationFilter{Limit: 3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(apps) != 3 || apps[0].ID != "APP-4" {
		t.Fatalf("unexpected limited list: %v", ids(apps))
	}
}

func TestApplicationRepositoryUpdatesAndStats(t *testing.T) {
	repo := NewApplicationRepository(openTestDB(t))
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for _, app := range []*domain.Application{
		sampleApp("APP-old", domain.ApplicationPending, "normal", now.Add(-30*24*time.Hour)),
		sampleApp("APP-a", domain.ApplicationPending, "normal", now.Add(-time.Hour)),
		sampleApp("APP-b", domain.ApplicationPending, "normal", now.Add(-48*time.Hour)),
	} {
		if _, err := repo.CreateApplication(ctx, app); err != nil {
			t.Fatalf("CreateApplication() error = %v", err)
		}
	}

	if err := repo.UpdateStatus(ctx, "APP-a", domain.ApplicationApproved); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(ctx, "missing", domain.ApplicationApproved); !domain.IsKind(err, domain.ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}

	app, err := repo.GetByID(ctx, "APP-b")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	app.Phone = "555-0100"
	app.Services = []string{"PT"}
	app.UpdatedAt = now
	if err := repo.Update(ctx, app); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	app, _ = repo.GetByID(ctx, "APP-b")
	if app.Phone != "555-0100" || len(app.Services) != 1 {
		t.Fatalf("update not persisted: %+v", app)
	}

	if err := repo.Delete(ctx, "APP-old"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "APP-old"); !domain.IsKind(err, domain.ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound on second delete, got %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := domain.ApplicationStats{Pending: 1, Approved: 1, Total: 2, ThisWeek: 2}
	if stats != want {
		t.Fatalf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestConsumptionLedger(t *testing.T) {
	ledger := NewConsumptionLedger(openTestDB(t))
	ctx := context.Background()

	consumed, err := ledger.IsConsumed(ctx, "<m1@clinic.example>")
	if err != nil || consumed {
		t.Fatalf("IsConsumed() = %v, %v; want false, nil", consumed, err)
	}
	if err := ledger.MarkConsumed(ctx, "<m1@clinic.example>", domain.OutcomeError); err != nil {
		t.Fatalf("MarkConsumed() error = %v", err)
	}
	if err := ledger.MarkConsumed(ctx, "<m1@clinic.example>", domain.OutcomeCreated); err != nil {
		t.Fatalf("MarkConsumed() repeat error = %v", err)
	}
	consumed, err = ledger.IsConsumed(ctx, "<m1@clinic.example>")
	if err != nil || !consumed {
		t.Fatalf("IsConsumed() = %v, %v; want true, nil", consumed, err)
	}
	outcome, err := ledger.Outcome(ctx, "<m1@clinic.example>")
	if err != nil {
		t.Fatalf("Outcome() error = %v", err)
	}
	if outcome != domain.OutcomeCreated {
		t.Fatalf("Outcome() = %q, want created", outcome)
	}
}

func ids(apps []domain.Application) []string {
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		out = append(out, app.ID)
	}
	return out
}
