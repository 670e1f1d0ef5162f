package maildir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

const sampleMessage = "From: Clinic <c@clinic.example>\r\n" +
	"Subject: Patient referral\r\n" +
	"Message-ID: <m1@clinic.example>\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"Referral for patient care.\r\n"

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func drop(t *testing.T, tr *Transport, name, body string, modTime time.Time) {
	t.Helper()
	path := filepath.Join(tr.IncomingDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestListPendingSkipsMarkersAndOrdersByAge(t *testing.T) {
	tr := newTestTransport(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	drop(t, tr, "b.eml", sampleMessage, base.Add(time.Minute))
	drop(t, tr, "a.eml", sampleMessage, base.Add(2*time.Minute))
	drop(t, tr, "c.eml", sampleMessage, base)
	drop(t, tr, ".keep", "", base)
	drop(t, tr, "AMAZON_SES_SETUP_NOTIFICATION", "x", base)
	if err := os.Mkdir(filepath.Join(tr.IncomingDir(), "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	refs, err := tr.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	got := make([]string, 0, len(refs))
	for _, ref := range refs {
		got = append(got, string(ref))
	}
	if strings.Join(got, ",") != "c.eml,b.eml,a.eml" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestFetchParsesMessage(t *testing.T) {
	tr := newTestTransport(t)
	drop(t, tr, "m.eml", sampleMessage, time.Now())

	email, err := tr.Fetch(context.Background(), "m.eml")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if email.MessageID != "<m1@clinic.example>" || email.Subject != "Patient referral" {
		t.Fatalf("unexpected email: %+v", email)
	}
}

func TestFetchMissingIsSourceNotFound(t *testing.T) {
	tr := newTestTransport(t)
	_, err := tr.Fetch(context.Background(), "gone.eml")
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	tr := newTestTransport(t)
	_, err := tr.Fetch(context.Background(), "../secret")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	tr := newTestTransport(t)
	drop(t, tr, "m.eml", sampleMessage, time.Now())

	first, err := tr.Claim(context.Background(), "m.eml")
	if err != nil || !first {
		t.Fatalf("first Claim() = %v, %v", first, err)
	}
	second, err := tr.Claim(context.Background(), "m.eml")
	if err != nil || second {
		t.Fatalf("second Claim() = %v, %v", second, err)
	}

	refs, _ := tr.ListPending(context.Background())
	if len(refs) != 0 {
		t.Fatalf("claimed item must leave incoming, got %v", refs)
	}
	if _, err := tr.Fetch(context.Background(), "m.eml"); err != nil {
		t.Fatalf("claimed item must stay fetchable: %v", err)
	}
}

func TestReleaseReturnsClaimToIncoming(t *testing.T) {
	tr := newTestTransport(t)
	drop(t, tr, "m.eml", sampleMessage, time.Now())
	if _, err := tr.Claim(context.Background(), "m.eml"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if err := tr.Release(context.Background(), "m.eml"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	refs, err := tr.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(refs) != 1 || refs[0] != "m.eml" {
		t.Fatalf("released item must be pending again, got %v", refs)
	}
	if _, err := os.Stat(tr.path(dirProcessing, "m.eml")); !os.IsNotExist(err) {
		t.Fatalf("expected file gone from processing")
	}

	// Released or never-claimed items are left alone.
	if err := tr.Release(context.Background(), "m.eml"); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if err := tr.Release(context.Background(), "never.eml"); err != nil {
		t.Fatalf("Release(unknown) error = %v", err)
	}
}

func TestListPendingReclaimsExpiredClaims(t *testing.T) {
	tr := newTestTransport(t).WithClaimTimeout(10 * time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	// An old arrival time must not make a fresh claim look expired.
	drop(t, tr, "fresh.eml", sampleMessage, now.Add(-24*time.Hour))
	drop(t, tr, "stale.eml", sampleMessage, now.Add(-24*time.Hour))
	for _, name := range []domain.SourceRef{"fresh.eml", "stale.eml"} {
		if ok, err := tr.Claim(context.Background(), name); err != nil || !ok {
			t.Fatalf("Claim(%s) = %v, %v", name, ok, err)
		}
	}
	claimedAt := now.Add(-11 * time.Minute)
	if err := os.Chtimes(tr.path(dirProcessing, "stale.eml"), claimedAt, claimedAt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	refs, err := tr.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(refs) != 1 || refs[0] != "stale.eml" {
		t.Fatalf("expected only the expired claim back, got %v", refs)
	}
	if _, err := os.Stat(tr.path(dirProcessing, "fresh.eml")); err != nil {
		t.Fatalf("fresh claim must stay in processing: %v", err)
	}
	if ok, err := tr.Claim(context.Background(), "stale.eml"); err != nil || !ok {
		t.Fatalf("reclaimed item must be claimable, got %v, %v", ok, err)
	}
}

func TestWithClaimTimeoutKeepsDefaultForNonPositive(t *testing.T) {
	tr := newTestTransport(t).WithClaimTimeout(0)
	if tr.claimTimeout != DefaultClaimTimeout {
		t.Fatalf("claimTimeout = %v, want %v", tr.claimTimeout, DefaultClaimTimeout)
	}
}

func TestMarkConsumedRoutesByOutcome(t *testing.T) {
	tests := []struct {
		outcome domain.IntakeOutcome
		dir     string
	}{
		{domain.OutcomeCreated, dirProcessed},
		{domain.OutcomeRejectedSpam, dirProcessed},
		{domain.OutcomeRejectedIncomplete, dirProcessed},
		{domain.OutcomeDuplicate, dirProcessed},
		{domain.OutcomeError, dirFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			tr := newTestTransport(t)
			drop(t, tr, "m.eml", sampleMessage, time.Now())

			if err := tr.MarkConsumed(context.Background(), "m.eml", tt.outcome); err != nil {
				t.Fatalf("MarkConsumed() error = %v", err)
			}
			if _, err := os.Stat(tr.path(tt.dir, "m.eml")); err != nil {
				t.Fatalf("expected file in %s: %v", tt.dir, err)
			}
			if _, err := os.Stat(tr.path(dirIncoming, "m.eml")); !os.IsNotExist(err) {
				t.Fatalf("expected file gone from incoming")
			}
		})
	}
}

func TestMarkConsumedIsIdempotent(t *testing.T) {
	tr := newTestTransport(t)
	drop(t, tr, "m.eml", sampleMessage, time.Now())
	if _, err := tr.Claim(context.Background(), "m.eml"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := tr.MarkConsumed(context.Background(), "m.eml", domain.OutcomeCreated); err != nil {
			t.Fatalf("MarkConsumed() #%d error = %v", i+1, err)
		}
	}
	err := tr.MarkConsumed(context.Background(), "never.eml", domain.OutcomeCreated)
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound for unknown item, got %v", err)
	}
}

func TestWatchSignalsNewFiles(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := tr.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	drop(t, tr, "new.eml", sampleMessage, time.Now())

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected wake-up after new file")
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-wake:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel to close after cancel")
		}
	}
}
