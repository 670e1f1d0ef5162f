package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

type storeFake struct {
	id    string
	err   error
	calls int
}

func (s *storeFake) CreateApplication(_ context.Context, app *domain.Application) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.id != "" {
		return s.id, nil
	}
	return app.ID, nil
}

func TestStoreUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &storeFake{id: "remote"}
	secondary := &storeFake{}
	id, err := NewStore(primary, secondary).CreateApplication(context.Background(), &domain.Application{ID: "APP-1"})
	if err != nil {
		t.Fatalf("CreateApplication() error = %v", err)
	}
	if id != "remote" || secondary.calls != 0 {
		t.Fatalf("id=%s secondary calls=%d", id, secondary.calls)
	}
}

func TestStoreFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &storeFake{err: errors.New("connection refused")}
	secondary := &storeFake{}
	id, err := NewStore(primary, secondary).CreateApplication(context.Background(), &domain.Application{ID: "APP-1"})
	if err != nil {
		t.Fatalf("CreateApplication() error = %v", err)
	}
	if id != "APP-1" || secondary.calls != 1 {
		t.Fatalf("id=%s secondary calls=%d", id, secondary.calls)
	}
}

func TestStoreReportsBothFailures(t *testing.T) {
	errRemote := errors.New("remote down")
	errLocal := errors.New("disk full")
	_, err := NewStore(&storeFake{err: errRemote}, &storeFake{err: errLocal}).
		CreateApplication(context.Background(), &domain.Application{ID: "APP-1"})
	if !errors.Is(err, errRemote) || !errors.Is(err, errLocal) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestStoreDoesNotFallBackWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	secondary := &storeFake{}
	_, err := NewStore(&storeFake{err: context.Canceled}, secondary).CreateApplication(ctx, &domain.Application{})
	if err == nil || secondary.calls != 0 {
		t.Fatalf("err=%v secondary calls=%d", err, secondary.calls)
	}
}
