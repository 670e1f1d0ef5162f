package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/nats-io/nats.go"
)

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"closed", nats.ErrConnectionClosed, true, true},
		{"cancelled", context.Canceled, false, false},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyNATSError(tt.err)
			if got.Retryable != tt.retryable || got.RecordFailure != tt.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tt.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	permanent := errors.New("bad payload")
	if err := wrapTemporaryIfNeeded(permanent); err != permanent {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
}

func TestDispatchRejectsEmptyRef(t *testing.T) {
	q := &Queue{subject: "intake.items"}
	if err := q.Dispatch(context.Background(), ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
