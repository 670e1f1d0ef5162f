package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{"canceled", context.Canceled, false, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false, false},
		{"circuit open", gobreaker.ErrOpenState, true, true},
		{"429", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, true, true},
		{"503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true, true},
		{"408", &HTTPStatusError{StatusCode: http.StatusRequestTimeout}, true, true},
		{"400", &HTTPStatusError{StatusCode: http.StatusBadRequest}, false, false},
		{"501", &HTTPStatusError{StatusCode: http.StatusNotImplemented}, false, false},
		{"other", errors.New("boom"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyHTTPError(tt.err)
			if got.Retryable != tt.retryable || got.RecordFailure != tt.recordFailure {
				t.Fatalf("ClassifyHTTPError(%v) = %+v", tt.err, got)
			}
		})
	}
}

func TestWrapTemporary(t *testing.T) {
	retryable := fmt.Errorf("call: %w", &HTTPStatusError{StatusCode: http.StatusBadGateway})
	if err := WrapTemporary("op", retryable, nil); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary for 502, got %v", err)
	}

	permanent := &HTTPStatusError{StatusCode: http.StatusUnauthorized}
	if err := WrapTemporary("op", permanent, nil); err != permanent {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}

	custom := errors.New("queue timeout")
	always := func(error) ErrorClassification { return ErrorClassification{Retryable: true} }
	if err := WrapTemporary("op", custom, always); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected custom classifier to be honored, got %v", err)
	}

	if err := WrapTemporary("op", nil, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewHTTPStatusErrorCapsBody(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	_, _ = rec.WriteString(strings.Repeat("x", 5000))

	err := NewHTTPStatusError("openai", "vision", rec.Result())
	if len(err.Body) != maxErrorBodyBytes {
		t.Fatalf("body length = %d, want %d", len(err.Body), maxErrorBodyBytes)
	}
	if !strings.HasPrefix(err.Error(), "openai vision status: 502 Bad Gateway") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
