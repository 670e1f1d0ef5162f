package domain

import (
	"errors"
	"fmt"
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrSourceNotFound      = errors.New("source item not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTemporary           = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

type ExtractionStage string

const (
	StageConfig   ExtractionStage = "config"
	StagePrepare  ExtractionStage = "prepare"
	StageRequest  ExtractionStage = "request"
	StageParse    ExtractionStage = "parse"
	StageValidate ExtractionStage = "validate"
)

// ExtractionError is the typed failure of one extractor call. The extractor
// still returns a structurally complete degraded result alongside it.
type ExtractionError struct {
	Method ExtractionMethod
	Stage  ExtractionStage
	Err    error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "extraction error"
	}
	return fmt.Sprintf("%s extraction %s: %v", e.Method, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsExtractionError unwraps err into an *ExtractionError.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr, true
	}
	return nil, false
}
