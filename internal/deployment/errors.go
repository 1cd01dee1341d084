package deployment

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - one per terminal failure of a run.
var (
	ErrInvalidConfiguration = errors.New("deployment: invalid configuration")
	ErrArtifactResolution   = errors.New("deployment: artifact resolution failed")
	ErrSubmission           = errors.New("deployment: submission failed")
	ErrConfirmation         = errors.New("deployment: confirmation failed")
)

// StageError reports where a run stopped together with the collaborator's
// original error.
type StageError struct {
	// Stage is the stage the run failed to reach. Stage.FailedStep names
	// the step that failed.
	Stage    Stage
	Artifact string
	RunID    string
	// TxHash is set when the failure happened after submission.
	TxHash common.Hash
	Err    error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.Artifact, e.Stage.failureName(), e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is maps the failed stage onto its sentinel, so callers can test
// errors.Is(err, ErrSubmission) without knowing the collaborator error.
func (e *StageError) Is(target error) bool {
	switch e.Stage {
	case StageUnstarted:
		return target == ErrInvalidConfiguration
	case StageArtifactResolved:
		return target == ErrArtifactResolution
	case StageSubmitted:
		return target == ErrSubmission
	case StageConfirmed:
		return target == ErrConfirmation
	default:
		return false
	}
}

// ValidationError represents a configuration invariant violation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
