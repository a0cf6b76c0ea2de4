package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies a deployment failure for retry decisions.
type ErrorKind string

const (
	// KindValidation marks malformed input, caught before any external call.
	KindValidation ErrorKind = "validation"

	// KindExecution marks external process failures: spawn errors, timeouts,
	// and missing expected output on an otherwise-clean exit.
	KindExecution ErrorKind = "execution"

	// KindPermanent marks errors the external tool signals as unrecoverable
	// (auth, not-found, bad input). Never retried.
	KindPermanent ErrorKind = "permanent"

	// KindTransient marks network/rate-limit/server-side errors. Retried.
	KindTransient ErrorKind = "transient"

	// KindCancelled marks a caller-initiated abort.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the retry controller may run another attempt
// after an error of this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMissingContractID is returned when a deploy exits cleanly but its
	// output contains no contract identifier.
	ErrMissingContractID = errors.New("deploy output contains no contract ID")

	// ErrArtifactSourceRequired is returned when a batch item specifies
	// neither a prebuilt artifact nor a source directory.
	ErrArtifactSourceRequired = errors.New("either wasm path or source dir must be set")

	// ErrArtifactSourceConflict is returned when a batch item specifies both
	// a prebuilt artifact and a source directory.
	ErrArtifactSourceConflict = errors.New("wasm path and source dir are mutually exclusive")
)

// =============================================================================
// DeployError
// =============================================================================

// DeployError is the structured failure type for deployment operations.
// Summary is a short human-readable line; Detail carries the raw diagnostic
// text (typically stderr) so callers can show full output on demand.
type DeployError struct {
	Kind    ErrorKind
	Summary string
	Detail  string
	Err     error
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	if e.Summary != "" {
		return e.Summary
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

// Unwrap returns the wrapped cause, if any.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may be retried.
func (e *DeployError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewValidationError creates a validation-kind error.
func NewValidationError(format string, args ...any) *DeployError {
	return &DeployError{
		Kind:    KindValidation,
		Summary: fmt.Sprintf(format, args...),
	}
}

// NewExecutionError creates an execution-kind error wrapping a cause.
func NewExecutionError(summary, detail string, err error) *DeployError {
	return &DeployError{
		Kind:    KindExecution,
		Summary: summary,
		Detail:  detail,
		Err:     err,
	}
}

// NewCancelledError creates a cancelled-kind error.
func NewCancelledError(summary string) *DeployError {
	return &DeployError{
		Kind:    KindCancelled,
		Summary: summary,
	}
}

// AsDeployError extracts a *DeployError from an error chain.
func AsDeployError(err error) (*DeployError, bool) {
	var derr *DeployError
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}
