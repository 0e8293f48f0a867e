package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrParseFailure is returned when a file-producing agent yields no file
// blocks even after the strict re-prompt.
var ErrParseFailure = errors.New("model output contained no file blocks")

// ProviderError wraps a completion client failure with its classification.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Recoverable bool
	Err         error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Recoverable {
		kind = "recoverable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (%s, status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a provider error worth retrying.
func IsRecoverable(err error) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Recoverable
	}
	return false
}

// ValidationFailure records critical issues that survived correction. It is
// attached to a step as a non-fatal outcome and never aborts a run by itself.
type ValidationFailure struct {
	Score    int
	Critical []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed with score %d and %d critical issue(s)", e.Score, len(e.Critical))
}

// CorrectionExhausted is returned when the correction ceiling is reached and
// critical issues remain.
type CorrectionExhausted struct {
	Attempts int
	Score    int
	Critical []string
}

func (e *CorrectionExhausted) Error() string {
	return fmt.Sprintf("self-correction exhausted after %d attempt(s); %d critical issue(s) remain: %s",
		e.Attempts, len(e.Critical), strings.Join(e.Critical, "; "))
}

// StepFailure is the terminal error of a run. Hint is shown to the user.
type StepFailure struct {
	Agent string
	Index int
	Err   error
	Hint  string
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index+1, e.Agent, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

// InvalidPathError rejects artifact paths that are empty or escape the root.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid artifact path %q", e.Path)
}

// RemediationHint returns a human-readable next action for err.
func RemediationHint(err error) string {
	var (
		pErr *ProviderError
		cErr *CorrectionExhausted
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The run was cancelled or timed out; start it again when ready."
	case errors.As(err, &pErr) && pErr.Recoverable:
		return "The model provider is temporarily unavailable; retry the run in a moment."
	case errors.As(err, &pErr):
		return "Check the provider credentials, model name and endpoint in the configuration."
	case errors.Is(err, ErrParseFailure):
		return "The model did not return any file blocks; rephrase the request or use a stronger model."
	case errors.As(err, &cErr):
		return "Critical issues remained after self-correction; review them or raise correction.max_attempts."
	default:
		return "Inspect the step output and logs for details."
	}
}
