package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

var recoverablePatterns = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"overloaded",
	"connection refused",
	"connection reset",
	"eof",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"resource exhausted",
}

var fatalPatterns = []string{
	"unauthorized",
	"invalid api key",
	"permission denied",
	"forbidden",
	"invalid request",
	"model not found",
	"not found",
	"context length",
}

// Classify wraps err as a *framework.ProviderError. Status codes win over
// message heuristics; network and deadline failures are recoverable,
// cancellation is not. Errors that are already classified pass through.
func Classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var pErr *framework.ProviderError
	if errors.As(err, &pErr) {
		return err
	}
	return &framework.ProviderError{
		Provider:    provider,
		StatusCode:  status,
		Recoverable: recoverable(status, err),
		Err:         err,
	}
}

func recoverable(status int, err error) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range recoverablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
