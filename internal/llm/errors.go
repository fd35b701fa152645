package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoProvider marks the fatal configuration case: the user's primary
// provider is missing or unbuildable, so the turn cannot start.
var ErrNoProvider = errors.New("no provider configured")

// APIError is returned when a provider responds with a non-200 status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsTransportError reports whether err is a transport-level failure:
// network errors, timeouts, and provider-side outages (429/5xx). These are
// the failures where switching to a fallback provider can help. Model-level
// degradation (empty or junk responses) is not a transport error.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// HTTP client errors wrap url.Error; fall back to substring checks the
	// same way timeout classification is done elsewhere in the codebase.
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"timeout",
		"deadline exceeded",
		"eof",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsAuthError reports whether err is an authentication or authorization
// failure. These are not retried and not failed over: a fallback provider
// with the same misconfiguration would fail identically.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}
