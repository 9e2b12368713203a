package governance

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited is returned by fetchers and the notifier when the
	// upstream signalled 429 / "too many requests".
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrScopeNotFound is returned by fetchers when a configured scope no
	// longer resolves upstream (deleted space, unknown governor).
	ErrScopeNotFound = errors.New("scope not found upstream")
)

// IsRateLimited reports whether err carries a rate-limit signal, either the
// sentinel or the upstream's textual form.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

// RateLimitStatus reports whether an HTTP status code is a rate-limit signal.
func RateLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests
}

// IsTransient reports whether err indicates a failure worth retrying on a
// later pass: timeouts and the usual transport-level failures. Permanent
// errors (bad credentials, invalid scope) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrScopeNotFound) {
		return false
	}

	errStr := err.Error()
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
