// Package retry provides a per-item retry queue with exponential backoff for
// request/response operations that fail transiently. It is independent of
// the realtime transport: callers hand it a failed operation's id, payload
// and error, plus a callback that re-executes the operation, and the queue
// schedules bounded retries on its own timers.
package retry

import (
	"errors"
	"net"
	"syscall"
)

// Category classifies an operation error for retry purposes. The retryable
// set is closed; anything that does not classify into it is permanent and is
// never scheduled.
type Category string

const (
	// CategoryNetwork means no connectivity or an unreachable host.
	CategoryNetwork Category = "network_error"
	// CategoryTimeout means the operation exceeded its time budget.
	CategoryTimeout Category = "timeout_error"
	// CategoryServer means a 5xx-equivalent backend failure.
	CategoryServer Category = "server_error"
	// CategoryRateLimit means the backend throttled the operation.
	CategoryRateLimit Category = "rate_limit_error"
	// CategoryPermanent is the catch-all for errors that are never retried:
	// validation, auth, not-found, and anything unclassified.
	CategoryPermanent Category = "permanent"
)

// CategoryError tags an underlying error with an explicit retry category.
// Collaborators (e.g. the HTTP request layer) wrap their failures in one of
// these so classification does not depend on error-string matching.
type CategoryError struct {
	Category Category
	Err      error
}

func (e *CategoryError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *CategoryError) Unwrap() error { return e.Err }

// NewError wraps err with an explicit retry category.
func NewError(category Category, err error) *CategoryError {
	return &CategoryError{Category: category, Err: err}
}

// Classify determines the retry category of an error. Explicitly tagged
// errors win; otherwise net.Error timeouts and common connectivity errnos
// are recognized. Everything else is permanent.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var tagged *CategoryError
	if errors.As(err, &tagged) {
		return tagged.Category
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return CategoryNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork
	}

	return CategoryPermanent
}

// IsRetryable reports whether the category is in the retryable set.
func IsRetryable(c Category) bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryServer, CategoryRateLimit:
		return true
	}
	return false
}

// RecoverySuggestion returns user-facing guidance for an error category.
// It depends only on the category, never on the retry delay state.
func RecoverySuggestion(c Category) string {
	switch c {
	case CategoryNetwork:
		return "Check your internet connection and try again."
	case CategoryTimeout:
		return "The request took too long. It will be retried automatically."
	case CategoryServer:
		return "The service hit a temporary problem. It will be retried automatically."
	case CategoryRateLimit:
		return "Too many requests. Waiting a moment before retrying."
	default:
		return "This request cannot be retried. Please review it and send again."
	}
}
