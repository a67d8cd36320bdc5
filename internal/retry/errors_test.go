package retry

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "deadline exceeded" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"tagged server", NewError(CategoryServer, errors.New("500")), CategoryServer},
		{"tagged rate limit", NewError(CategoryRateLimit, errors.New("429")), CategoryRateLimit},
		{"wrapped tagged", fmt.Errorf("send: %w", NewError(CategoryTimeout, errors.New("408"))), CategoryTimeout},
		{"net timeout", fakeTimeout{}, CategoryTimeout},
		{"connection refused", syscall.ECONNREFUSED, CategoryNetwork},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), CategoryNetwork},
		{"host unreachable", syscall.EHOSTUNREACH, CategoryNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("no route")}, CategoryNetwork},
		{"plain error", errors.New("validation failed"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []Category{CategoryNetwork, CategoryTimeout, CategoryServer, CategoryRateLimit}
	for _, c := range retryable {
		if !IsRetryable(c) {
			t.Errorf("IsRetryable(%q) = false", c)
		}
	}
	if IsRetryable(CategoryPermanent) {
		t.Error("IsRetryable(permanent) = true")
	}
	if IsRetryable(Category("something_else")) {
		t.Error("IsRetryable of unknown category = true")
	}
}

func TestCategoryErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(CategoryServer, cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if err.Error() != "server_error: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRecoverySuggestionStableAcrossAttempts(t *testing.T) {
	// Guidance depends only on the category.
	first := RecoverySuggestion(CategoryNetwork)
	for i := 0; i < 3; i++ {
		if got := RecoverySuggestion(CategoryNetwork); got != first {
			t.Fatalf("suggestion changed: %q vs %q", got, first)
		}
	}
	if RecoverySuggestion(CategoryPermanent) == first {
		t.Error("permanent and network suggestions identical")
	}
}

func TestDelay(t *testing.T) {
	tests := []struct {
		attempt    int
		base       time.Duration
		multiplier float64
		want       time.Duration
	}{
		{1, time.Second, 2, time.Second},
		{2, time.Second, 2, 2 * time.Second},
		{3, time.Second, 2, 4 * time.Second},
		{4, time.Second, 2, 8 * time.Second},
		{1, 500 * time.Millisecond, 3, 500 * time.Millisecond},
		{3, 500 * time.Millisecond, 3, 4500 * time.Millisecond},
		{0, time.Second, 2, time.Second}, // clamps to the first attempt
	}
	for _, tt := range tests {
		if got := Delay(tt.attempt, tt.base, tt.multiplier); got != tt.want {
			t.Errorf("Delay(%d, %v, %v) = %v, want %v",
				tt.attempt, tt.base, tt.multiplier, got, tt.want)
		}
	}
}
