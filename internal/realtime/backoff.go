package realtime

import (
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the first reconnect delay.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the exponential reconnect backoff.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many consecutive reconnects are
	// attempted before giving up until the caller reconnects manually.
	DefaultMaxReconnectAttempts = 5

	// jitterCeiling bounds the random jitter added to every reconnect delay.
	jitterCeiling = 1 * time.Second
)

// ReconnectDelay returns the backoff delay before reconnect attempt number
// attempt (0-based: the first reconnect uses attempt=0). The result is
// min(base * 2^attempt, max), without jitter, so it is deterministic and
// unit-testable; callers add jitter separately before arming a timer.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// reconnectJitter returns a random duration in [0, jitterCeiling) to spread
// reconnect storms from many clients hitting the same server.
func reconnectJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(jitterCeiling)))
}
