package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/calyptra/tether/internal/logging"
)

// Callback re-executes the failed operation with its original payload.
// It is invoked from a timer goroutine; returning nil discards the item.
type Callback func(payload any) error

// Config contains Queue tunables. Zero values fall back to the defaults
// documented on each field.
type Config struct {
	// MaxRetries bounds the attempts per item. Default: 3.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt:
	// delay(n) = BaseDelay * Multiplier^(n-1). Default: 2.
	Multiplier float64

	// Logger overrides the default retry component logger.
	Logger *slog.Logger
}

// Attempt records one retry attempt for an item.
type Attempt struct {
	Number      int       `json:"number"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
}

// Item is a read-only snapshot of a tracked item's retry state.
type Item struct {
	ID            string     `json:"id"`
	Payload       any        `json:"payload"`
	Category      Category   `json:"category"`
	Attempts      []Attempt  `json:"attempts"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	IsRetrying    bool       `json:"is_retrying"`
	CanRetry      bool       `json:"can_retry"`
}

// item is the mutable tracked state. All fields are guarded by Queue.mu.
type item struct {
	payload       any
	category      Category
	attempts      []Attempt
	lastAttemptAt time.Time
	nextRetryAt   *time.Time
	isRetrying    bool
	canRetry      bool
	timer         *time.Timer
}

// Queue tracks individual failed operations and retries them autonomously
// with exponential backoff. At most one attempt per item id is in flight at
// any time; different ids retry independently and concurrently, with no
// global cap (retries are sparse, user-triggered operations, not bulk
// traffic). The Queue never returns errors from the retry path: exhaustion
// is a queryable state, not an exception.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	items map[string]*item
}

// New creates a Queue with the given configuration.
func New(cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Retry()
	}
	return &Queue{
		cfg:    cfg,
		logger: logger,
		items:  make(map[string]*item),
	}
}

// Delay returns the backoff before retry attempt n (1-based):
// BaseDelay * Multiplier^(n-1). Pure function, no jitter, so scheduling is
// independently testable. There is no explicit delay ceiling; growth is
// bounded by MaxRetries instead.
func Delay(attempt int, base time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= multiplier
	}
	return time.Duration(d)
}

// Register reports a failed operation and schedules its next retry. The id
// must be stable across retries of the same logical operation. It returns
// false, scheduling nothing, when cause is not retryable or the item has
// already spent MaxRetries attempts.
func (q *Queue) Register(id string, payload any, cause error, cb Callback) bool {
	category := Classify(cause)
	if !IsRetryable(category) {
		q.logger.Debug("error not retryable", "item_id", id, "category", category)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	it := q.items[id]
	if it == nil {
		it = &item{}
		q.items[id] = it
	}

	attemptNumber := len(it.attempts) + 1
	if attemptNumber > q.cfg.MaxRetries {
		it.canRetry = false
		it.nextRetryAt = nil
		q.logger.Info("retries exhausted", "item_id", id, "attempts", len(it.attempts))
		return false
	}

	q.scheduleLocked(id, it, payload, category, cause, cb)
	return true
}

// scheduleLocked appends the attempt record and arms the retry timer.
// Caller must hold q.mu.
func (q *Queue) scheduleLocked(id string, it *item, payload any, category Category, cause error, cb Callback) {
	attemptNumber := len(it.attempts) + 1
	delay := Delay(attemptNumber, q.cfg.BaseDelay, q.cfg.Multiplier)
	now := time.Now()
	next := now.Add(delay)

	it.payload = payload
	it.category = category
	it.attempts = append(it.attempts, Attempt{
		Number:      attemptNumber,
		Timestamp:   now,
		Error:       cause.Error(),
		NextRetryAt: next,
	})
	it.lastAttemptAt = now
	it.nextRetryAt = &next
	it.canRetry = true
	it.timer = time.AfterFunc(delay, func() {
		q.run(id, cb)
	})

	q.logger.Debug("retry scheduled",
		"item_id", id, "attempt", attemptNumber, "delay", delay, "category", category)
}

// run executes one retry attempt for id. On success the item is discarded
// entirely; on a retryable failure with attempts remaining it reschedules;
// otherwise the item stays queryable with CanRetry=false.
func (q *Queue) run(id string, cb Callback) {
	q.mu.Lock()
	it := q.items[id]
	if it == nil || !it.canRetry || it.isRetrying {
		q.mu.Unlock()
		return
	}
	it.isRetrying = true
	it.timer = nil
	it.nextRetryAt = nil
	payload := it.payload
	q.mu.Unlock()

	err := cb(payload)

	q.mu.Lock()
	defer q.mu.Unlock()

	// The item may have been cancelled or cleared while the callback ran.
	it = q.items[id]
	if it == nil {
		return
	}
	it.isRetrying = false

	if err == nil {
		delete(q.items, id)
		q.logger.Info("retry succeeded", "item_id", id, "attempts", len(it.attempts))
		return
	}

	category := Classify(err)
	if !it.canRetry || !IsRetryable(category) || len(it.attempts)+1 > q.cfg.MaxRetries {
		it.canRetry = false
		it.nextRetryAt = nil
		it.attempts = append(it.attempts, Attempt{
			Number:    len(it.attempts) + 1,
			Timestamp: time.Now(),
			Error:     err.Error(),
		})
		it.lastAttemptAt = time.Now()
		it.category = category
		q.logger.Warn("retry failed permanently",
			"item_id", id, "attempts", len(it.attempts), "category", category)
		return
	}

	q.scheduleLocked(id, it, payload, category, err, cb)
}

// ManualRetry runs the retry path for id immediately, bypassing the
// scheduled delay. It is allowed only when the item can still retry and no
// attempt is in flight; otherwise it reports false.
func (q *Queue) ManualRetry(id string, cb Callback) bool {
	q.mu.Lock()
	it := q.items[id]
	if it == nil || !it.canRetry || it.isRetrying {
		q.mu.Unlock()
		return false
	}
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	q.mu.Unlock()

	q.run(id, cb)
	return true
}

// CancelRetry clears the pending timer for id and marks the item
// non-retryable, keeping its history queryable. Calling it twice, or for an
// unknown id, is a no-op.
func (q *Queue) CancelRetry(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := q.items[id]
	if it == nil {
		return
	}
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	it.canRetry = false
	it.nextRetryAt = nil
	q.logger.Debug("retry cancelled", "item_id", id)
}

// ClearRetryInfo deletes the item and all its history.
func (q *Queue) ClearRetryInfo(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := q.items[id]
	if it == nil {
		return
	}
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	delete(q.items, id)
}

// RetryState returns a snapshot of the item's retry state for UI display.
func (q *Queue) RetryState(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it := q.items[id]
	if it == nil {
		return Item{}, false
	}
	return q.snapshotLocked(id, it), true
}

// ActiveRetries returns snapshots of every tracked item.
func (q *Queue) ActiveRetries() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for id, it := range q.items {
		out = append(out, q.snapshotLocked(id, it))
	}
	return out
}

// Len returns the number of tracked items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop cancels every pending timer and drops all items. Used at session
// teardown; a stopped Queue can still accept new registrations.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, it := range q.items {
		if it.timer != nil {
			it.timer.Stop()
			it.timer = nil
		}
		delete(q.items, id)
	}
}

// snapshotLocked copies an item for external consumption. Caller must hold q.mu.
func (q *Queue) snapshotLocked(id string, it *item) Item {
	snap := Item{
		ID:            id,
		Payload:       it.payload,
		Category:      it.category,
		Attempts:      append([]Attempt(nil), it.attempts...),
		LastAttemptAt: it.lastAttemptAt,
		IsRetrying:    it.isRetrying,
		CanRetry:      it.canRetry,
	}
	if it.nextRetryAt != nil {
		t := *it.nextRetryAt
		snap.NextRetryAt = &t
	}
	return snap
}
