package queue

import (
	"sort"
	"sync"
	"time"
)

// BackoffKind selects how retry delays grow with attempts.
type BackoffKind uint8

const (
	// BackoffExponential doubles the base delay per attempt, capped.
	BackoffExponential BackoffKind = 0
	// BackoffLinear grows the delay by the base per attempt.
	BackoffLinear BackoffKind = 1
	// BackoffFixed retries at a constant interval.
	BackoffFixed BackoffKind = 2
)

// maxExponent caps exponential growth (base * 2^6 at most).
const maxExponent = 6

// Backoff computes retry delays.
type Backoff struct {
	Kind BackoffKind   `cbor:"1,keyasint"`
	Base time.Duration `cbor:"2,keyasint"`
}

// DefaultBackoff doubles from two seconds, capping at 128s.
func DefaultBackoff() Backoff {
	return Backoff{Kind: BackoffExponential, Base: 2 * time.Second}
}

// Delay returns the wait before the given attempt (0-based).
// Non-decreasing in the attempt count for every kind.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch b.Kind {
	case BackoffLinear:
		return b.Base * time.Duration(attempt+1)
	case BackoffFixed:
		return b.Base
	default:
		exp := attempt
		if exp > maxExponent {
			exp = maxExponent
		}
		return b.Base * (1 << exp)
	}
}

// RetryItem is one artifact awaiting another submission attempt.
type RetryItem struct {
	// TransactionID is the hex payload hash.
	TransactionID string `cbor:"1,keyasint"`

	// Payload is the serialized signed transaction.
	Payload []byte `cbor:"2,keyasint"`

	// Attempts counts submissions already made.
	Attempts int `cbor:"3,keyasint"`

	// LastError is the most recent failure message.
	LastError string `cbor:"4,keyasint,omitempty"`

	// FirstQueuedAt bounds the item's absolute age (unix seconds).
	FirstQueuedAt int64 `cbor:"5,keyasint"`

	// NextEligibleAt is when the item may be retried (unix seconds).
	NextEligibleAt int64 `cbor:"6,keyasint"`
}

const (
	// DefaultMaxRetries bounds attempts per item.
	DefaultMaxRetries = 5

	// DefaultRetryMaxAge expires items regardless of attempts.
	DefaultRetryMaxAge = 24 * time.Hour
)

// Retry holds failed artifacts ordered by next-eligible time. Safe for
// concurrent use.
type Retry struct {
	mu         sync.Mutex
	items      []RetryItem
	backoff    Backoff
	maxRetries int
	maxAge     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewRetry creates a retry queue with the given backoff. Zero maxRetries
// uses the default.
func NewRetry(backoff Backoff, maxRetries int) *Retry {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoff.Base <= 0 {
		backoff = DefaultBackoff()
	}
	return &Retry{
		backoff:    backoff,
		maxRetries: maxRetries,
		maxAge:     DefaultRetryMaxAge,
		now:        time.Now,
	}
}

// Add schedules an item for retry. The next-eligible time is now plus
// the backoff for the item's attempt count, after which the count is
// incremented. Items carry their first-queued time across re-adds.
func (q *Retry) Add(item RetryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if item.FirstQueuedAt == 0 {
		item.FirstQueuedAt = now.Unix()
	}
	item.NextEligibleAt = now.Add(q.backoff.Delay(item.Attempts)).Unix()
	item.Attempts++

	q.items = append(q.items, item)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].NextEligibleAt < q.items[j].NextEligibleAt
	})
}

// Reinsert returns a popped item to the queue unchanged. Unlike Add it
// keeps the attempt count and eligible time, for items that could not
// be acted on through no fault of their own.
func (q *Retry) Reinsert(item RetryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].NextEligibleAt < q.items[j].NextEligibleAt
	})
}

// PopReady removes and returns the earliest item whose eligible time
// has passed.
func (q *Retry) PopReady(now time.Time) (RetryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.items[0].NextEligibleAt > now.Unix() {
		return RetryItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// NextRetryAt returns when the earliest item becomes eligible.
func (q *Retry) NextRetryAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return time.Unix(q.items[0].NextEligibleAt, 0), true
}

// ShouldGiveUp reports whether an item has exhausted its attempts or
// outlived the absolute TTL.
func (q *Retry) ShouldGiveUp(item RetryItem, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.Attempts >= q.maxRetries {
		return true
	}
	return now.Sub(time.Unix(item.FirstQueuedAt, 0)) > q.maxAge
}

// CleanupExpired removes items past the absolute TTL and returns the
// count removed.
func (q *Retry) CleanupExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.maxAge).Unix()
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.FirstQueuedAt < cutoff {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len reports the queued item count.
func (q *Retry) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all queued items.
func (q *Retry) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
