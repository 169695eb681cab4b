package queue

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pollinet/pollinet-go/pkg/wire"
)

// ErrHopsExceeded is returned when a confirmation has used its relay
// budget and must not propagate further.
var ErrHopsExceeded = errors.New("confirmation exceeded max hops")

const (
	// DefaultConfirmationCapacity bounds the confirmation queue.
	DefaultConfirmationCapacity = 500

	// DefaultConfirmationTTL prunes confirmations nobody claimed.
	DefaultConfirmationTTL = time.Hour

	// DefaultMaxHops is the relay budget for one confirmation.
	DefaultMaxHops = 5
)

// ConfirmationItem wraps a confirmation frame with its enqueue time.
type ConfirmationItem struct {
	Confirmation wire.Confirmation `cbor:"1,keyasint"`
	EnqueuedAt   int64             `cbor:"2,keyasint"`
}

// Confirmations is a FIFO queue of submission outcomes awaiting relay
// toward the originating device. Safe for concurrent use.
type Confirmations struct {
	mu      sync.Mutex
	items   []ConfirmationItem
	maxSize int
	ttl     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewConfirmations creates a confirmation queue. Non-positive capacity
// or TTL use the defaults.
func NewConfirmations(capacity int, ttl time.Duration) *Confirmations {
	if capacity <= 0 {
		capacity = DefaultConfirmationCapacity
	}
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &Confirmations{
		maxSize: capacity,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Push queues a confirmation for relay. Confirmations that already
// used their hop budget are rejected; at capacity the oldest entry is
// dropped to keep fresh outcomes flowing.
func (q *Confirmations) Push(c wire.Confirmation) error {
	if c.MaxHops == 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.RelayCount >= c.MaxHops {
		return fmt.Errorf("%w: %d of %d", ErrHopsExceeded, c.RelayCount, c.MaxHops)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		q.items = q.items[1:]
	}
	q.items = append(q.items, ConfirmationItem{
		Confirmation: c,
		EnqueuedAt:   q.now().Unix(),
	})
	return nil
}

// Pop dequeues the oldest confirmation and increments its relay count.
func (q *Confirmations) Pop() (wire.Confirmation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return wire.Confirmation{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	item.Confirmation.RelayCount++
	return item.Confirmation, true
}

// Remove deletes every queued confirmation for a transaction id and
// returns the count removed. Called when the outcome reaches its
// origin and further relay is pointless.
func (q *Confirmations) Remove(transactionID []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	target := hex.EncodeToString(transactionID)
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if hex.EncodeToString(item.Confirmation.TransactionID) == target {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// CleanupExpired prunes confirmations older than the TTL and returns
// the count removed.
func (q *Confirmations) CleanupExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.ttl).Unix()
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.EnqueuedAt < cutoff {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len reports the queued confirmation count.
func (q *Confirmations) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all queued confirmations.
func (q *Confirmations) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
