package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDuplicate is returned when pushing a transaction id already
	// in the queue.
	ErrDuplicate = errors.New("duplicate transaction")

	// ErrQueueFull is returned when a queue is at capacity and nothing
	// can be evicted.
	ErrQueueFull = errors.New("queue full")
)

// Priority bands for outbound transmission.
type Priority uint8

const (
	// PriorityHigh drains before all others.
	PriorityHigh Priority = 0
	// PriorityNormal is the default band.
	PriorityNormal Priority = 1
	// PriorityLow is evicted first under pressure.
	PriorityLow Priority = 2
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority maps a boundary priority string to a band. Empty means
// normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// OutboundItem is one artifact awaiting transmission.
type OutboundItem struct {
	// TransactionID is the hex payload hash.
	TransactionID string `cbor:"1,keyasint"`

	// Payload is the serialized signed transaction.
	Payload []byte `cbor:"2,keyasint"`

	// Priority is the transmission band.
	Priority Priority `cbor:"3,keyasint"`

	// EnqueuedAt is the unix second the item was queued.
	EnqueuedAt int64 `cbor:"4,keyasint"`
}

// DefaultOutboundCapacity bounds the outbound queue.
const DefaultOutboundCapacity = 1000

// Outbound holds artifacts awaiting transmission in three priority
// bands, draining high before normal before low. Safe for concurrent
// use.
type Outbound struct {
	mu      sync.Mutex
	bands   [3][]OutboundItem
	ids     map[string]struct{}
	maxSize int

	// now is swappable for tests.
	now func() time.Time
}

// NewOutbound creates an outbound queue with the given capacity.
// Non-positive capacity uses the default.
func NewOutbound(capacity int) *Outbound {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	return &Outbound{
		ids:     make(map[string]struct{}),
		maxSize: capacity,
		now:     time.Now,
	}
}

// Push queues an item. Duplicate transaction ids are rejected. At
// capacity the oldest low-priority item is evicted to make room; if
// none exists the push fails.
func (q *Outbound) Push(item OutboundItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.ids[item.TransactionID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, item.TransactionID)
	}
	if q.lenLocked() >= q.maxSize {
		low := q.bands[PriorityLow]
		if len(low) == 0 {
			return fmt.Errorf("%w: %d items", ErrQueueFull, q.maxSize)
		}
		dropped := low[0]
		q.bands[PriorityLow] = low[1:]
		delete(q.ids, dropped.TransactionID)
	}

	if item.EnqueuedAt == 0 {
		item.EnqueuedAt = q.now().Unix()
	}
	if item.Priority > PriorityLow {
		item.Priority = PriorityNormal
	}
	q.ids[item.TransactionID] = struct{}{}
	q.bands[item.Priority] = append(q.bands[item.Priority], item)
	return nil
}

// Pop dequeues the next item, highest band first, FIFO within a band.
func (q *Outbound) Pop() (OutboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band := range q.bands {
		if len(q.bands[band]) == 0 {
			continue
		}
		item := q.bands[band][0]
		q.bands[band] = q.bands[band][1:]
		delete(q.ids, item.TransactionID)
		return item, true
	}
	return OutboundItem{}, false
}

// Peek returns the next item without removing it.
func (q *Outbound) Peek() (OutboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band := range q.bands {
		if len(q.bands[band]) > 0 {
			return q.bands[band][0], true
		}
	}
	return OutboundItem{}, false
}

// Contains reports whether a transaction id is queued.
func (q *Outbound) Contains(transactionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[transactionID]
	return ok
}

// Len reports the total queued item count.
func (q *Outbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// LenPriority reports the queued count for one band.
func (q *Outbound) LenPriority(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p > PriorityLow {
		return 0
	}
	return len(q.bands[p])
}

// Clear drops all queued items.
func (q *Outbound) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bands = [3][]OutboundItem{}
	q.ids = make(map[string]struct{})
}

// CleanupStale removes items older than maxAge and returns the count.
func (q *Outbound) CleanupStale(maxAge time.Duration, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-maxAge).Unix()
	removed := 0
	for band := range q.bands {
		kept := q.bands[band][:0]
		for _, item := range q.bands[band] {
			if item.EnqueuedAt < cutoff {
				delete(q.ids, item.TransactionID)
				removed++
				continue
			}
			kept = append(kept, item)
		}
		q.bands[band] = kept
	}
	return removed
}

// items returns all queued items in drain order. Caller holds q.mu.
func (q *Outbound) itemsLocked() []OutboundItem {
	var out []OutboundItem
	for band := range q.bands {
		out = append(out, q.bands[band]...)
	}
	return out
}

func (q *Outbound) lenLocked() int {
	return len(q.bands[0]) + len(q.bands[1]) + len(q.bands[2])
}
