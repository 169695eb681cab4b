package queue

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ReceivedItem is one reassembled inbound artifact awaiting host
// action (submit on-chain or forward deeper into the mesh).
type ReceivedItem struct {
	// TransactionID is the hex payload hash.
	TransactionID string `cbor:"1,keyasint"`

	// Payload is the reassembled serialized transaction.
	Payload []byte `cbor:"2,keyasint"`

	// PeerID is the mesh peer the last fragment arrived from.
	PeerID string `cbor:"3,keyasint,omitempty"`

	// ReceivedAt is the unix second reassembly completed.
	ReceivedAt int64 `cbor:"4,keyasint"`
}

// DefaultSubmittedTTL is how long submitted transaction ids are
// remembered for duplicate suppression.
const DefaultSubmittedTTL = time.Hour

// Received holds reassembled inbound artifacts. Ids the host already
// submitted stay in a TTL cache so late-arriving duplicates from other
// mesh paths are dropped instead of resubmitted. Safe for concurrent
// use.
type Received struct {
	mu        sync.Mutex
	items     []ReceivedItem
	ids       map[string]struct{}
	submitted *gocache.Cache

	// now is swappable for tests.
	now func() time.Time
}

// NewReceived creates a received queue remembering submissions for the
// given TTL. Non-positive TTL uses the default.
func NewReceived(submittedTTL time.Duration) *Received {
	if submittedTTL <= 0 {
		submittedTTL = DefaultSubmittedTTL
	}
	return &Received{
		ids:       make(map[string]struct{}),
		submitted: gocache.New(submittedTTL, submittedTTL),
		now:       time.Now,
	}
}

// Push queues a reassembled artifact. Duplicates of queued or recently
// submitted transaction ids are rejected.
func (q *Received) Push(item ReceivedItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.ids[item.TransactionID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, item.TransactionID)
	}
	if _, submitted := q.submitted.Get(item.TransactionID); submitted {
		return fmt.Errorf("%w: %s already submitted", ErrDuplicate, item.TransactionID)
	}

	if item.ReceivedAt == 0 {
		item.ReceivedAt = q.now().Unix()
	}
	q.ids[item.TransactionID] = struct{}{}
	q.items = append(q.items, item)
	return nil
}

// Pop dequeues the oldest pending artifact.
func (q *Received) Pop() (ReceivedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return ReceivedItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.ids, item.TransactionID)
	return item, true
}

// MarkSubmitted records that the host submitted a transaction id,
// removing it from the pending queue if still there and remembering it
// for duplicate suppression.
func (q *Received) MarkSubmitted(transactionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, pending := q.ids[transactionID]; pending {
		kept := q.items[:0]
		for _, item := range q.items {
			if item.TransactionID == transactionID {
				continue
			}
			kept = append(kept, item)
		}
		q.items = kept
		delete(q.ids, transactionID)
	}
	q.submitted.SetDefault(transactionID, struct{}{})
}

// WasSubmitted reports whether a transaction id was recently submitted.
func (q *Received) WasSubmitted(transactionID string) bool {
	_, ok := q.submitted.Get(transactionID)
	return ok
}

// CleanupOldSubmissions evicts expired submission records and returns
// the number still remembered.
func (q *Received) CleanupOldSubmissions() int {
	q.submitted.DeleteExpired()
	return q.submitted.ItemCount()
}

// CleanupStale removes pending artifacts older than maxAge and returns
// the count removed.
func (q *Received) CleanupStale(maxAge time.Duration, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-maxAge).Unix()
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.ReceivedAt < cutoff {
			delete(q.ids, item.TransactionID)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len reports the pending artifact count.
func (q *Received) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops pending artifacts and forgets submissions.
func (q *Received) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.ids = make(map[string]struct{})
	q.submitted.Flush()
}
