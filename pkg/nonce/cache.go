package nonce

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pollinet/pollinet-go/pkg/log"
)

// DefaultReservationTimeout is how long an entry stays reserved before
// Tick reverts it to available.
const DefaultReservationTimeout = 30 * time.Second

var (
	// ErrNoNonceAvailable is returned when no entry is free to reserve.
	ErrNoNonceAvailable = errors.New("no nonce account available")

	// ErrUnknownAccount is returned when releasing or consuming an
	// account the cache has never seen.
	ErrUnknownAccount = errors.New("unknown nonce account")

	// ErrNotReserved is returned when releasing or consuming an entry
	// that is not currently reserved.
	ErrNotReserved = errors.New("nonce account not reserved")
)

// State tracks an entry through its lifecycle.
type State uint8

const (
	// StateAvailable means the entry can be handed out.
	StateAvailable State = 0
	// StateReserved means a builder holds the entry.
	StateReserved State = 1
	// StateConsumed means the entry's nonce was embedded in a
	// transaction and must be refreshed before reuse.
	StateConsumed State = 2
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAvailable:
		return "AVAILABLE"
	case StateReserved:
		return "RESERVED"
	case StateConsumed:
		return "CONSUMED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one cached durable-nonce account.
type Entry struct {
	// Account is the nonce account address (base58).
	Account string `json:"account"`

	// Authority is the key allowed to advance the nonce (base58).
	Authority string `json:"authority"`

	// Blockhash is the durable nonce value stored in the account.
	Blockhash string `json:"blockhash"`

	// LamportsPerSignature is the fee rate captured with the nonce.
	LamportsPerSignature uint64 `json:"lamports_per_signature"`

	// CachedAt is when this value was fetched.
	CachedAt time.Time `json:"cached_at"`

	// State is the entry's lifecycle state.
	State State `json:"state"`

	// Stale marks the entry as needing a re-fetch before use.
	Stale bool `json:"stale,omitempty"`

	// ReservedUntil is the reservation deadline, set while reserved.
	ReservedUntil time.Time `json:"reserved_until,omitempty"`
}

// Counts summarizes cache occupancy by state.
type Counts struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Consumed  int `json:"consumed"`
	Stale     int `json:"stale"`
}

// Cache holds durable-nonce entries keyed by account address.
// All methods are safe for concurrent use.
type Cache struct {
	mu                 sync.Mutex
	entries            map[string]*Entry
	reservationTimeout time.Duration
	logger             log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates an empty cache with the default reservation timeout.
func NewCache() *Cache {
	return &Cache{
		entries:            make(map[string]*Entry),
		reservationTimeout: DefaultReservationTimeout,
		logger:             log.NoopLogger{},
		now:                time.Now,
	}
}

// SetReservationTimeout overrides the reservation timeout. Non-positive
// values restore the default.
func (c *Cache) SetReservationTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = DefaultReservationTimeout
	}
	c.reservationTimeout = d
}

// SetLogger installs a logger for cache events. Pass nil to disable.
func (c *Cache) SetLogger(logger log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	c.logger = logger
}

// Cache upserts a batch of entries. An upsert overwrites the stored
// blockhash and fee rate and returns the entry to the available state,
// clearing any stale mark. Reserved entries are not disturbed.
func (c *Cache) Cache(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := range entries {
		e := entries[i]
		if e.Account == "" {
			continue
		}
		existing, ok := c.entries[e.Account]
		if ok && existing.State == StateReserved {
			continue
		}
		if e.CachedAt.IsZero() {
			e.CachedAt = now
		}
		e.State = StateAvailable
		e.Stale = false
		e.ReservedUntil = time.Time{}
		c.entries[e.Account] = &e
		c.logEvent(e.Account, "cache")
	}
}

// NextAvailable reserves and returns the oldest available entry.
// The returned entry is a copy; the caller must later Release or
// Consume it by account address.
func (c *Cache) NextAvailable() (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldest *Entry
	for _, e := range c.entries {
		if e.State != StateAvailable || e.Stale {
			continue
		}
		if oldest == nil || e.CachedAt.Before(oldest.CachedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return Entry{}, ErrNoNonceAvailable
	}

	oldest.State = StateReserved
	oldest.ReservedUntil = c.now().Add(c.reservationTimeout)
	c.logEvent(oldest.Account, "reserve")
	return *oldest, nil
}

// Release returns a reserved entry to the available pool.
func (c *Cache) Release(account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if e.State != StateReserved {
		return fmt.Errorf("%w: %s is %s", ErrNotReserved, account, e.State)
	}
	e.State = StateAvailable
	e.ReservedUntil = time.Time{}
	c.logEvent(account, "release")
	return nil
}

// Consume marks a reserved entry as used. The entry remains in the
// cache until a later Cache call refreshes it with new nonce state.
func (c *Cache) Consume(account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if e.State != StateReserved {
		return fmt.Errorf("%w: %s is %s", ErrNotReserved, account, e.State)
	}
	e.State = StateConsumed
	e.ReservedUntil = time.Time{}
	c.logEvent(account, "consume")
	return nil
}

// MarkAllStale flags every non-consumed entry as needing a re-fetch.
// Stale entries are skipped by NextAvailable until refreshed.
func (c *Cache) MarkAllStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.State == StateConsumed {
			continue
		}
		e.Stale = true
	}
}

// Tick reverts reservations whose deadline has passed and returns the
// number reverted.
func (c *Cache) Tick(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reverted := 0
	for _, e := range c.entries {
		if e.State == StateReserved && now.After(e.ReservedUntil) {
			e.State = StateAvailable
			e.ReservedUntil = time.Time{}
			reverted++
			c.logEvent(e.Account, "expire")
		}
	}
	return reverted
}

// Counts reports cache occupancy by state.
func (c *Cache) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countsLocked()
}

// Entries returns a copy of all cached entries.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Get returns a copy of one entry by account address.
func (c *Cache) Get(account string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[account]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// countsLocked tallies states. Caller holds c.mu.
func (c *Cache) countsLocked() Counts {
	var n Counts
	for _, e := range c.entries {
		switch e.State {
		case StateAvailable:
			n.Available++
		case StateReserved:
			n.Reserved++
		case StateConsumed:
			n.Consumed++
		}
		if e.Stale {
			n.Stale++
		}
	}
	return n
}

// logEvent emits a nonce event. Caller holds c.mu.
func (c *Cache) logEvent(account, op string) {
	n := c.countsLocked()
	c.logger.Log(log.Event{
		Timestamp: c.now(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerTransaction,
		Nonce: &log.NonceEvent{
			Account:   account,
			Op:        op,
			Available: n.Available,
		},
	})
}
