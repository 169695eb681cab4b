package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pollinet/pollinet-go/pkg/log"
	"github.com/pollinet/pollinet-go/pkg/storage"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

// SnapshotVersion is the current version of the persisted queue state.
const SnapshotVersion = 1

// snapshotKey is where the manager persists its state.
var snapshotKey = []byte("queue/state")

// DefaultSaveInterval debounces persistence: bursts of mutations
// within the interval produce a single save.
const DefaultSaveInterval = 5 * time.Second

// snapshot is the persisted form of all four queues.
type snapshot struct {
	Version       int                `cbor:"1,keyasint"`
	SavedAt       int64              `cbor:"2,keyasint"`
	Outbound      []OutboundItem     `cbor:"3,keyasint,omitempty"`
	Retry         []RetryItem        `cbor:"4,keyasint,omitempty"`
	Confirmations []ConfirmationItem `cbor:"5,keyasint,omitempty"`
	Received      []ReceivedItem     `cbor:"6,keyasint,omitempty"`
}

// Config sizes the queues and their timers. Zero values are corrected
// to defaults.
type Config struct {
	OutboundCapacity     int
	ConfirmationCapacity int
	MaxRetries           int
	Backoff              Backoff
	ConfirmationTTL      time.Duration
	SubmittedTTL         time.Duration
	SaveInterval         time.Duration
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		OutboundCapacity:     DefaultOutboundCapacity,
		ConfirmationCapacity: DefaultConfirmationCapacity,
		MaxRetries:           DefaultMaxRetries,
		Backoff:              DefaultBackoff(),
		ConfirmationTTL:      DefaultConfirmationTTL,
		SubmittedTTL:         DefaultSubmittedTTL,
		SaveInterval:         DefaultSaveInterval,
	}
}

// Manager composes the four queues over one storage backend.
// In-memory state is authoritative; persistence failures are reported
// but never corrupt the queues.
type Manager struct {
	Outbound      *Outbound
	Retry         *Retry
	Confirmations *Confirmations
	Received      *Received

	db     storage.Database
	logger log.Logger

	mu       sync.Mutex
	dirty    bool
	lastSave time.Time
	interval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates queues per cfg, persisting to db. A nil db
// disables persistence.
func NewManager(cfg Config, db storage.Database) *Manager {
	interval := cfg.SaveInterval
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &Manager{
		Outbound:      NewOutbound(cfg.OutboundCapacity),
		Retry:         NewRetry(cfg.Backoff, cfg.MaxRetries),
		Confirmations: NewConfirmations(cfg.ConfirmationCapacity, cfg.ConfirmationTTL),
		Received:      NewReceived(cfg.SubmittedTTL),
		db:            db,
		logger:        log.NoopLogger{},
		interval:      interval,
		now:           time.Now,
	}
}

// SetLogger installs a logger for queue events. Pass nil to disable.
func (m *Manager) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	m.logger = logger
}

// MarkDirty flags that queue state changed since the last save.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
}

// AutoSave persists state if it is dirty and the debounce interval has
// elapsed. Reports whether a save happened.
func (m *Manager) AutoSave() (bool, error) {
	m.mu.Lock()
	if m.db == nil || !m.dirty || m.now().Sub(m.lastSave) < m.interval {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	if err := m.ForceSave(); err != nil {
		return false, err
	}
	return true, nil
}

// ForceSave persists state unconditionally. The snapshot is written
// under a single key, so the save is all-or-nothing.
func (m *Manager) ForceSave() error {
	if m.db == nil {
		return nil
	}

	snap := snapshot{
		Version: SnapshotVersion,
		SavedAt: m.now().Unix(),
	}
	m.Outbound.mu.Lock()
	snap.Outbound = m.Outbound.itemsLocked()
	m.Outbound.mu.Unlock()
	m.Retry.mu.Lock()
	snap.Retry = append([]RetryItem(nil), m.Retry.items...)
	m.Retry.mu.Unlock()
	m.Confirmations.mu.Lock()
	snap.Confirmations = append([]ConfirmationItem(nil), m.Confirmations.items...)
	m.Confirmations.mu.Unlock()
	m.Received.mu.Lock()
	snap.Received = append([]ReceivedItem(nil), m.Received.items...)
	m.Received.mu.Unlock()

	data, err := wire.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode queue snapshot: %w", err)
	}
	if err := m.db.Put(snapshotKey, data); err != nil {
		return fmt.Errorf("failed to save queue snapshot: %w", err)
	}

	m.mu.Lock()
	m.dirty = false
	m.lastSave = m.now()
	m.mu.Unlock()

	m.logQueueOp("all", "save", len(snap.Outbound)+len(snap.Retry)+len(snap.Confirmations)+len(snap.Received))
	return nil
}

// Load replays a persisted snapshot into the queues, reconstructing
// contents and ordering. Missing state leaves the queues empty.
func (m *Manager) Load() error {
	if m.db == nil {
		return nil
	}

	data, err := m.db.Get(snapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue snapshot: %w", err)
	}

	var snap snapshot
	if err := wire.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("unsupported queue snapshot version %d", snap.Version)
	}

	m.Outbound.mu.Lock()
	m.Outbound.bands = [3][]OutboundItem{}
	m.Outbound.ids = make(map[string]struct{})
	for _, item := range snap.Outbound {
		if item.Priority > PriorityLow {
			item.Priority = PriorityNormal
		}
		m.Outbound.bands[item.Priority] = append(m.Outbound.bands[item.Priority], item)
		m.Outbound.ids[item.TransactionID] = struct{}{}
	}
	m.Outbound.mu.Unlock()

	// Retry items keep their scheduled times; re-adding would reset
	// the backoff clock.
	m.Retry.mu.Lock()
	m.Retry.items = append([]RetryItem(nil), snap.Retry...)
	m.Retry.mu.Unlock()

	m.Confirmations.mu.Lock()
	m.Confirmations.items = append([]ConfirmationItem(nil), snap.Confirmations...)
	m.Confirmations.mu.Unlock()

	m.Received.mu.Lock()
	m.Received.items = append([]ReceivedItem(nil), snap.Received...)
	m.Received.ids = make(map[string]struct{})
	for _, item := range snap.Received {
		m.Received.ids[item.TransactionID] = struct{}{}
	}
	m.Received.mu.Unlock()

	m.logQueueOp("all", "load", len(snap.Outbound)+len(snap.Retry)+len(snap.Confirmations)+len(snap.Received))
	return nil
}

// Cleanup runs every TTL-based prune and returns the total removed.
// Marks state dirty when anything was pruned.
func (m *Manager) Cleanup(now time.Time) int {
	removed := m.Retry.CleanupExpired(now)
	removed += m.Confirmations.CleanupExpired(now)
	m.Received.CleanupOldSubmissions()
	if removed > 0 {
		m.MarkDirty()
	}
	return removed
}

// Metrics snapshots queue depths.
type Metrics struct {
	OutboundDepth      int
	OutboundHigh       int
	OutboundNormal     int
	OutboundLow        int
	RetryDepth         int
	ConfirmationsDepth int
	ReceivedDepth      int
}

// Metrics reports current queue depths.
func (m *Manager) Metrics() Metrics {
	return Metrics{
		OutboundDepth:      m.Outbound.Len(),
		OutboundHigh:       m.Outbound.LenPriority(PriorityHigh),
		OutboundNormal:     m.Outbound.LenPriority(PriorityNormal),
		OutboundLow:        m.Outbound.LenPriority(PriorityLow),
		RetryDepth:         m.Retry.Len(),
		ConfirmationsDepth: m.Confirmations.Len(),
		ReceivedDepth:      m.Received.Len(),
	}
}

// logQueueOp emits a queue event.
func (m *Manager) logQueueOp(queue, op string, depth int) {
	m.logger.Log(log.Event{
		Timestamp: m.now(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerQueue,
		Queue: &log.QueueEvent{
			Queue: queue,
			Op:    op,
			Depth: depth,
		},
	})
}
