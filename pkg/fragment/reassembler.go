package fragment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/pollinet/pollinet-go/pkg/log"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

var (
	// ErrIncomplete is returned when not all fragments of a
	// transaction have arrived yet. Callers keep feeding fragments.
	ErrIncomplete = errors.New("reassembly incomplete")

	// ErrCorruptFragment is returned when a fragment's checksum does
	// not match its chunk, or when it conflicts with an already
	// buffered fragment for the same index.
	ErrCorruptFragment = errors.New("corrupt fragment")

	// ErrUnknownTransaction is returned when no reassembly buffer
	// exists for the requested transaction id.
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// DefaultBufferTimeout is how long an idle reassembly buffer is kept
// before CleanupStale evicts it.
const DefaultBufferTimeout = 5 * time.Minute

type buffer struct {
	chunks    map[uint16][]byte
	total     uint16
	firstSeen time.Time
	lastSeen  time.Time
}

func (b *buffer) complete() bool {
	return len(b.chunks) == int(b.total)
}

// Metrics are cumulative reassembler counters.
type Metrics struct {
	ActiveBuffers     int
	FragmentsReceived uint64
	DuplicatesDropped uint64
	CorruptRejected   uint64
	TransactionsBuilt uint64
	BuffersEvicted    uint64
}

// Reassembler reconstructs transaction payloads from fragments arriving
// in any order. It buffers per transaction id and is safe for
// concurrent use.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	metrics Metrics
	logger  log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers: make(map[string]*buffer),
		logger:  log.NoopLogger{},
		now:     time.Now,
	}
}

// SetLogger installs a logger for reassembly events. Pass nil to
// disable logging.
func (r *Reassembler) SetLogger(logger log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	r.logger = logger
}

// Add feeds one fragment into the reassembler. It returns true when the
// fragment completes its transaction, meaning Reconstruct will now
// succeed for that id. Duplicates of an already buffered fragment are
// dropped silently; a fragment that conflicts with buffered state
// (checksum mismatch, differing data or total for the same id) is
// rejected with ErrCorruptFragment.
func (r *Reassembler) Add(f *wire.Fragment) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptFragment, err)
	}
	if crc32.ChecksumIEEE(f.Data) != f.Checksum {
		r.mu.Lock()
		r.metrics.CorruptRejected++
		r.mu.Unlock()
		return false, fmt.Errorf("%w: chunk checksum mismatch at index %d", ErrCorruptFragment, f.Index)
	}

	key := hex.EncodeToString(f.TransactionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[key]
	if !ok {
		b = &buffer{
			chunks:    make(map[uint16][]byte),
			total:     f.Total,
			firstSeen: r.now(),
		}
		r.buffers[key] = b
	}
	b.lastSeen = r.now()

	if f.Total != b.total {
		r.metrics.CorruptRejected++
		return false, fmt.Errorf("%w: total changed from %d to %d", ErrCorruptFragment, b.total, f.Total)
	}

	if existing, seen := b.chunks[f.Index]; seen {
		if !bytes.Equal(existing, f.Data) {
			r.metrics.CorruptRejected++
			return false, fmt.Errorf("%w: conflicting data at index %d", ErrCorruptFragment, f.Index)
		}
		r.metrics.DuplicatesDropped++
		r.logFragment(key, f, false, true)
		return b.complete(), nil
	}

	chunk := make([]byte, len(f.Data))
	copy(chunk, f.Data)
	b.chunks[f.Index] = chunk
	r.metrics.FragmentsReceived++

	done := b.complete()
	r.logFragment(key, f, done, false)
	return done, nil
}

// Reconstruct assembles and returns the payload for a transaction id,
// removing its buffer on success. It returns ErrIncomplete while
// fragments are still missing and ErrCorruptFragment if the assembled
// payload does not hash back to the transaction id.
func (r *Reassembler) Reconstruct(transactionID []byte) ([]byte, error) {
	key := hex.EncodeToString(transactionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, key)
	}
	if !b.complete() {
		return nil, fmt.Errorf("%w: have %d of %d fragments", ErrIncomplete, len(b.chunks), b.total)
	}

	var payload []byte
	for i := uint16(0); i < b.total; i++ {
		payload = append(payload, b.chunks[i]...)
	}

	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], transactionID) {
		delete(r.buffers, key)
		r.metrics.CorruptRejected++
		return nil, fmt.Errorf("%w: reassembled payload hash mismatch", ErrCorruptFragment)
	}

	delete(r.buffers, key)
	r.metrics.TransactionsBuilt++
	return payload, nil
}

// Progress reports how many fragments have arrived for a transaction
// and how many are expected. ok is false when no buffer exists.
func (r *Reassembler) Progress(transactionID []byte) (received, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, found := r.buffers[hex.EncodeToString(transactionID)]
	if !found {
		return 0, 0, false
	}
	return len(b.chunks), int(b.total), true
}

// Drop discards the reassembly buffer for a transaction id, if any.
func (r *Reassembler) Drop(transactionID []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, hex.EncodeToString(transactionID))
}

// CleanupStale evicts buffers idle longer than maxIdle and returns the
// number evicted. A non-positive maxIdle uses DefaultBufferTimeout.
func (r *Reassembler) CleanupStale(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = DefaultBufferTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	evicted := 0
	for key, b := range r.buffers {
		if b.lastSeen.Before(cutoff) {
			delete(r.buffers, key)
			evicted++
		}
	}
	r.metrics.BuffersEvicted += uint64(evicted)
	return evicted
}

// Metrics returns a snapshot of the reassembler counters.
func (r *Reassembler) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	m.ActiveBuffers = len(r.buffers)
	return m
}

// logFragment emits a fragment event. Caller holds r.mu.
func (r *Reassembler) logFragment(key string, f *wire.Fragment, complete, duplicate bool) {
	r.logger.Log(log.Event{
		Timestamp:     r.now(),
		Direction:     log.DirectionIn,
		Layer:         log.LayerFragment,
		TransactionID: key,
		Fragment: &log.FragmentEvent{
			Index:     f.Index,
			Total:     f.Total,
			Size:      len(f.Data),
			Complete:  complete,
			Duplicate: duplicate,
		},
	})
}
