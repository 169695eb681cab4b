// Package engine exposes the relay as handle-addressed sessions. A
// session owns its nonce cache, artifact store, queues, reassembler
// and health monitor; sessions are fully independent of each other.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pollinet/pollinet-go/pkg/config"
	"github.com/pollinet/pollinet-go/pkg/fragment"
	"github.com/pollinet/pollinet-go/pkg/log"
	"github.com/pollinet/pollinet-go/pkg/nonce"
	"github.com/pollinet/pollinet-go/pkg/queue"
	"github.com/pollinet/pollinet-go/pkg/storage"
	"github.com/pollinet/pollinet-go/pkg/txn"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

var (
	// ErrInvalidHandle is returned for zero, negative, unknown or
	// already closed session handles.
	ErrInvalidHandle = errors.New("invalid session handle")

	// ErrMalformedInput is returned when a boundary request fails to
	// decode or validate.
	ErrMalformedInput = errors.New("malformed input")

	// ErrBufferTooSmall is returned when a caller-supplied buffer
	// cannot hold the next outbound frame.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Code is a boundary status code. Zero is success; non-zero values
// identify the error family.
type Code int32

const (
	CodeOK             Code = 0
	CodeInvalidHandle  Code = 1
	CodeMalformed      Code = 2
	CodeNotFound       Code = 3
	CodeBufferTooSmall Code = 4
	CodeInternal       Code = 5
)

// String returns the code's stable name, used in result envelopes.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidHandle:
		return "invalid_handle"
	case CodeMalformed:
		return "malformed_input"
	case CodeNotFound:
		return "not_found"
	case CodeBufferTooSmall:
		return "buffer_too_small"
	default:
		return "internal"
	}
}

// CodeFor maps an error onto its boundary status code.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case errors.Is(err, ErrMalformedInput),
		errors.Is(err, txn.ErrMalformedRequest),
		errors.Is(err, fragment.ErrCorruptFragment),
		errors.Is(err, fragment.ErrCorruptPayload),
		errors.Is(err, queue.ErrDuplicate),
		errors.Is(err, queue.ErrHopsExceeded),
		errors.Is(err, txn.ErrUnknownSigner),
		errors.Is(err, txn.ErrDuplicateSignature),
		errors.Is(err, txn.ErrInvalidSignature),
		errors.Is(err, txn.ErrIncompleteSignatures):
		return CodeMalformed
	case errors.Is(err, txn.ErrArtifactNotFound),
		errors.Is(err, nonce.ErrUnknownAccount),
		errors.Is(err, nonce.ErrNoNonceAvailable),
		errors.Is(err, fragment.ErrUnknownTransaction),
		errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrBufferTooSmall):
		return CodeBufferTooSmall
	default:
		return CodeInternal
	}
}

// Envelope converts an operation outcome into a boundary result body.
// Successful data passes through unchanged; errors become a failure
// envelope carrying the status code name.
func Envelope(data []byte, err error) []byte {
	if err != nil {
		return wire.ErrResult(CodeFor(err).String(), err.Error())
	}
	return data
}

// Manager owns the handle table. Handles are monotonically assigned
// and never reused, so a call on a closed session always fails with
// ErrInvalidHandle instead of touching a stranger's state.
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	logger   log.Logger
	sessions map[int64]*Session
	next     int64
}

// NewManager creates a session manager. A nil configuration uses the
// defaults.
func NewManager(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   log.NoopLogger{},
		sessions: make(map[int64]*Session),
	}
}

// SetLogger installs a logger inherited by sessions opened afterwards.
// Pass nil to disable.
func (m *Manager) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Open creates a session and returns its handle. With a storage path
// configured the session persists queues to LevelDB and restores any
// previous snapshot; otherwise state lives in memory.
func (m *Manager) Open() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var db storage.Database
	if m.cfg.Storage.Path != "" {
		ldb, err := storage.NewLevelDB(m.cfg.Storage.Path)
		if err != nil {
			return 0, fmt.Errorf("failed to open session storage: %w", err)
		}
		db = ldb
	} else {
		db = storage.NewMemDB()
	}

	s, err := newSession(m.cfg, db, m.logger)
	if err != nil {
		db.Close()
		return 0, err
	}

	m.next++
	handle := m.next
	m.sessions[handle] = s
	return handle, nil
}

// Get resolves a handle to its session.
func (m *Manager) Get(handle int64) (*Session, error) {
	if handle <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return s, nil
}

// Shutdown closes a session and invalidates its handle. The session
// saves its queues and nonce snapshot before releasing storage.
func (m *Manager) Shutdown(handle int64) error {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	if !ok || handle <= 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	delete(m.sessions, handle)
	m.mu.Unlock()

	return s.Close()
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close shuts down every open session, returning the first error.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for h, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, h)
	}
	m.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
