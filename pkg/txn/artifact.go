package txn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what an artifact does.
type Kind uint8

const (
	// KindTransfer moves lamports between wallets.
	KindTransfer Kind = 1
	// KindTokenTransfer moves tokens between wallets.
	KindTokenTransfer Kind = 2
	// KindVote casts a governance vote.
	KindVote Kind = 3
	// KindNonceAdvance rotates a durable nonce account.
	KindNonceAdvance Kind = 4
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "TRANSFER"
	case KindTokenTransfer:
		return "TOKEN_TRANSFER"
	case KindVote:
		return "VOTE"
	case KindNonceAdvance:
		return "NONCE_ADVANCE"
	default:
		return "UNKNOWN"
	}
}

// Status is an artifact's lifecycle state.
type Status uint8

const (
	// StatusBuilt means the artifact is unsigned.
	StatusBuilt Status = 1
	// StatusAwaitingSignatures means some but not all signatures are applied.
	StatusAwaitingSignatures Status = 2
	// StatusFullySigned means every required signature slot is filled.
	StatusFullySigned Status = 3
	// StatusVerified means all signatures checked out and wire bytes
	// were produced.
	StatusVerified Status = 4
	// StatusSubmitted means a success confirmation arrived.
	StatusSubmitted Status = 5
	// StatusRejected means submission failed.
	StatusRejected Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "BUILT"
	case StatusAwaitingSignatures:
		return "AWAITING_SIGNATURES"
	case StatusFullySigned:
		return "FULLY_SIGNED"
	case StatusVerified:
		return "VERIFIED"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ErrArtifactNotFound is returned for an unknown artifact id.
var ErrArtifactNotFound = errors.New("transaction artifact not found")

// Artifact is a transaction under construction or awaiting relay.
type Artifact struct {
	// ID is the artifact's opaque identifier (UUID).
	ID string

	// Kind is what the transaction does.
	Kind Kind

	// Status is the lifecycle state.
	Status Status

	// Tx is the transaction being assembled.
	Tx *Transaction

	// Durable is true when the artifact embeds a nonce advance and
	// does not expire with its blockhash.
	Durable bool

	// NonceAccount is the consumed cache entry, when durable.
	NonceAccount string

	// CreatedAt and UpdatedAt bound the artifact's age.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// newArtifact wraps a compiled transaction.
func newArtifact(kind Kind, tx *Transaction, now time.Time) *Artifact {
	return &Artifact{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusBuilt,
		Tx:        tx,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// signedCount reports how many signature slots are filled.
func (a *Artifact) signedCount() int {
	n := 0
	for _, sig := range a.Tx.Signatures {
		if !isZeroSignature(sig) {
			n++
		}
	}
	return n
}

func isZeroSignature(sig []byte) bool {
	for _, b := range sig {
		if b != 0 {
			return false
		}
	}
	return true
}

// Store holds artifacts by id. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
}

// NewStore creates an empty artifact store.
func NewStore() *Store {
	return &Store{artifacts: make(map[string]*Artifact)}
}

// Put inserts or replaces an artifact.
func (s *Store) Put(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
}

// Get returns the artifact for an id.
func (s *Store) Get(id string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	return a, nil
}

// Remove deletes an artifact. Removing an absent id is not an error.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, id)
}

// IDs lists all stored artifact ids.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}
