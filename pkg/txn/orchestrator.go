package txn

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/pollinet/pollinet-go/pkg/log"
)

var (
	// ErrUnknownSigner is returned when a signature arrives from a key
	// that is not a required signer of the artifact.
	ErrUnknownSigner = errors.New("signer is not part of this transaction")

	// ErrDuplicateSignature is returned when a signer's slot is
	// already filled.
	ErrDuplicateSignature = errors.New("signature already applied for signer")

	// ErrIncompleteSignatures is returned when serialization is
	// attempted before every slot is filled.
	ErrIncompleteSignatures = errors.New("not all required signatures applied")

	// ErrInvalidSignature is returned when a signature fails
	// verification against the message bytes.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrAlreadySigned is returned when an operation requires an
	// untouched unsigned artifact.
	ErrAlreadySigned = errors.New("transaction already has signatures")
)

// Orchestrator drives artifacts through signing. Signatures are
// produced by external custody; the orchestrator only places and
// verifies them.
type Orchestrator struct {
	store  *Store
	logger log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator creates an orchestrator over an artifact store.
func NewOrchestrator(store *Store) *Orchestrator {
	return &Orchestrator{
		store:  store,
		logger: log.NoopLogger{},
		now:    time.Now,
	}
}

// SetLogger installs a logger for lifecycle events. Pass nil to disable.
func (o *Orchestrator) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	o.logger = logger
}

// RequiredSigners returns the base58 keys that must sign, in signing
// order (the first NumRequiredSignatures account keys).
func (o *Orchestrator) RequiredSigners(id string) ([]string, error) {
	a, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	n := int(a.Tx.Message.Header.NumRequiredSignatures)
	signers := make([]string, 0, n)
	for _, key := range a.Tx.Message.AccountKeys[:n] {
		signers = append(signers, key.String())
	}
	return signers, nil
}

// MessageToSign returns the exact bytes external custody must sign.
// Stable for a given artifact until its blockhash is refreshed.
func (o *Orchestrator) MessageToSign(id string) ([]byte, error) {
	a, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return a.Tx.Message.Serialize(), nil
}

// ApplySignature places one signer's signature into its slot. The call
// is all-or-nothing: on any error the artifact is unchanged. The
// signature is verified against the message bytes before placement.
func (o *Orchestrator) ApplySignature(id, signer, signature string) error {
	a, err := o.store.Get(id)
	if err != nil {
		return err
	}

	pk, err := ParsePublicKey(signer)
	if err != nil {
		return fmt.Errorf("%w: signer: %v", ErrMalformedRequest, err)
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrMalformedRequest, err)
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformedRequest, len(sig), SignatureSize)
	}

	slot := -1
	n := int(a.Tx.Message.Header.NumRequiredSignatures)
	for i, key := range a.Tx.Message.AccountKeys[:n] {
		if key == pk {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, signer)
	}
	if !isZeroSignature(a.Tx.Signatures[slot]) {
		return fmt.Errorf("%w: %s", ErrDuplicateSignature, signer)
	}

	message := a.Tx.Message.Serialize()
	if !ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig) {
		return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer)
	}

	a.Tx.Signatures[slot] = sig
	o.transition(a, o.statusForSignatures(a), "signature applied")
	return nil
}

// VerifyAndSerialize re-checks every signature and returns the wire
// bytes of the fully signed transaction, marking the artifact verified.
func (o *Orchestrator) VerifyAndSerialize(id string) ([]byte, error) {
	a, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}

	n := int(a.Tx.Message.Header.NumRequiredSignatures)
	if a.signedCount() < n {
		return nil, fmt.Errorf("%w: %d of %d", ErrIncompleteSignatures, a.signedCount(), n)
	}

	message := a.Tx.Message.Serialize()
	for i := 0; i < n; i++ {
		key := a.Tx.Message.AccountKeys[i]
		if !ed25519.Verify(ed25519.PublicKey(key[:]), message, a.Tx.Signatures[i]) {
			return nil, fmt.Errorf("%w: slot %d (%s)", ErrInvalidSignature, i, key)
		}
	}

	o.transition(a, StatusVerified, "all signatures verified")
	return a.Tx.Serialize(), nil
}

// RefreshBlockhash rewrites an unsigned artifact's blockhash without
// disturbing its instructions. Artifacts with any applied signature
// are refused, since signing committed to the old message bytes.
func (o *Orchestrator) RefreshBlockhash(id, blockhash string) error {
	a, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if a.signedCount() > 0 {
		return ErrAlreadySigned
	}
	bh, err := ParseBlockhash(blockhash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	a.Tx.Message.RecentBlockhash = bh
	a.UpdatedAt = o.now()
	return nil
}

// MarkSubmitted records a success confirmation for the artifact.
func (o *Orchestrator) MarkSubmitted(id string) error {
	a, err := o.store.Get(id)
	if err != nil {
		return err
	}
	o.transition(a, StatusSubmitted, "success confirmation")
	return nil
}

// MarkRejected records a failed submission.
func (o *Orchestrator) MarkRejected(id, reason string) error {
	a, err := o.store.Get(id)
	if err != nil {
		return err
	}
	o.transition(a, StatusRejected, reason)
	return nil
}

// statusForSignatures maps fill level to lifecycle state.
func (o *Orchestrator) statusForSignatures(a *Artifact) Status {
	n := int(a.Tx.Message.Header.NumRequiredSignatures)
	switch a.signedCount() {
	case 0:
		return StatusBuilt
	case n:
		return StatusFullySigned
	default:
		return StatusAwaitingSignatures
	}
}

// transition updates status and emits a state change event.
func (o *Orchestrator) transition(a *Artifact, next Status, reason string) {
	if a.Status == next {
		return
	}
	old := a.Status
	a.Status = next
	a.UpdatedAt = o.now()
	o.logger.Log(log.Event{
		Timestamp:     o.now(),
		Direction:     log.DirectionLocal,
		Layer:         log.LayerTransaction,
		TransactionID: a.ID,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}
