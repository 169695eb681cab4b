package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/pollinet/pollinet-go/pkg/log"
	"github.com/pollinet/pollinet-go/pkg/nonce"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

// ErrMalformedRequest is returned when required build parameters are
// missing or unparseable.
var ErrMalformedRequest = errors.New("malformed build request")

// Builder produces unsigned artifacts from boundary requests. When a
// request carries no blockhash the builder draws a durable nonce from
// the cache and prepends a nonce-advance instruction, so the artifact
// can be signed offline and submitted whenever connectivity returns.
type Builder struct {
	nonces *nonce.Cache
	store  *Store
	logger log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewBuilder creates a builder over the given nonce cache and artifact
// store.
func NewBuilder(nonces *nonce.Cache, store *Store) *Builder {
	return &Builder{
		nonces: nonces,
		store:  store,
		logger: log.NoopLogger{},
		now:    time.Now,
	}
}

// SetLogger installs a logger for build events. Pass nil to disable.
func (b *Builder) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	b.logger = logger
}

// BuildTransfer builds an unsigned lamport transfer.
func (b *Builder) BuildTransfer(req *wire.CreateUnsignedTransactionRequest) (*Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	sender, err := ParsePublicKey(req.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformedRequest, err)
	}
	recipient, err := ParsePublicKey(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrMalformedRequest, err)
	}
	feePayer, err := ParsePublicKey(req.FeePayer)
	if err != nil {
		return nil, fmt.Errorf("%w: feePayer: %v", ErrMalformedRequest, err)
	}

	transfer := NewTransferInstruction(sender, recipient, req.Amount)
	return b.assemble(KindTransfer, []Instruction{transfer}, feePayer, req.Blockhash)
}

// BuildTokenTransfer builds an unsigned token transfer. Token accounts
// are derived from the wallets and mint; the recipient's account is
// created idempotently in the same transaction.
func (b *Builder) BuildTokenTransfer(req *wire.CreateUnsignedSplTransactionRequest) (*Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	senderWallet, err := ParsePublicKey(req.SenderWallet)
	if err != nil {
		return nil, fmt.Errorf("%w: senderWallet: %v", ErrMalformedRequest, err)
	}
	recipientWallet, err := ParsePublicKey(req.RecipientWallet)
	if err != nil {
		return nil, fmt.Errorf("%w: recipientWallet: %v", ErrMalformedRequest, err)
	}
	feePayer, err := ParsePublicKey(req.FeePayer)
	if err != nil {
		return nil, fmt.Errorf("%w: feePayer: %v", ErrMalformedRequest, err)
	}
	mint, err := ParsePublicKey(req.MintAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: mintAddress: %v", ErrMalformedRequest, err)
	}

	senderToken, err := DeriveAssociatedTokenAddress(senderWallet, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender token account: %w", err)
	}
	recipientToken, err := DeriveAssociatedTokenAddress(recipientWallet, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	instructions := []Instruction{
		NewCreateAssociatedTokenAccountInstruction(feePayer, recipientToken, recipientWallet, mint),
		NewTokenTransferInstruction(senderToken, recipientToken, senderWallet, req.Amount),
	}
	return b.assemble(KindTokenTransfer, instructions, feePayer, req.Blockhash)
}

// BuildVote builds an unsigned governance vote.
func (b *Builder) BuildVote(req *wire.CastUnsignedVoteRequest) (*Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if _, err := ParsePublicKey(req.Voter); err != nil {
		return nil, fmt.Errorf("%w: voter: %v", ErrMalformedRequest, err)
	}
	voteAccount, err := ParsePublicKey(req.VoteAccount)
	if err != nil {
		return nil, fmt.Errorf("%w: voteAccount: %v", ErrMalformedRequest, err)
	}
	proposal, err := ParsePublicKey(req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("%w: proposalId: %v", ErrMalformedRequest, err)
	}
	feePayer, err := ParsePublicKey(req.FeePayer)
	if err != nil {
		return nil, fmt.Errorf("%w: feePayer: %v", ErrMalformedRequest, err)
	}

	vote := NewCastVoteInstruction(voteAccount, proposal, req.Choice)
	return b.assemble(KindVote, []Instruction{vote}, feePayer, req.Blockhash)
}

// BuildNonceAdvance builds a transaction whose only effect is rotating
// a nonce account to a fresh value. feePayer covers the fee and the
// entry's authority signs.
func (b *Builder) BuildNonceAdvance(nonceAccount, authority, feePayer string, blockhash string) (*Artifact, error) {
	acct, err := ParsePublicKey(nonceAccount)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce account: %v", ErrMalformedRequest, err)
	}
	auth, err := ParsePublicKey(authority)
	if err != nil {
		return nil, fmt.Errorf("%w: authority: %v", ErrMalformedRequest, err)
	}
	payer, err := ParsePublicKey(feePayer)
	if err != nil {
		return nil, fmt.Errorf("%w: feePayer: %v", ErrMalformedRequest, err)
	}
	bh, err := ParseBlockhash(blockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	advance := NewAdvanceNonceInstruction(acct, auth)
	tx, err := NewTransaction([]Instruction{advance}, payer, bh)
	if err != nil {
		return nil, err
	}

	a := newArtifact(KindNonceAdvance, tx, b.now())
	b.store.Put(a)
	b.logBuild(a)
	return a, nil
}

// assemble compiles the instructions online (caller-supplied blockhash)
// or offline (durable nonce drawn from the cache, nonce advance first).
func (b *Builder) assemble(kind Kind, instructions []Instruction, feePayer PublicKey, blockhash string) (*Artifact, error) {
	var (
		bh      Blockhash
		durable bool
		entry   nonce.Entry
	)

	if blockhash != "" {
		parsed, err := ParseBlockhash(blockhash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		bh = parsed
	} else {
		var err error
		entry, err = b.nonces.NextAvailable()
		if err != nil {
			return nil, err
		}
		durable = true

		release := func() { _ = b.nonces.Release(entry.Account) }

		nonceAccount, err := ParsePublicKey(entry.Account)
		if err != nil {
			release()
			return nil, fmt.Errorf("cached nonce account unparseable: %w", err)
		}
		authority, err := ParsePublicKey(entry.Authority)
		if err != nil {
			release()
			return nil, fmt.Errorf("cached nonce authority unparseable: %w", err)
		}
		bh, err = ParseBlockhash(entry.Blockhash)
		if err != nil {
			release()
			return nil, fmt.Errorf("cached nonce blockhash unparseable: %w", err)
		}

		advance := NewAdvanceNonceInstruction(nonceAccount, authority)
		instructions = append([]Instruction{advance}, instructions...)
	}

	tx, err := NewTransaction(instructions, feePayer, bh)
	if err != nil {
		if durable {
			_ = b.nonces.Release(entry.Account)
		}
		return nil, err
	}

	a := newArtifact(kind, tx, b.now())
	if durable {
		if err := b.nonces.Consume(entry.Account); err != nil {
			return nil, err
		}
		a.Durable = true
		a.NonceAccount = entry.Account
	}

	b.store.Put(a)
	b.logBuild(a)
	return a, nil
}

// logBuild emits a build event.
func (b *Builder) logBuild(a *Artifact) {
	b.logger.Log(log.Event{
		Timestamp:     b.now(),
		Direction:     log.DirectionLocal,
		Layer:         log.LayerTransaction,
		TransactionID: a.ID,
		StateChange: &log.StateChangeEvent{
			OldState: "",
			NewState: a.Status.String(),
			Reason:   "built " + a.Kind.String(),
		},
	})
}
