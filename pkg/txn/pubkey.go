package txn

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeySize is the byte length of an ed25519 public key.
const PublicKeySize = 32

// SignatureSize is the byte length of an ed25519 signature.
const SignatureSize = 64

// ErrInvalidPublicKey is returned when a base58 key fails to parse.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a 32-byte account address.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 account address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPublicKey, len(raw), PublicKeySize)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey parses a base58 address and panics on failure.
// For package-level program id constants only.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String returns the base58 form of the key.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is all zero bytes.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Well-known program ids.
var (
	// SystemProgramID owns plain accounts and nonce accounts.
	SystemProgramID = MustPublicKey("11111111111111111111111111111111")

	// TokenProgramID is the SPL token program.
	TokenProgramID = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramID derives per-wallet token accounts.
	AssociatedTokenProgramID = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// RecentBlockhashesSysvarID is read by the nonce-advance instruction.
	RecentBlockhashesSysvarID = MustPublicKey("SysvarRecentB1ockHashes11111111111111111111")

)

// pdaMarker terminates program-derived-address hash input.
var pdaMarker = []byte("ProgramDerivedAddress")

// isOnCurve reports whether 32 bytes decompress to a valid ed25519
// point. Program-derived addresses must not be on the curve.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// FindProgramAddress derives the first off-curve address for the given
// seeds, searching bump seeds from 255 down.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(programID[:])
		h.Write(pdaMarker)
		candidate := h.Sum(nil)

		if !isOnCurve(candidate) {
			var pk PublicKey
			copy(pk[:], candidate)
			return pk, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, errors.New("no viable program address bump")
}

// DeriveAssociatedTokenAddress computes the token account address for a
// wallet and mint pair.
func DeriveAssociatedTokenAddress(wallet, mint PublicKey) (PublicKey, error) {
	seeds := [][]byte{wallet[:], TokenProgramID[:], mint[:]}
	addr, _, err := FindProgramAddress(seeds, AssociatedTokenProgramID)
	return addr, err
}

// Blockhash is a 32-byte recent blockhash or durable nonce value.
type Blockhash [32]byte

// ParseBlockhash decodes a base58 blockhash.
func ParseBlockhash(s string) (Blockhash, error) {
	var bh Blockhash
	raw, err := base58.Decode(s)
	if err != nil {
		return bh, fmt.Errorf("invalid blockhash: %w", err)
	}
	if len(raw) != len(bh) {
		return bh, fmt.Errorf("invalid blockhash: %d bytes, want %d", len(raw), len(bh))
	}
	copy(bh[:], raw)
	return bh, nil
}

// String returns the base58 form of the blockhash.
func (bh Blockhash) String() string {
	return base58.Encode(bh[:])
}

// IsZero reports whether the blockhash is unset.
func (bh Blockhash) IsZero() bool {
	return bh == Blockhash{}
}
