package wire

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the current version of the boundary JSON schemas.
// Every request carries a version field for forward compatibility;
// a zero value is treated as the current version.
const SchemaVersion = 1

// Result is the envelope wrapping every boundary response.
// Exactly one of Data or the error fields is populated.
type Result struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OkResult wraps a response payload in a success envelope.
func OkResult(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response data: %w", err)
	}
	return json.Marshal(Result{OK: true, Data: raw})
}

// ErrResult builds a failure envelope with a stable error code.
func ErrResult(code, message string) []byte {
	raw, _ := json.Marshal(Result{OK: false, Code: code, Message: message})
	return raw
}

// DecodeRequest decodes a JSON boundary request into v and validates it.
func DecodeRequest(data []byte, v Validator) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// Validator is implemented by all boundary request types.
type Validator interface {
	Validate() error
}

// CachedNonce is the boundary form of a durable-nonce cache entry.
type CachedNonce struct {
	Version              uint32 `json:"version,omitempty"`
	NonceAccount         string `json:"nonceAccount"`
	Authority            string `json:"authority"`
	Blockhash            string `json:"blockhash"`
	LamportsPerSignature uint64 `json:"lamportsPerSignature"`
	CachedAt             int64  `json:"cachedAt,omitempty"`
}

// Validate checks required cache entry fields.
func (c *CachedNonce) Validate() error {
	if c.NonceAccount == "" {
		return fmt.Errorf("nonceAccount is required")
	}
	if c.Authority == "" {
		return fmt.Errorf("authority is required")
	}
	if c.Blockhash == "" {
		return fmt.Errorf("blockhash is required")
	}
	return nil
}

// CreateUnsignedTransactionRequest asks for an unsigned SOL transfer.
// When Blockhash is empty the engine draws from the nonce cache
// (offline path); otherwise the live blockhash is embedded directly.
type CreateUnsignedTransactionRequest struct {
	Version   uint32 `json:"version,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	FeePayer  string `json:"feePayer"`
	Amount    uint64 `json:"amount"`
	Blockhash string `json:"blockhash,omitempty"`
}

// Validate checks required build parameters.
func (r *CreateUnsignedTransactionRequest) Validate() error {
	if r.Sender == "" || r.Recipient == "" || r.FeePayer == "" {
		return fmt.Errorf("sender, recipient and feePayer are required")
	}
	if r.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// CreateUnsignedSplTransactionRequest asks for an unsigned SPL token
// transfer. Token accounts are derived from the wallet and mint keys.
type CreateUnsignedSplTransactionRequest struct {
	Version         uint32 `json:"version,omitempty"`
	SenderWallet    string `json:"senderWallet"`
	RecipientWallet string `json:"recipientWallet"`
	FeePayer        string `json:"feePayer"`
	MintAddress     string `json:"mintAddress"`
	Amount          uint64 `json:"amount"`
	Blockhash       string `json:"blockhash,omitempty"`
}

// Validate checks required build parameters.
func (r *CreateUnsignedSplTransactionRequest) Validate() error {
	if r.SenderWallet == "" || r.RecipientWallet == "" || r.FeePayer == "" {
		return fmt.Errorf("senderWallet, recipientWallet and feePayer are required")
	}
	if r.MintAddress == "" {
		return fmt.Errorf("mintAddress is required")
	}
	if r.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// CastUnsignedVoteRequest asks for an unsigned governance vote.
type CastUnsignedVoteRequest struct {
	Version     uint32 `json:"version,omitempty"`
	Voter       string `json:"voter"`
	ProposalID  string `json:"proposalId"`
	VoteAccount string `json:"voteAccount"`
	Choice      uint8  `json:"choice"`
	FeePayer    string `json:"feePayer"`
	Blockhash   string `json:"blockhash,omitempty"`
}

// Validate checks required build parameters.
func (r *CastUnsignedVoteRequest) Validate() error {
	if r.Voter == "" || r.VoteAccount == "" || r.FeePayer == "" {
		return fmt.Errorf("voter, voteAccount and feePayer are required")
	}
	if r.ProposalID == "" {
		return fmt.Errorf("proposalId is required")
	}
	return nil
}

// CacheNonceAccountsRequest upserts a batch of durable-nonce entries.
type CacheNonceAccountsRequest struct {
	Version  uint32        `json:"version,omitempty"`
	Accounts []CachedNonce `json:"accounts"`
}

// Validate checks the batch is non-empty and each entry well-formed.
func (r *CacheNonceAccountsRequest) Validate() error {
	if len(r.Accounts) == 0 {
		return fmt.Errorf("accounts must not be empty")
	}
	for i := range r.Accounts {
		if err := r.Accounts[i].Validate(); err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
	}
	return nil
}

// RefreshBlockhashRequest rewrites the blockhash of an unsigned artifact.
type RefreshBlockhashRequest struct {
	Version       uint32 `json:"version,omitempty"`
	TransactionID string `json:"transactionId"`
	Blockhash     string `json:"blockhash"`
}

// Validate checks required fields.
func (r *RefreshBlockhashRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("transactionId is required")
	}
	if r.Blockhash == "" {
		return fmt.Errorf("blockhash is required")
	}
	return nil
}

// TransactionRequest addresses an existing artifact by its identifier.
// Used by message-to-sign, required-signers, verify and clear operations.
type TransactionRequest struct {
	Version       uint32 `json:"version,omitempty"`
	TransactionID string `json:"transactionId"`
}

// Validate checks the identifier is present.
func (r *TransactionRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("transactionId is required")
	}
	return nil
}

// ApplySignatureRequest attaches one signer's signature to an artifact.
// Signer is a base58 public key; Signature is base58 signature bytes.
type ApplySignatureRequest struct {
	Version       uint32 `json:"version,omitempty"`
	TransactionID string `json:"transactionId"`
	Signer        string `json:"signer"`
	Signature     string `json:"signature"`
}

// Validate checks required fields.
func (r *ApplySignatureRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("transactionId is required")
	}
	if r.Signer == "" {
		return fmt.Errorf("signer is required")
	}
	if r.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// PushOutboundRequest places a verified artifact on the outbound queue.
type PushOutboundRequest struct {
	Version       uint32 `json:"version,omitempty"`
	TransactionID string `json:"transactionId"`
	Priority      string `json:"priority,omitempty"` // high, normal, low
}

// Validate checks the identifier and priority band.
func (r *PushOutboundRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("transactionId is required")
	}
	switch r.Priority {
	case "", "high", "normal", "low":
		return nil
	default:
		return fmt.Errorf("unknown priority %q", r.Priority)
	}
}
