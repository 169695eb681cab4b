package wire

import (
	"fmt"
)

// FrameType identifies the kind of mesh frame.
type FrameType uint8

const (
	// FrameUnknown is returned when a frame's type cannot be determined.
	FrameUnknown FrameType = 0

	// FrameFragment carries one chunk of a fragmented transaction.
	FrameFragment FrameType = 1

	// FrameConfirmation relays a submission outcome back toward the origin.
	FrameConfirmation FrameType = 2

	// FrameHeartbeat reports peer liveness for link scoring.
	FrameHeartbeat FrameType = 3
)

// IsValid reports whether the frame type is one of the defined values.
func (t FrameType) IsValid() bool {
	return t >= FrameFragment && t <= FrameHeartbeat
}

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameFragment:
		return "FRAGMENT"
	case FrameConfirmation:
		return "CONFIRMATION"
	case FrameHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// TransactionIDSize is the size of a transaction identifier in bytes
// (SHA-256 of the complete transaction payload).
const TransactionIDSize = 32

// Fragment is one chunk of a fragmented transaction.
//
// CBOR encoding:
//
//	{
//	  1: type,           // uint8: always 1
//	  2: transactionId,  // 32 bytes: SHA-256 of the complete payload
//	  3: index,          // uint16: sequence index, 0-based
//	  4: total,          // uint16: expected fragment count
//	  5: checksum,       // uint32: CRC-32 of the data chunk
//	  6: data            // byte string
//	}
type Fragment struct {
	Type          FrameType `cbor:"1,keyasint"`
	TransactionID []byte    `cbor:"2,keyasint"`
	Index         uint16    `cbor:"3,keyasint"`
	Total         uint16    `cbor:"4,keyasint"`
	Checksum      uint32    `cbor:"5,keyasint"`
	Data          []byte    `cbor:"6,keyasint"`
}

// Validate checks structural well-formedness of the fragment.
func (f *Fragment) Validate() error {
	if len(f.TransactionID) != TransactionIDSize {
		return fmt.Errorf("transaction id must be %d bytes, got %d", TransactionIDSize, len(f.TransactionID))
	}
	if f.Total == 0 {
		return fmt.Errorf("total fragment count must be positive")
	}
	if f.Index >= f.Total {
		return fmt.Errorf("fragment index %d out of range (total %d)", f.Index, f.Total)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("fragment data is empty")
	}
	return nil
}

// ConfirmationStatus is the submission outcome carried by a confirmation.
type ConfirmationStatus uint8

const (
	// ConfirmationSuccess indicates the transaction was submitted on-chain.
	ConfirmationSuccess ConfirmationStatus = 1

	// ConfirmationFailed indicates submission failed at the online peer.
	ConfirmationFailed ConfirmationStatus = 2
)

// String returns the confirmation status name.
func (s ConfirmationStatus) String() string {
	switch s {
	case ConfirmationSuccess:
		return "SUCCESS"
	case ConfirmationFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Confirmation relays a submission outcome back toward the origin device.
//
// CBOR encoding:
//
//	{
//	  1: type,           // uint8: always 2
//	  2: transactionId,  // 32 bytes
//	  3: status,         // uint8: 1=success, 2=failed
//	  4: signature,      // base58 text, set on success
//	  5: error,          // failure message, set on failure
//	  6: timestamp,      // unix seconds
//	  7: relayCount,     // uint8: hops taken so far
//	  8: maxHops         // uint8: hop budget
//	}
type Confirmation struct {
	Type          FrameType          `cbor:"1,keyasint"`
	TransactionID []byte             `cbor:"2,keyasint"`
	Status        ConfirmationStatus `cbor:"3,keyasint"`
	Signature     string             `cbor:"4,keyasint,omitempty"`
	Error         string             `cbor:"5,keyasint,omitempty"`
	Timestamp     int64              `cbor:"6,keyasint"`
	RelayCount    uint8              `cbor:"7,keyasint"`
	MaxHops       uint8              `cbor:"8,keyasint"`
}

// Heartbeat reports peer liveness and link quality samples.
//
// CBOR encoding:
//
//	{
//	  1: type,       // uint8: always 3
//	  2: peerId,     // text
//	  3: latencyMs,  // uint32, optional round-trip sample
//	  4: rssi,       // int8, optional signal strength sample
//	  5: timestamp   // unix seconds
//	}
type Heartbeat struct {
	Type      FrameType `cbor:"1,keyasint"`
	PeerID    string    `cbor:"2,keyasint"`
	LatencyMs uint32    `cbor:"3,keyasint,omitempty"`
	RSSI      int8      `cbor:"4,keyasint,omitempty"`
	Timestamp int64     `cbor:"5,keyasint"`
}
