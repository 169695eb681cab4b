package log

import (
	"time"
)

// Event represents an engine log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the engine session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow relative to this device.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// TransactionID is the transaction the event relates to, if any.
	TransactionID string `cbor:"5,keyasint,omitempty"`

	// PeerID is the mesh peer involved, if any.
	PeerID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Fragment    *FragmentEvent    `cbor:"10,keyasint,omitempty"` // Fragment layer
	Queue       *QueueEvent       `cbor:"11,keyasint,omitempty"` // Queue layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Artifact lifecycle
	Nonce       *NonceEvent       `cbor:"13,keyasint,omitempty"` // Nonce cache
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an inbound fragment or confirmation.
	DirectionIn Direction = 0
	// DirectionOut indicates an outbound fragment or artifact.
	DirectionOut Direction = 1
	// DirectionLocal indicates a purely local transition.
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which engine layer captured the event.
type Layer uint8

const (
	// LayerFragment is the fragmentation/reassembly layer.
	LayerFragment Layer = 0
	// LayerQueue is the queue lifecycle layer.
	LayerQueue Layer = 1
	// LayerTransaction is the build/sign orchestration layer.
	LayerTransaction Layer = 2
	// LayerEngine is the session facade layer.
	LayerEngine Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerFragment:
		return "FRAGMENT"
	case LayerQueue:
		return "QUEUE"
	case LayerTransaction:
		return "TRANSACTION"
	case LayerEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// FragmentEvent captures fragment split or reassembly activity.
type FragmentEvent struct {
	// Index is the fragment sequence index.
	Index uint16 `cbor:"1,keyasint"`

	// Total is the expected fragment count for the transaction.
	Total uint16 `cbor:"2,keyasint"`

	// Size is the fragment chunk size in bytes.
	Size int `cbor:"3,keyasint"`

	// Complete indicates reassembly finished with this fragment.
	Complete bool `cbor:"4,keyasint,omitempty"`

	// Duplicate indicates the fragment was already seen and dropped.
	Duplicate bool `cbor:"5,keyasint,omitempty"`
}

// QueueEvent captures a queue transition.
type QueueEvent struct {
	// Queue is the queue name (outbound, retry, confirmation, received).
	Queue string `cbor:"1,keyasint"`

	// Op is the operation (push, pop, expire, drop, save, load).
	Op string `cbor:"2,keyasint"`

	// Depth is the queue depth after the operation.
	Depth int `cbor:"3,keyasint"`

	// Attempt is the retry attempt count, when relevant.
	Attempt int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures an artifact status transition.
type StateChangeEvent struct {
	// OldState is the previous status name.
	OldState string `cbor:"1,keyasint"`

	// NewState is the new status name.
	NewState string `cbor:"2,keyasint"`

	// Reason describes why the transition occurred.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// NonceEvent captures nonce cache activity.
type NonceEvent struct {
	// Account is the nonce account address.
	Account string `cbor:"1,keyasint"`

	// Op is the operation (cache, reserve, release, consume, expire).
	Op string `cbor:"2,keyasint"`

	// Available is the number of available entries after the operation.
	Available int `cbor:"3,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context provides additional detail (operation name, input summary).
	Context string `cbor:"3,keyasint,omitempty"`
}
