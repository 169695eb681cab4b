package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for mesh frames.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for mesh frames.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix, // Unix timestamps
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeFragment encodes a fragment frame to CBOR bytes.
func EncodeFragment(f *Fragment) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fragment: %w", err)
	}
	f.Type = FrameFragment
	return Marshal(f)
}

// DecodeFragment decodes CBOR bytes into a fragment frame.
func DecodeFragment(data []byte) (*Fragment, error) {
	var f Fragment
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode fragment: %w", err)
	}
	if f.Type != FrameFragment {
		return nil, fmt.Errorf("not a fragment frame: type=%d", f.Type)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fragment: %w", err)
	}
	return &f, nil
}

// EncodeConfirmation encodes a confirmation frame to CBOR bytes.
func EncodeConfirmation(c *Confirmation) ([]byte, error) {
	c.Type = FrameConfirmation
	return Marshal(c)
}

// DecodeConfirmation decodes CBOR bytes into a confirmation frame.
func DecodeConfirmation(data []byte) (*Confirmation, error) {
	var c Confirmation
	if err := Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode confirmation: %w", err)
	}
	if c.Type != FrameConfirmation {
		return nil, fmt.Errorf("not a confirmation frame: type=%d", c.Type)
	}
	return &c, nil
}

// EncodeHeartbeat encodes a heartbeat frame to CBOR bytes.
func EncodeHeartbeat(h *Heartbeat) ([]byte, error) {
	h.Type = FrameHeartbeat
	return Marshal(h)
}

// DecodeHeartbeat decodes CBOR bytes into a heartbeat frame.
func DecodeHeartbeat(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat: %w", err)
	}
	if h.Type != FrameHeartbeat {
		return nil, fmt.Errorf("not a heartbeat frame: type=%d", h.Type)
	}
	return &h, nil
}

// PeekFrameType examines CBOR data to determine the frame type
// without fully decoding it.
func PeekFrameType(data []byte) (FrameType, error) {
	var peek struct {
		Type FrameType `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return FrameUnknown, fmt.Errorf("failed to peek frame: %w", err)
	}
	if !peek.Type.IsValid() {
		return FrameUnknown, fmt.Errorf("unknown frame type: %d", peek.Type)
	}
	return peek.Type, nil
}
