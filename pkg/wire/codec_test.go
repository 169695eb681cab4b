package wire

import (
	"bytes"
	"crypto/sha256"
	"hash/crc32"
	"strings"
	"testing"
)

func testTransactionID() []byte {
	sum := sha256.Sum256([]byte("test transaction payload"))
	return sum[:]
}

func TestFragmentRoundTrip(t *testing.T) {
	chunk := []byte("chunk data")
	original := &Fragment{
		TransactionID: testTransactionID(),
		Index:         2,
		Total:         5,
		Checksum:      crc32.ChecksumIEEE(chunk),
		Data:          chunk,
	}

	encoded, err := EncodeFragment(original)
	if err != nil {
		t.Fatalf("EncodeFragment failed: %v", err)
	}

	decoded, err := DecodeFragment(encoded)
	if err != nil {
		t.Fatalf("DecodeFragment failed: %v", err)
	}

	if decoded.Type != FrameFragment {
		t.Errorf("Type = %d, want %d", decoded.Type, FrameFragment)
	}
	if !bytes.Equal(decoded.TransactionID, original.TransactionID) {
		t.Errorf("TransactionID mismatch")
	}
	if decoded.Index != original.Index {
		t.Errorf("Index = %d, want %d", decoded.Index, original.Index)
	}
	if decoded.Total != original.Total {
		t.Errorf("Total = %d, want %d", decoded.Total, original.Total)
	}
	if decoded.Checksum != original.Checksum {
		t.Errorf("Checksum = %d, want %d", decoded.Checksum, original.Checksum)
	}
	if !bytes.Equal(decoded.Data, original.Data) {
		t.Errorf("Data mismatch")
	}
}

func TestFragmentValidate(t *testing.T) {
	tests := []struct {
		name     string
		fragment Fragment
		wantErr  string
	}{
		{
			name: "valid",
			fragment: Fragment{
				TransactionID: testTransactionID(),
				Index:         0,
				Total:         1,
				Data:          []byte("x"),
			},
		},
		{
			name: "short transaction id",
			fragment: Fragment{
				TransactionID: []byte{1, 2, 3},
				Index:         0,
				Total:         1,
				Data:          []byte("x"),
			},
			wantErr: "transaction id",
		},
		{
			name: "zero total",
			fragment: Fragment{
				TransactionID: testTransactionID(),
				Index:         0,
				Total:         0,
				Data:          []byte("x"),
			},
			wantErr: "total fragment count",
		},
		{
			name: "index out of range",
			fragment: Fragment{
				TransactionID: testTransactionID(),
				Index:         3,
				Total:         3,
				Data:          []byte("x"),
			},
			wantErr: "out of range",
		},
		{
			name: "empty data",
			fragment: Fragment{
				TransactionID: testTransactionID(),
				Index:         0,
				Total:         1,
			},
			wantErr: "data is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fragment.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEncodeFragmentRejectsInvalid(t *testing.T) {
	_, err := EncodeFragment(&Fragment{TransactionID: []byte{1}})
	if err == nil {
		t.Fatal("EncodeFragment succeeded with invalid fragment")
	}
}

func TestConfirmationRoundTrip(t *testing.T) {
	original := &Confirmation{
		TransactionID: testTransactionID(),
		Status:        ConfirmationSuccess,
		Signature:     "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb",
		Timestamp:     1700000000,
		RelayCount:    2,
		MaxHops:       5,
	}

	encoded, err := EncodeConfirmation(original)
	if err != nil {
		t.Fatalf("EncodeConfirmation failed: %v", err)
	}

	decoded, err := DecodeConfirmation(encoded)
	if err != nil {
		t.Fatalf("DecodeConfirmation failed: %v", err)
	}

	if decoded.Status != ConfirmationSuccess {
		t.Errorf("Status = %d, want %d", decoded.Status, ConfirmationSuccess)
	}
	if decoded.Signature != original.Signature {
		t.Errorf("Signature = %q, want %q", decoded.Signature, original.Signature)
	}
	if decoded.RelayCount != 2 || decoded.MaxHops != 5 {
		t.Errorf("hops = %d/%d, want 2/5", decoded.RelayCount, decoded.MaxHops)
	}
}

func TestConfirmationFailureCarriesError(t *testing.T) {
	encoded, err := EncodeConfirmation(&Confirmation{
		TransactionID: testTransactionID(),
		Status:        ConfirmationFailed,
		Error:         "blockhash expired",
		Timestamp:     1700000000,
		MaxHops:       5,
	})
	if err != nil {
		t.Fatalf("EncodeConfirmation failed: %v", err)
	}

	decoded, err := DecodeConfirmation(encoded)
	if err != nil {
		t.Fatalf("DecodeConfirmation failed: %v", err)
	}
	if decoded.Error != "blockhash expired" {
		t.Errorf("Error = %q, want %q", decoded.Error, "blockhash expired")
	}
	if decoded.Signature != "" {
		t.Errorf("Signature = %q, want empty", decoded.Signature)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	original := &Heartbeat{
		PeerID:    "peer-ab12",
		LatencyMs: 45,
		RSSI:      -62,
		Timestamp: 1700000000,
	}

	encoded, err := EncodeHeartbeat(original)
	if err != nil {
		t.Fatalf("EncodeHeartbeat failed: %v", err)
	}

	decoded, err := DecodeHeartbeat(encoded)
	if err != nil {
		t.Fatalf("DecodeHeartbeat failed: %v", err)
	}

	if decoded.PeerID != original.PeerID {
		t.Errorf("PeerID = %q, want %q", decoded.PeerID, original.PeerID)
	}
	if decoded.LatencyMs != original.LatencyMs {
		t.Errorf("LatencyMs = %d, want %d", decoded.LatencyMs, original.LatencyMs)
	}
	if decoded.RSSI != original.RSSI {
		t.Errorf("RSSI = %d, want %d", decoded.RSSI, original.RSSI)
	}
}

func TestPeekFrameType(t *testing.T) {
	chunk := []byte("peek chunk")
	fragBytes, err := EncodeFragment(&Fragment{
		TransactionID: testTransactionID(),
		Index:         0,
		Total:         1,
		Checksum:      crc32.ChecksumIEEE(chunk),
		Data:          chunk,
	})
	if err != nil {
		t.Fatalf("EncodeFragment failed: %v", err)
	}

	confBytes, err := EncodeConfirmation(&Confirmation{
		TransactionID: testTransactionID(),
		Status:        ConfirmationSuccess,
		Timestamp:     1700000000,
	})
	if err != nil {
		t.Fatalf("EncodeConfirmation failed: %v", err)
	}

	hbBytes, err := EncodeHeartbeat(&Heartbeat{PeerID: "p", Timestamp: 1})
	if err != nil {
		t.Fatalf("EncodeHeartbeat failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want FrameType
	}{
		{"fragment", fragBytes, FrameFragment},
		{"confirmation", confBytes, FrameConfirmation},
		{"heartbeat", hbBytes, FrameHeartbeat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekFrameType(tt.data)
			if err != nil {
				t.Fatalf("PeekFrameType failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("PeekFrameType = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeekFrameTypeRejectsGarbage(t *testing.T) {
	if _, err := PeekFrameType([]byte{0xff, 0x00, 0x12}); err == nil {
		t.Fatal("PeekFrameType succeeded on garbage")
	}
}

func TestDecodeFragmentRejectsWrongType(t *testing.T) {
	encoded, err := EncodeHeartbeat(&Heartbeat{PeerID: "p", Timestamp: 1})
	if err != nil {
		t.Fatalf("EncodeHeartbeat failed: %v", err)
	}
	if _, err := DecodeFragment(encoded); err == nil {
		t.Fatal("DecodeFragment accepted a heartbeat frame")
	}
}

func TestFrameTypeString(t *testing.T) {
	tests := []struct {
		t    FrameType
		want string
	}{
		{FrameFragment, "FRAGMENT"},
		{FrameConfirmation, "CONFIRMATION"},
		{FrameHeartbeat, "HEARTBEAT"},
		{FrameType(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("FrameType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}
