package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	events := []Event{
		{
			Timestamp:     time.Now(),
			SessionID:     "sess-1",
			Direction:     DirectionOut,
			Layer:         LayerFragment,
			TransactionID: "tx-abc",
			Fragment:      &FragmentEvent{Index: 0, Total: 3, Size: 150},
		},
		{
			Timestamp: time.Now(),
			SessionID: "sess-1",
			Direction: DirectionLocal,
			Layer:     LayerQueue,
			Queue:     &QueueEvent{Queue: "outbound", Op: "push", Depth: 1},
		},
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// After Close, logging is a no-op rather than a panic.
	logger.Log(Event{SessionID: "dropped"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	dec := NewDecoder(f)
	var read []Event
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode: %v", err)
		}
		read = append(read, e)
	}

	if len(read) != len(events) {
		t.Fatalf("read %d events, want %d", len(read), len(events))
	}
	if read[0].TransactionID != "tx-abc" || read[0].Fragment == nil || read[0].Fragment.Total != 3 {
		t.Errorf("first event mangled: %+v", read[0])
	}
	if read[1].Queue == nil || read[1].Queue.Op != "push" {
		t.Errorf("second event mangled: %+v", read[1])
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), SessionID: "sess-1"})
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	dec := NewDecoder(f)
	count := 0
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("reopened log holds %d events, want 2", count)
	}
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &capturingLogger{}
	b := &capturingLogger{}
	m := NewMultiLogger(a, b)

	m.Log(Event{SessionID: "sess-9"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out reached %d/%d loggers, want 1/1", len(a.events), len(b.events))
	}
	if a.events[0].SessionID != "sess-9" {
		t.Errorf("event mangled: %+v", a.events[0])
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := Event{
		Timestamp: time.Now().Truncate(time.Millisecond),
		SessionID: "sess-2",
		Layer:     LayerTransaction,
		StateChange: &StateChangeEvent{
			OldState: "BUILT",
			NewState: "AWAITING_SIGNATURES",
		},
	}
	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if out.SessionID != in.SessionID || out.StateChange == nil || out.StateChange.NewState != "AWAITING_SIGNATURES" {
		t.Errorf("round trip mangled event: %+v", out)
	}
}
