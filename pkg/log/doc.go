// Package log provides structured engine event logging for PolliNet.
//
// This package defines the Logger interface and Event types for capturing
// engine-level events across layers (fragment transport, queue lifecycle,
// transaction orchestration). It is separate from operational logging -
// event capture provides a machine-readable trace of what the relay engine
// did to a transaction and when.
//
// # Basic Usage
//
// Hosts configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
// Passing nil or NoopLogger disables event capture.
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Fragment: split/reassembly activity (FragmentEvent)
//   - Queue: enqueue/dequeue/expiry transitions (QueueEvent)
//   - Transaction: artifact state changes (StateChangeEvent)
//   - Nonce: reservation and consumption (NonceEvent)
//
// Errors at any layer use ErrorEventData.
package log
