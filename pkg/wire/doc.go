// Package wire defines the encodings that cross PolliNet's boundaries.
//
// Two encodings are used:
//
//   - Mesh frames (fragments, confirmations, heartbeats) use CBOR
//     (RFC 8949) with integer keys for compactness on constrained
//     links. Encoding is deterministic so a frame's bytes are stable
//     for a given value.
//
//   - Boundary requests and responses (build requests, signature
//     requests) use JSON, the textual structured-data encoding the
//     host application exchanges with the engine.
//
// # Frame Types
//
// There are three mesh frame types:
//   - Fragment: one chunk of a fragmented transaction
//   - Confirmation: submission outcome relayed back toward the origin
//   - Heartbeat: peer liveness report feeding the health monitor
//
// Every frame carries its type as CBOR key 1, so receivers can peek
// the type without decoding the full frame.
package wire
