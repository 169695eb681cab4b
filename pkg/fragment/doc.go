// Package fragment splits transaction payloads into link-sized fragments
// and reassembles them from out-of-order, possibly duplicated deliveries.
//
// A payload's identity is the SHA-256 of its bytes. The same hash doubles
// as a whole-payload integrity check on reconstruction, on top of the
// per-chunk CRC-32 each fragment carries. Splitting is a pure transform;
// reassembly state lives in a Reassembler that buffers fragments per
// transaction until all indices have arrived.
package fragment
