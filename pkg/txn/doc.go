// Package txn builds, signs and serializes transactions in the
// legacy single-message wire format used by the target chain.
//
// A Builder turns high-level requests (transfer, token transfer, vote)
// into unsigned Artifacts. Offline builds draw a durable nonce from the
// cache and embed a nonce-advance instruction first, so the artifact
// stays valid until submitted. The signing orchestrator tracks each
// artifact through its lifecycle: signatures arrive one at a time from
// external custody, are applied all-or-nothing, and the fully signed
// transaction is verified before serialization for the mesh.
package txn
