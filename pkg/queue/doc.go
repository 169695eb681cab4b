// Package queue implements the four transaction queues a relay session
// runs on: outbound (awaiting transmission, priority banded), retry
// (failed submissions under backoff), confirmation (submitted, awaiting
// on-chain confirmation relay) and received (reassembled inbound
// artifacts awaiting host action).
//
// Queues are FIFO by enqueue time except retry, which orders by
// next-eligible time. A Manager composes all four and persists CBOR
// snapshots to a storage backend, debounced so bursts of mutations
// produce one save.
package queue
