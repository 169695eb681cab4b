// Package nonce caches durable-nonce account state so transactions can
// be built and signed without a live blockhash.
//
// Entries are upserted in batches fetched by the host while online.
// NextAvailable hands out one entry at a time under a short reservation
// so concurrent builders never embed the same nonce. Consumed entries
// stay in the cache marked used until the host refreshes them with new
// state; they are never silently deleted.
package nonce
