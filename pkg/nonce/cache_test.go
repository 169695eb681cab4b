package nonce

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheUpsertAndReserve(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{
		{Account: "nonce1", Authority: "auth1", Blockhash: "hash1", CachedAt: time.Unix(100, 0)},
		{Account: "nonce2", Authority: "auth2", Blockhash: "hash2", CachedAt: time.Unix(50, 0)},
	})

	counts := c.Counts()
	assert.Equal(t, 2, counts.Available)

	// Oldest cached entry is handed out first.
	e, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "nonce2", e.Account)

	e2, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "nonce1", e2.Account)

	// Pool exhausted.
	_, err = c.NextAvailable()
	assert.ErrorIs(t, err, ErrNoNonceAvailable)
}

func TestNoDoubleReservation(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "h"}})

	first, err := c.NextAvailable()
	require.NoError(t, err)

	_, err = c.NextAvailable()
	require.ErrorIs(t, err, ErrNoNonceAvailable)

	require.NoError(t, c.Release(first.Account))

	again, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, first.Account, again.Account)
}

func TestConsumeKeepsEntry(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "old"}})

	e, err := c.NextAvailable()
	require.NoError(t, err)
	require.NoError(t, c.Consume(e.Account))

	// Consumed entries stay in the cache but are not selectable.
	_, err = c.NextAvailable()
	assert.ErrorIs(t, err, ErrNoNonceAvailable)

	got, ok := c.Get("nonce1")
	require.True(t, ok)
	assert.Equal(t, StateConsumed, got.State)

	// A refresh with new nonce state makes it available again.
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "new"}})
	refreshed, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "new", refreshed.Blockhash)
}

func TestReleaseAndConsumeErrors(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "h"}})

	assert.ErrorIs(t, c.Release("missing"), ErrUnknownAccount)
	assert.ErrorIs(t, c.Consume("missing"), ErrUnknownAccount)

	// Not reserved yet.
	assert.ErrorIs(t, c.Release("nonce1"), ErrNotReserved)
	assert.ErrorIs(t, c.Consume("nonce1"), ErrNotReserved)
}

func TestReservationExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache()
	c.now = func() time.Time { return now }
	c.SetReservationTimeout(30 * time.Second)
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "h"}})

	_, err := c.NextAvailable()
	require.NoError(t, err)

	// Before the deadline nothing reverts.
	assert.Equal(t, 0, c.Tick(now.Add(10*time.Second)))

	reverted := c.Tick(now.Add(31 * time.Second))
	assert.Equal(t, 1, reverted)

	_, err = c.NextAvailable()
	assert.NoError(t, err)
}

func TestMarkAllStale(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{
		{Account: "nonce1", Authority: "a", Blockhash: "h1"},
		{Account: "nonce2", Authority: "a", Blockhash: "h2"},
	})

	c.MarkAllStale()

	_, err := c.NextAvailable()
	assert.ErrorIs(t, err, ErrNoNonceAvailable)
	assert.Equal(t, 2, c.Counts().Stale)

	// Refreshing one entry clears its stale mark.
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "h1b"}})
	e, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "nonce1", e.Account)
}

func TestUpsertDoesNotDisturbReservation(t *testing.T) {
	c := NewCache()
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "old"}})

	_, err := c.NextAvailable()
	require.NoError(t, err)

	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "new"}})

	got, ok := c.Get("nonce1")
	require.True(t, ok)
	assert.Equal(t, StateReserved, got.State)
	assert.Equal(t, "old", got.Blockhash)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nonces.json")
	store := NewFileStore(path)

	c := NewCache()
	c.Cache([]Entry{
		{Account: "nonce1", Authority: "a", Blockhash: "h1", CachedAt: time.Unix(100, 0)},
		{Account: "nonce2", Authority: "a", Blockhash: "h2", CachedAt: time.Unix(200, 0)},
	})
	reserved, err := c.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "nonce1", reserved.Account)

	require.NoError(t, store.Save(c))

	restored := NewCache()
	require.NoError(t, store.Load(restored))

	counts := restored.Counts()
	assert.Equal(t, 2, counts.Available, "reservation must not survive a restart")

	e, err := restored.NextAvailable()
	require.NoError(t, err)
	assert.Equal(t, "nonce1", e.Account)
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	c := NewCache()
	require.NoError(t, store.Load(c))
	assert.Equal(t, 0, c.Counts().Available)
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	store := NewFileStore(path)

	c := NewCache()
	c.Cache([]Entry{{Account: "nonce1", Authority: "a", Blockhash: "h"}})
	require.NoError(t, store.Save(c))
	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clearing twice must not fail")

	restored := NewCache()
	require.NoError(t, store.Load(restored))
	assert.Equal(t, 0, restored.Counts().Available)
}
