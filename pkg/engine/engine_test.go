package engine

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-go/pkg/config"
	"github.com/pollinet/pollinet-go/pkg/fragment"
	"github.com/pollinet/pollinet-go/pkg/nonce"
	"github.com/pollinet/pollinet-go/pkg/queue"
	"github.com/pollinet/pollinet-go/pkg/txn"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

func testKey(seed byte) (string, ed25519.PrivateKey) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)
	return base58.Encode(pub), priv
}

func testBlockhash(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 32))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func decodeResult(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var res wire.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.True(t, res.OK, "result not ok: %s %s", res.Code, res.Message)
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &body))
	return body
}

func TestManagerHandleLifecycle(t *testing.T) {
	m := NewManager(nil)

	h1, err := m.Open()
	require.NoError(t, err)
	h2, err := m.Open()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, m.Len())

	_, err = m.Get(h1)
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(h1))
	_, err = m.Get(h1)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, m.Shutdown(h1), ErrInvalidHandle)

	// Handles are never reused after shutdown.
	h3, err := m.Open()
	require.NoError(t, err)
	assert.Greater(t, h3, h2)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}

func TestManagerRejectsBadHandles(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Get(0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = m.Get(-5)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = m.Get(42)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, CodeOK, CodeFor(nil))
	assert.Equal(t, CodeInvalidHandle, CodeFor(ErrInvalidHandle))
	assert.Equal(t, CodeMalformed, CodeFor(ErrMalformedInput))
	assert.Equal(t, CodeMalformed, CodeFor(txn.ErrDuplicateSignature))
	assert.Equal(t, CodeNotFound, CodeFor(txn.ErrArtifactNotFound))
	assert.Equal(t, CodeNotFound, CodeFor(nonce.ErrNoNonceAvailable))
	assert.Equal(t, CodeBufferTooSmall, CodeFor(ErrBufferTooSmall))
	assert.Equal(t, CodeInternal, CodeFor(assert.AnError))
}

func TestEnvelopeWrapsErrors(t *testing.T) {
	body := Envelope(nil, ErrBufferTooSmall)
	var res wire.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.OK)
	assert.Equal(t, "buffer_too_small", res.Code)

	ok, err := wire.OkResult(struct{}{})
	require.NoError(t, err)
	assert.Equal(t, ok, Envelope(ok, nil))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	m := NewManager(nil)
	h, err := m.Open()
	require.NoError(t, err)
	s, err := m.Get(h)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return s
}

func TestCreateUnsignedTransactionOnline(t *testing.T) {
	s := newTestSession(t)
	sender, _ := testKey(1)
	recipient, _ := testKey(2)

	out, err := s.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    5000,
		Blockhash: testBlockhash(9),
	}))
	require.NoError(t, err)

	body := decodeResult(t, out)
	assert.Equal(t, "TRANSFER", body["kind"])
	assert.Equal(t, "BUILT", body["status"])
	assert.Equal(t, false, body["durable"])
	assert.NotEmpty(t, body["transactionId"])

	signers := body["requiredSigners"].([]any)
	require.Len(t, signers, 1)
	assert.Equal(t, sender, signers[0])
}

func TestCreateUnsignedTransactionMalformed(t *testing.T) {
	s := newTestSession(t)

	_, err := s.CreateUnsignedTransaction([]byte(`{"sender":""}`))
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Equal(t, CodeMalformed, CodeFor(err))

	_, err = s.CreateUnsignedTransaction([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestOfflineBuildConsumesNonce(t *testing.T) {
	s := newTestSession(t)
	sender, _ := testKey(1)
	recipient, _ := testKey(2)
	authority, _ := testKey(3)
	nonceAccount, _ := testKey(4)

	out, err := s.CacheNonceAccounts(mustJSON(t, wire.CacheNonceAccountsRequest{
		Accounts: []wire.CachedNonce{{
			NonceAccount:         nonceAccount,
			Authority:            authority,
			Blockhash:            testBlockhash(7),
			LamportsPerSignature: 5000,
		}},
	}))
	require.NoError(t, err)
	counts := decodeResult(t, out)
	assert.Equal(t, float64(1), counts["available"])

	// Empty blockhash selects the offline durable-nonce path.
	out, err = s.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    100,
	}))
	require.NoError(t, err)
	body := decodeResult(t, out)
	assert.Equal(t, true, body["durable"])
	assert.Equal(t, nonceAccount, body["nonceAccount"])

	// The nonce authority must co-sign the advance instruction.
	signers := body["requiredSigners"].([]any)
	assert.Contains(t, signers, authority)

	// The cache entry is consumed; a second offline build fails.
	_, err = s.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    100,
	}))
	assert.ErrorIs(t, err, nonce.ErrNoNonceAvailable)
}

// signAll fetches the message to sign and applies every required
// signature from the given keys.
func signAll(t *testing.T, s *Session, id string, keys map[string]ed25519.PrivateKey) {
	t.Helper()

	out, err := s.RequiredSigners(mustJSON(t, wire.TransactionRequest{TransactionID: id}))
	require.NoError(t, err)
	signers := decodeResult(t, out)["signers"].([]any)

	out, err = s.MessageToSign(mustJSON(t, wire.TransactionRequest{TransactionID: id}))
	require.NoError(t, err)
	msg, err := base64.StdEncoding.DecodeString(decodeResult(t, out)["message"].(string))
	require.NoError(t, err)

	for _, signer := range signers {
		key, ok := keys[signer.(string)]
		require.True(t, ok, "no key for signer %s", signer)
		sig := ed25519.Sign(key, msg)
		_, err := s.ApplySignature(mustJSON(t, wire.ApplySignatureRequest{
			TransactionID: id,
			Signer:        signer.(string),
			Signature:     base58.Encode(sig),
		}))
		require.NoError(t, err)
	}
}

func TestSigningAndRelayRoundTrip(t *testing.T) {
	sender, senderKey := testKey(1)
	recipient, _ := testKey(2)

	tx := newTestSession(t)
	rx := newTestSession(t)

	out, err := tx.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    700,
		Blockhash: testBlockhash(8),
	}))
	require.NoError(t, err)
	id := decodeResult(t, out)["transactionId"].(string)

	signAll(t, tx, id, map[string]ed25519.PrivateKey{sender: senderKey})

	out, err = tx.VerifyAndSerialize(mustJSON(t, wire.TransactionRequest{TransactionID: id}))
	require.NoError(t, err)
	serialized, err := base64.StdEncoding.DecodeString(decodeResult(t, out)["transaction"].(string))
	require.NoError(t, err)

	out, err = tx.PushOutbound(mustJSON(t, wire.PushOutboundRequest{TransactionID: id}))
	require.NoError(t, err)
	pushed := decodeResult(t, out)
	payloadHash := pushed["payloadHash"].(string)
	fragments := int(pushed["fragments"].(float64))
	require.Greater(t, fragments, 0)

	// Drain the sender and feed every frame to the receiver.
	buf := make([]byte, 1024)
	sent := 0
	for {
		n, ok, err := tx.NextOutbound(buf)
		require.NoError(t, err)
		if !ok {
			break
		}
		sent++
		out, err := rx.PushInbound(append([]byte(nil), buf[:n]...))
		require.NoError(t, err)
		_ = out
	}
	assert.Equal(t, fragments, sent)

	// The receiver reassembled the exact serialized transaction.
	data, ok, err := rx.PopReceived()
	require.NoError(t, err)
	require.True(t, ok)
	body := decodeResult(t, data)
	assert.Equal(t, payloadHash, body["transactionId"])
	payload, err := base64.StdEncoding.DecodeString(body["payload"].(string))
	require.NoError(t, err)
	assert.Equal(t, serialized, payload)

	// And it parses back into a fully signed transaction.
	parsed, err := txn.Deserialize(payload)
	require.NoError(t, err)
	require.Len(t, parsed.Signatures, 1)

	_, err = rx.MarkSubmitted(mustJSON(t, wire.TransactionRequest{TransactionID: payloadHash}))
	require.NoError(t, err)
}

func TestNextOutboundBufferTooSmall(t *testing.T) {
	sender, senderKey := testKey(1)
	recipient, _ := testKey(2)
	s := newTestSession(t)

	out, err := s.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    1,
		Blockhash: testBlockhash(3),
	}))
	require.NoError(t, err)
	id := decodeResult(t, out)["transactionId"].(string)
	signAll(t, s, id, map[string]ed25519.PrivateKey{sender: senderKey})
	_, err = s.PushOutbound(mustJSON(t, wire.PushOutboundRequest{TransactionID: id}))
	require.NoError(t, err)

	_, _, err = s.NextOutbound(make([]byte, 4))
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	// The frame stays queued and a larger buffer gets it.
	n, ok, err := s.NextOutbound(make([]byte, 1024))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, n, 0)
}

func TestNextOutboundEmpty(t *testing.T) {
	s := newTestSession(t)
	n, ok, err := s.NextOutbound(make([]byte, 64))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestInboundCompressedPayloadDecompressed(t *testing.T) {
	s := newTestSession(t)

	// A compressible payload travels compressed over the link and is
	// restored before it reaches the received queue.
	original := bytes.Repeat([]byte("offline transaction bundle "), 40)
	payload := fragment.Compress(original)
	require.True(t, fragment.IsCompressed(payload))
	require.Less(t, len(payload), len(original))

	frags, err := fragment.Split(payload, 150)
	require.NoError(t, err)
	for _, f := range frags {
		frame, err := wire.EncodeFragment(f)
		require.NoError(t, err)
		_, err = s.PushInbound(frame)
		require.NoError(t, err)
	}

	data, ok, err := s.PopReceived()
	require.NoError(t, err)
	require.True(t, ok)
	body := decodeResult(t, data)
	restored, err := base64.StdEncoding.DecodeString(body["payload"].(string))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestInboundHeartbeatFeedsHealth(t *testing.T) {
	s := newTestSession(t)

	frame, err := wire.EncodeHeartbeat(&wire.Heartbeat{
		PeerID:    "peer-7",
		LatencyMs: 42,
		RSSI:      -66,
		Timestamp: time.Now().Unix(),
	})
	require.NoError(t, err)

	out, err := s.PushInbound(frame)
	require.NoError(t, err)
	body := decodeResult(t, out)
	assert.Equal(t, "heartbeat", body["frameType"])
	assert.Equal(t, "peer-7", body["peerId"])

	out, err = s.HealthSnapshot()
	require.NoError(t, err)
	snap := decodeResult(t, out)
	peers := snap["peers"].([]any)
	require.Len(t, peers, 1)
}

func TestInboundConfirmationRelaysUntilHopBudget(t *testing.T) {
	s := newTestSession(t)

	frame, err := wire.EncodeConfirmation(&wire.Confirmation{
		TransactionID: bytes.Repeat([]byte{3}, 32),
		Status:        wire.ConfirmationSuccess,
		Timestamp:     time.Now().Unix(),
		RelayCount:    1,
		MaxHops:       5,
	})
	require.NoError(t, err)

	out, err := s.PushInbound(frame)
	require.NoError(t, err)
	body := decodeResult(t, out)
	assert.Equal(t, true, body["relay"])

	// A confirmation frame drains from the outbound side with its
	// relay count incremented.
	buf := make([]byte, 256)
	n, ok, err := s.NextOutbound(buf)
	require.NoError(t, err)
	require.True(t, ok)
	c, err := wire.DecodeConfirmation(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint8(2), c.RelayCount)

	// At the hop budget the frame is absorbed, not relayed.
	spent, err := wire.EncodeConfirmation(&wire.Confirmation{
		TransactionID: bytes.Repeat([]byte{4}, 32),
		Status:        wire.ConfirmationFailed,
		Error:         "blockhash expired",
		Timestamp:     time.Now().Unix(),
		RelayCount:    5,
		MaxHops:       5,
	})
	require.NoError(t, err)
	out, err = s.PushInbound(spent)
	require.NoError(t, err)
	assert.Equal(t, false, decodeResult(t, out)["relay"])
}

func TestInboundGarbageRejected(t *testing.T) {
	s := newTestSession(t)
	_, err := s.PushInbound([]byte{0xff, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestTickRequeuesEligibleRetries(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()

	s.ScheduleRetry("ab12", []byte("payload"), "submit failed")

	report, err := s.Tick(now)
	require.NoError(t, err)
	assert.Zero(t, report.RetryReady)

	// Past the backoff delay the item moves to outbound.
	report, err = s.Tick(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RetryReady)
	assert.True(t, s.queues.Outbound.Contains("ab12"))
}

func TestTickFullOutboundDoesNotChargeRetryAttempt(t *testing.T) {
	cfg := config.Default()
	cfg.Queues.OutboundCapacity = 1
	m := NewManager(cfg)
	h, err := m.Open()
	require.NoError(t, err)
	s, err := m.Get(h)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	// Outbound is occupied by work that cannot be evicted.
	require.NoError(t, s.queues.Outbound.Push(queue.OutboundItem{
		TransactionID: "busy",
		Payload:       []byte("p"),
		Priority:      queue.PriorityHigh,
	}))

	now := time.Now()
	s.ScheduleRetry("cd34", []byte("payload"), "submit failed")

	// The eligible item cannot move to outbound; congestion must not
	// advance it toward the give-up limit.
	report, err := s.Tick(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.RetryReady)
	assert.False(t, s.queues.Outbound.Contains("cd34"))

	item, ok := s.queues.Retry.PopReady(now.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, "cd34", item.TransactionID)
	assert.Equal(t, 1, item.Attempts)
}

func TestTickRevertsExpiredReservations(t *testing.T) {
	s := newTestSession(t)
	authority, _ := testKey(3)
	nonceAccount, _ := testKey(4)

	_, err := s.CacheNonceAccounts(mustJSON(t, wire.CacheNonceAccountsRequest{
		Accounts: []wire.CachedNonce{{
			NonceAccount: nonceAccount,
			Authority:    authority,
			Blockhash:    testBlockhash(7),
		}},
	}))
	require.NoError(t, err)

	_, err = s.nonces.NextAvailable()
	require.NoError(t, err)

	report, err := s.Tick(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RevertedReservations)
}

func TestClearTransaction(t *testing.T) {
	s := newTestSession(t)
	sender, _ := testKey(1)
	recipient, _ := testKey(2)

	out, err := s.CreateUnsignedTransaction(mustJSON(t, wire.CreateUnsignedTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		FeePayer:  sender,
		Amount:    9,
		Blockhash: testBlockhash(1),
	}))
	require.NoError(t, err)
	id := decodeResult(t, out)["transactionId"].(string)

	_, err = s.ClearTransaction(mustJSON(t, wire.TransactionRequest{TransactionID: id}))
	require.NoError(t, err)

	_, err = s.MessageToSign(mustJSON(t, wire.TransactionRequest{TransactionID: id}))
	assert.ErrorIs(t, err, txn.ErrArtifactNotFound)
}

func TestSessionMetrics(t *testing.T) {
	s := newTestSession(t)
	s.RecordHeartbeat("peer-1")

	out, err := s.Metrics()
	require.NoError(t, err)
	body := decodeResult(t, out)
	assert.NotEmpty(t, body["sessionId"])

	healthMetrics := body["health"].(map[string]any)
	assert.Equal(t, float64(1), healthMetrics["totalPeers"])
}

func TestConcurrentSessionAccess(t *testing.T) {
	s := newTestSession(t)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.RecordHeartbeat("peer-x")
			_, _ = s.Metrics()
		}
	}()

	buf := make([]byte, 512)
	for i := 0; i < 200; i++ {
		_, _, _ = s.NextOutbound(buf)
		_, _ = s.Tick(time.Now())
	}
	<-done
}

func TestLargePayloadFragmentsWithConfiguredUnit(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.MaxUnit = 200
	m := NewManager(cfg)
	h, err := m.Open()
	require.NoError(t, err)
	s, err := m.Get(h)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 200, s.chunkSize)
	stats, err := fragment.EstimateStats(900, s.chunkSize)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Count)
}
