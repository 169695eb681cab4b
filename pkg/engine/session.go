package engine

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollinet/pollinet-go/pkg/config"
	"github.com/pollinet/pollinet-go/pkg/fragment"
	"github.com/pollinet/pollinet-go/pkg/health"
	"github.com/pollinet/pollinet-go/pkg/log"
	"github.com/pollinet/pollinet-go/pkg/nonce"
	"github.com/pollinet/pollinet-go/pkg/queue"
	"github.com/pollinet/pollinet-go/pkg/storage"
	"github.com/pollinet/pollinet-go/pkg/txn"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

// Session is one independent relay engine instance. All mutating
// operations serialize on the session mutex; separate sessions never
// contend.
type Session struct {
	id        string
	peerID    string
	chunkSize int

	mu         sync.Mutex
	reasm      *fragment.Reassembler
	nonces     *nonce.Cache
	nonceStore *nonce.FileStore
	artifacts  *txn.Store
	builder    *txn.Builder
	orch       *txn.Orchestrator
	queues     *queue.Manager
	health     *health.Monitor
	db         storage.Database
	logger     log.Logger

	// pending holds encoded frames split from the outbound item
	// currently being transmitted.
	pending [][]byte

	reassemblyTimeout time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// newSession wires a session from the configuration. Queue state is
// restored from db when a snapshot exists.
func newSession(cfg *config.Config, db storage.Database, logger log.Logger) (*Session, error) {
	nonces := nonce.NewCache()
	nonces.SetReservationTimeout(cfg.Nonce.ReservationTimeout.Std())
	nonces.SetLogger(logger)

	artifacts := txn.NewStore()
	builder := txn.NewBuilder(nonces, artifacts)
	builder.SetLogger(logger)
	orch := txn.NewOrchestrator(artifacts)
	orch.SetLogger(logger)

	queues := queue.NewManager(cfg.QueueConfig(), db)
	queues.SetLogger(logger)
	if err := queues.Load(); err != nil {
		return nil, err
	}

	reasm := fragment.NewReassembler()
	reasm.SetLogger(logger)

	s := &Session{
		id:                uuid.NewString(),
		peerID:            cfg.PeerID,
		chunkSize:         cfg.ChunkSize(),
		reasm:             reasm,
		nonces:            nonces,
		artifacts:         artifacts,
		builder:           builder,
		orch:              orch,
		queues:            queues,
		health:            health.NewMonitor(cfg.HealthConfig()),
		db:                db,
		logger:            logger,
		reassemblyTimeout: cfg.Transport.ReassemblyTimeout.Std(),
		now:               time.Now,
	}
	if cfg.Nonce.SnapshotPath != "" {
		s.nonceStore = nonce.NewFileStore(cfg.Nonce.SnapshotPath)
		if err := s.nonceStore.Load(nonces); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ID returns the session's identifier, carried in log events.
func (s *Session) ID() string { return s.id }

// Close saves all persistent state and releases storage.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	if err := s.queues.ForceSave(); err != nil {
		first = err
	}
	if s.nonceStore != nil {
		if err := s.nonceStore.Save(s.nonces); err != nil && first == nil {
			first = err
		}
	}
	if err := s.db.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// malformed wraps a decode or validation failure for code mapping.
func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedInput, err)
}

// artifactSummary is the boundary view of a built artifact.
type artifactSummary struct {
	TransactionID   string   `json:"transactionId"`
	Kind            string   `json:"kind"`
	Status          string   `json:"status"`
	Durable         bool     `json:"durable"`
	NonceAccount    string   `json:"nonceAccount,omitempty"`
	RequiredSigners []string `json:"requiredSigners"`
}

func (s *Session) summarize(a *txn.Artifact) ([]byte, error) {
	signers, err := s.orch.RequiredSigners(a.ID)
	if err != nil {
		return nil, err
	}
	return wire.OkResult(artifactSummary{
		TransactionID:   a.ID,
		Kind:            a.Kind.String(),
		Status:          a.Status.String(),
		Durable:         a.Durable,
		NonceAccount:    a.NonceAccount,
		RequiredSigners: signers,
	})
}

// CreateUnsignedTransaction builds an unsigned SOL transfer. An empty
// blockhash in the request takes the offline durable-nonce path.
func (s *Session) CreateUnsignedTransaction(reqJSON []byte) ([]byte, error) {
	var req wire.CreateUnsignedTransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.builder.BuildTransfer(&req)
	if err != nil {
		return nil, err
	}
	return s.summarize(a)
}

// CreateUnsignedSplTransaction builds an unsigned SPL token transfer,
// deriving both associated token accounts.
func (s *Session) CreateUnsignedSplTransaction(reqJSON []byte) ([]byte, error) {
	var req wire.CreateUnsignedSplTransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.builder.BuildTokenTransfer(&req)
	if err != nil {
		return nil, err
	}
	return s.summarize(a)
}

// CastUnsignedVote builds an unsigned governance vote.
func (s *Session) CastUnsignedVote(reqJSON []byte) ([]byte, error) {
	var req wire.CastUnsignedVoteRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.builder.BuildVote(&req)
	if err != nil {
		return nil, err
	}
	return s.summarize(a)
}

// CacheNonceAccounts upserts a batch of durable-nonce entries and
// returns the cache counts.
func (s *Session) CacheNonceAccounts(reqJSON []byte) ([]byte, error) {
	var req wire.CacheNonceAccountsRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]nonce.Entry, 0, len(req.Accounts))
	for _, acc := range req.Accounts {
		cachedAt := s.now()
		if acc.CachedAt > 0 {
			cachedAt = time.Unix(acc.CachedAt, 0)
		}
		entries = append(entries, nonce.Entry{
			Account:              acc.NonceAccount,
			Authority:            acc.Authority,
			Blockhash:            acc.Blockhash,
			LamportsPerSignature: acc.LamportsPerSignature,
			CachedAt:             cachedAt,
		})
	}
	s.nonces.Cache(entries)
	return wire.OkResult(s.nonces.Counts())
}

// NonceStatus reports the cache counts and entries.
func (s *Session) NonceStatus() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.OkResult(struct {
		Counts  nonce.Counts  `json:"counts"`
		Entries []nonce.Entry `json:"entries"`
	}{s.nonces.Counts(), s.nonces.Entries()})
}

// MarkNoncesStale flags every cached nonce as needing a refresh, e.g.
// after a long offline period.
func (s *Session) MarkNoncesStale() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces.MarkAllStale()
	return wire.OkResult(s.nonces.Counts())
}

// MessageToSign returns the exact bytes a signer must sign, base64
// encoded.
func (s *Session) MessageToSign(reqJSON []byte) ([]byte, error) {
	var req wire.TransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.orch.MessageToSign(req.TransactionID)
	if err != nil {
		return nil, err
	}
	return wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
		Message       string `json:"message"`
	}{req.TransactionID, base64.StdEncoding.EncodeToString(msg)})
}

// RequiredSigners lists the base58 public keys that must sign, in
// signature slot order.
func (s *Session) RequiredSigners(reqJSON []byte) ([]byte, error) {
	var req wire.TransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	signers, err := s.orch.RequiredSigners(req.TransactionID)
	if err != nil {
		return nil, err
	}
	return wire.OkResult(struct {
		TransactionID string   `json:"transactionId"`
		Signers       []string `json:"signers"`
	}{req.TransactionID, signers})
}

// ApplySignature attaches one signer's signature. The application is
// all-or-nothing; a failure leaves the artifact unchanged.
func (s *Session) ApplySignature(reqJSON []byte) ([]byte, error) {
	var req wire.ApplySignatureRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.orch.ApplySignature(req.TransactionID, req.Signer, req.Signature); err != nil {
		return nil, err
	}
	a, err := s.artifacts.Get(req.TransactionID)
	if err != nil {
		return nil, err
	}
	return s.summarize(a)
}

// VerifyAndSerialize checks completeness and every signature, then
// returns the serialized transaction base64 encoded.
func (s *Session) VerifyAndSerialize(reqJSON []byte) ([]byte, error) {
	var req wire.TransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.orch.VerifyAndSerialize(req.TransactionID)
	if err != nil {
		return nil, err
	}
	return wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
		Transaction   string `json:"transaction"`
		Size          int    `json:"size"`
	}{req.TransactionID, base64.StdEncoding.EncodeToString(data), len(data)})
}

// RefreshBlockhash rewrites an unsigned artifact's blockhash. Refused
// once any signature is applied.
func (s *Session) RefreshBlockhash(reqJSON []byte) ([]byte, error) {
	var req wire.RefreshBlockhashRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.orch.RefreshBlockhash(req.TransactionID, req.Blockhash); err != nil {
		return nil, err
	}
	a, err := s.artifacts.Get(req.TransactionID)
	if err != nil {
		return nil, err
	}
	return s.summarize(a)
}

// ClearTransaction abandons an artifact: it is removed from the store,
// any reassembly buffer and queued confirmations for its payload hash
// are dropped.
func (s *Session) ClearTransaction(reqJSON []byte) ([]byte, error) {
	var req wire.TransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts.Remove(req.TransactionID)
	if raw, err := hex.DecodeString(req.TransactionID); err == nil && len(raw) == wire.TransactionIDSize {
		s.reasm.Drop(raw)
		s.queues.Confirmations.Remove(raw)
		s.queues.MarkDirty()
	}
	return wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
	}{req.TransactionID})
}

// PushOutbound places a verified artifact on the outbound queue. The
// queued payload is the fully signed serialized transaction, LZ4
// compressed above the size threshold; its id is the hex hash of the
// bytes that go over the link, as used by the fragment protocol.
func (s *Session) PushOutbound(reqJSON []byte) ([]byte, error) {
	var req wire.PushOutboundRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.orch.VerifyAndSerialize(req.TransactionID)
	if err != nil {
		return nil, err
	}
	payload = fragment.Compress(payload)
	txID := hex.EncodeToString(fragment.TransactionID(payload))
	if err := s.queues.Outbound.Push(queue.OutboundItem{
		TransactionID: txID,
		Payload:       payload,
		Priority:      priority,
	}); err != nil {
		return nil, err
	}
	s.queues.MarkDirty()

	stats, _ := fragment.EstimateStats(len(payload), s.chunkSize)
	return wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
		PayloadHash   string `json:"payloadHash"`
		Fragments     int    `json:"fragments"`
	}{req.TransactionID, txID, stats.Count})
}

// NextOutbound writes the next frame to transmit into buf and returns
// the byte count. Confirmation frames drain before transaction
// fragments. Returns ok=false when nothing is pending. A too-small
// buffer leaves the frame queued.
func (s *Session) NextOutbound(buf []byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.peekFrame()
	if err != nil {
		return 0, false, err
	}
	if frame == nil {
		return 0, false, nil
	}
	if len(frame) > len(buf) {
		return 0, false, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(frame), len(buf))
	}
	s.consumeFrame()
	return copy(buf, frame), true, nil
}

// peekFrame returns the next frame without consuming it, refilling the
// pending fragment list from the outbound queue when empty. Caller
// holds s.mu.
func (s *Session) peekFrame() ([]byte, error) {
	if len(s.pending) > 0 {
		return s.pending[0], nil
	}

	if c, ok := s.queues.Confirmations.Pop(); ok {
		data, err := wire.EncodeConfirmation(&c)
		if err != nil {
			return nil, err
		}
		s.queues.MarkDirty()
		s.pending = append(s.pending, data)
		return data, nil
	}

	item, ok := s.queues.Outbound.Pop()
	if !ok {
		return nil, nil
	}
	s.queues.MarkDirty()

	fragments, err := fragment.Split(item.Payload, s.chunkSize)
	if err != nil {
		return nil, err
	}
	for _, f := range fragments {
		data, err := wire.EncodeFragment(f)
		if err != nil {
			return nil, err
		}
		s.pending = append(s.pending, data)
	}
	return s.pending[0], nil
}

// consumeFrame drops the frame peekFrame returned. Caller holds s.mu.
func (s *Session) consumeFrame() {
	s.pending = s.pending[1:]
}

// inboundResult is the boundary view of a processed inbound frame.
type inboundResult struct {
	FrameType     string `json:"frameType"`
	TransactionID string `json:"transactionId,omitempty"`
	Complete      bool   `json:"complete,omitempty"`
	Received      int    `json:"received,omitempty"`
	Total         int    `json:"total,omitempty"`
	PeerID        string `json:"peerId,omitempty"`
}

// PushInbound processes one frame received from the link: fragments
// feed reassembly (a completed payload lands on the received queue),
// confirmations are queued for relay, heartbeats update peer health.
func (s *Session) PushInbound(data []byte) ([]byte, error) {
	frameType, err := wire.PeekFrameType(data)
	if err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch frameType {
	case wire.FrameFragment:
		return s.inboundFragment(data)
	case wire.FrameConfirmation:
		return s.inboundConfirmation(data)
	case wire.FrameHeartbeat:
		return s.inboundHeartbeat(data)
	default:
		return nil, fmt.Errorf("%w: frame type %d", ErrMalformedInput, frameType)
	}
}

func (s *Session) inboundFragment(data []byte) ([]byte, error) {
	f, err := wire.DecodeFragment(data)
	if err != nil {
		return nil, malformed(err)
	}

	complete, err := s.reasm.Add(f)
	if err != nil {
		return nil, err
	}

	txID := hex.EncodeToString(f.TransactionID)
	res := inboundResult{FrameType: "fragment", TransactionID: txID, Complete: complete}
	res.Received, res.Total, _ = s.reasm.Progress(f.TransactionID)

	if complete {
		payload, err := s.reasm.Reconstruct(f.TransactionID)
		if err != nil {
			return nil, err
		}
		payload, err = fragment.Decompress(payload)
		if err != nil {
			return nil, err
		}
		err = s.queues.Received.Push(queue.ReceivedItem{
			TransactionID: txID,
			Payload:       payload,
		})
		// A duplicate here means another mesh path delivered the same
		// transaction first; the reassembly still succeeded.
		if err != nil && !errors.Is(err, queue.ErrDuplicate) {
			return nil, err
		}
		s.queues.MarkDirty()
	}
	return wire.OkResult(res)
}

func (s *Session) inboundConfirmation(data []byte) ([]byte, error) {
	c, err := wire.DecodeConfirmation(data)
	if err != nil {
		return nil, malformed(err)
	}

	txID := hex.EncodeToString(c.TransactionID)
	relay := true
	if err := s.queues.Confirmations.Push(*c); err != nil {
		if !errors.Is(err, queue.ErrHopsExceeded) {
			return nil, err
		}
		relay = false
	}
	s.queues.MarkDirty()
	return wire.OkResult(struct {
		inboundResult
		Relay bool `json:"relay"`
	}{inboundResult{FrameType: "confirmation", TransactionID: txID}, relay})
}

func (s *Session) inboundHeartbeat(data []byte) ([]byte, error) {
	hb, err := wire.DecodeHeartbeat(data)
	if err != nil {
		return nil, malformed(err)
	}
	s.health.ObserveHeartbeat(hb)
	return wire.OkResult(inboundResult{FrameType: "heartbeat", PeerID: hb.PeerID})
}

// PopReceived hands the oldest reassembled inbound artifact to the
// host. Returns ok=false when the queue is empty.
func (s *Session) PopReceived() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queues.Received.Pop()
	if !ok {
		return nil, false, nil
	}
	s.queues.MarkDirty()
	data, err := wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
		Payload       string `json:"payload"`
	}{item.TransactionID, base64.StdEncoding.EncodeToString(item.Payload)})
	return data, true, err
}

// MarkSubmitted records that the host submitted a received
// transaction, suppressing late duplicates from other mesh paths.
func (s *Session) MarkSubmitted(reqJSON []byte) ([]byte, error) {
	var req wire.TransactionRequest
	if err := wire.DecodeRequest(reqJSON, &req); err != nil {
		return nil, malformed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.Received.MarkSubmitted(req.TransactionID)
	s.queues.MarkDirty()
	return wire.OkResult(struct {
		TransactionID string `json:"transactionId"`
	}{req.TransactionID})
}

// ScheduleRetry moves a failed submission onto the retry queue with
// its next backoff delay.
func (s *Session) ScheduleRetry(transactionID string, payload []byte, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.Retry.Add(queue.RetryItem{
		TransactionID: transactionID,
		Payload:       payload,
		LastError:     lastError,
	})
	s.queues.MarkDirty()
}

// RecordHeartbeat, RecordLatency and RecordRSSI feed the peer health
// monitor directly, for hosts that observe the link themselves.
func (s *Session) RecordHeartbeat(peerID string) { s.health.RecordHeartbeat(peerID) }

func (s *Session) RecordLatency(peerID string, latencyMs uint32) {
	s.health.RecordLatency(peerID, latencyMs)
}

func (s *Session) RecordRSSI(peerID string, rssi int8) { s.health.RecordRSSI(peerID, rssi) }

func (s *Session) RecordPacketSent(peerID string, ok bool) { s.health.RecordPacketSent(peerID, ok) }

// HealthSnapshot reports every tracked peer's derived state and score.
func (s *Session) HealthSnapshot() ([]byte, error) {
	return wire.OkResult(s.health.Snapshot(s.now()))
}

// TickReport summarizes the time-based transitions one tick ran.
type TickReport struct {
	RevertedReservations int  `json:"revertedReservations"`
	EvictedBuffers       int  `json:"evictedBuffers"`
	PrunedQueueItems     int  `json:"prunedQueueItems"`
	RetryReady           int  `json:"retryReady"`
	Saved                bool `json:"saved"`
}

// Tick drives every time-based transition: expired nonce reservations
// revert, stale reassembly buffers drop, TTL prunes run, eligible
// retry items move back onto the outbound queue, and dirty queue state
// debounce-saves. Safe to call repeatedly.
func (s *Session) Tick(now time.Time) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report TickReport
	report.RevertedReservations = s.nonces.Tick(now)
	report.EvictedBuffers = s.reasm.CleanupStale(s.reassemblyTimeout)
	report.PrunedQueueItems = s.queues.Cleanup(now)

	for {
		item, ok := s.queues.Retry.PopReady(now)
		if !ok {
			break
		}
		if s.queues.Retry.ShouldGiveUp(item, now) {
			s.queues.MarkDirty()
			continue
		}
		err := s.queues.Outbound.Push(queue.OutboundItem{
			TransactionID: item.TransactionID,
			Payload:       item.Payload,
			Priority:      queue.PriorityNormal,
		})
		if err != nil && !errors.Is(err, queue.ErrDuplicate) {
			// Outbound is full of higher-priority work; put the item
			// back for a later tick without charging an attempt.
			s.queues.Retry.Reinsert(item)
			break
		}
		report.RetryReady++
		s.queues.MarkDirty()
	}

	saved, err := s.queues.AutoSave()
	if err != nil {
		return report, err
	}
	report.Saved = saved
	return report, nil
}

// SaveState persists queues and the nonce snapshot immediately.
func (s *Session) SaveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queues.ForceSave(); err != nil {
		return err
	}
	if s.nonceStore != nil {
		return s.nonceStore.Save(s.nonces)
	}
	return nil
}

// SessionMetrics aggregates the session's component metrics.
type SessionMetrics struct {
	SessionID  string           `json:"sessionId"`
	Queues     queue.Metrics    `json:"queues"`
	Reassembly fragment.Metrics `json:"reassembly"`
	Nonces     nonce.Counts     `json:"nonces"`
	Health     health.Metrics   `json:"health"`
	Artifacts  int              `json:"artifacts"`
	PendingTx  int              `json:"pendingFrames"`
}

// Metrics reports a point-in-time view across all components.
func (s *Session) Metrics() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OkResult(SessionMetrics{
		SessionID:  s.id,
		Queues:     s.queues.Metrics(),
		Reassembly: s.reasm.Metrics(),
		Nonces:     s.nonces.Counts(),
		Health:     s.health.Snapshot(s.now()).Metrics,
		Artifacts:  s.artifacts.Len(),
		PendingTx:  len(s.pending),
	})
}
