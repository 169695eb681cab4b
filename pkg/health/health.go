// Package health tracks per-peer link quality from heartbeat, latency
// and signal strength observations, and scores peers for relay
// selection.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/pollinet/pollinet-go/pkg/wire"
)

// PeerState classifies a peer by heartbeat recency.
type PeerState uint8

const (
	// PeerReachable has a recent heartbeat.
	PeerReachable PeerState = 0
	// PeerStale has missed heartbeats but may recover.
	PeerStale PeerState = 1
	// PeerUnreachable has been silent past the dead threshold and is
	// not scored.
	PeerUnreachable PeerState = 2
)

// String returns the state name.
func (s PeerState) String() string {
	switch s {
	case PeerReachable:
		return "REACHABLE"
	case PeerStale:
		return "STALE"
	case PeerUnreachable:
		return "UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}

// Config tunes peer classification and scoring. Zero values are
// corrected to defaults.
type Config struct {
	// StaleThreshold is the silence after which a peer is stale.
	StaleThreshold time.Duration `yaml:"staleThreshold"`

	// DeadThreshold is the silence after which a peer is unreachable.
	DeadThreshold time.Duration `yaml:"deadThreshold"`

	// SampleWindow bounds the latency and RSSI windows per peer.
	SampleWindow int `yaml:"sampleWindow"`

	// MinGoodRSSI is the signal floor for an unpenalized link.
	MinGoodRSSI int8 `yaml:"minGoodRssi"`

	// MinAcceptableRSSI is the signal floor for a usable link.
	MinAcceptableRSSI int8 `yaml:"minAcceptableRssi"`
}

// DefaultConfig returns the standard health configuration.
func DefaultConfig() Config {
	return Config{
		StaleThreshold:    30 * time.Second,
		DeadThreshold:     120 * time.Second,
		SampleWindow:      10,
		MinGoodRSSI:       -70,
		MinAcceptableRSSI: -85,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if c.DeadThreshold <= c.StaleThreshold {
		c.DeadThreshold = c.StaleThreshold * 4
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = d.SampleWindow
	}
	if c.MinGoodRSSI == 0 {
		c.MinGoodRSSI = d.MinGoodRSSI
	}
	if c.MinAcceptableRSSI == 0 {
		c.MinAcceptableRSSI = d.MinAcceptableRSSI
	}
	return c
}

// record is the mutable per-peer state.
type record struct {
	lastSeen        time.Time
	latencySamples  []uint32
	rssiSamples     []int8
	packetsSent     uint64
	packetsReceived uint64
	txFailures      uint64
}

// PeerHealth is one peer's derived health at snapshot time.
type PeerHealth struct {
	PeerID           string    `json:"peerId"`
	State            PeerState `json:"state"`
	LastSeen         time.Time `json:"lastSeen"`
	SecondsSinceSeen uint64    `json:"secondsSinceSeen"`
	AvgLatencyMs     uint32    `json:"avgLatencyMs"`
	AvgRSSI          int8      `json:"avgRssi"`
	HasRSSI          bool      `json:"hasRssi"`
	PacketsSent      uint64    `json:"packetsSent"`
	PacketsReceived  uint64    `json:"packetsReceived"`
	TxFailures       uint64    `json:"txFailures"`
	PacketLossRate   float32   `json:"packetLossRate"`

	// Score is 0-100, meaningful only while the peer is reachable or
	// stale.
	Score uint8 `json:"score"`
}

// Metrics aggregates link health across all tracked peers.
type Metrics struct {
	TotalPeers       int     `json:"totalPeers"`
	ReachablePeers   int     `json:"reachablePeers"`
	StalePeers       int     `json:"stalePeers"`
	UnreachablePeers int     `json:"unreachablePeers"`
	AvgLatencyMs     uint32  `json:"avgLatencyMs"`
	MaxLatencyMs     uint32  `json:"maxLatencyMs"`
	MinLatencyMs     uint32  `json:"minLatencyMs"`
	AvgPacketLoss    float32 `json:"avgPacketLoss"`
}

// Snapshot is a point-in-time view of all tracked peers, best score
// first.
type Snapshot struct {
	TakenAt time.Time    `json:"takenAt"`
	Peers   []PeerHealth `json:"peers"`
	Metrics Metrics      `json:"metrics"`
}

// Monitor tracks peer observations. Safe for concurrent use. Peers are
// created on first observation and only removed explicitly; silence
// decays their score and eventually reports them unreachable.
type Monitor struct {
	mu    sync.Mutex
	peers map[string]*record
	cfg   Config

	// now is swappable for tests.
	now func() time.Time
}

// NewMonitor creates a monitor with the given configuration.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		peers: make(map[string]*record),
		cfg:   cfg.normalized(),
		now:   time.Now,
	}
}

// RecordHeartbeat notes that a peer is alive now.
func (m *Monitor) RecordHeartbeat(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(peerID).lastSeen = m.now()
}

// RecordLatency appends a round-trip sample, evicting the oldest once
// the window is full.
func (m *Monitor) RecordLatency(peerID string, latencyMs uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.get(peerID)
	r.latencySamples = append(r.latencySamples, latencyMs)
	if len(r.latencySamples) > m.cfg.SampleWindow {
		r.latencySamples = r.latencySamples[1:]
	}
}

// RecordRSSI appends a signal strength sample, evicting the oldest once
// the window is full.
func (m *Monitor) RecordRSSI(peerID string, rssi int8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.get(peerID)
	r.rssiSamples = append(r.rssiSamples, rssi)
	if len(r.rssiSamples) > m.cfg.SampleWindow {
		r.rssiSamples = r.rssiSamples[1:]
	}
}

// RecordPacketSent counts an outbound packet and whether it failed.
func (m *Monitor) RecordPacketSent(peerID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.get(peerID)
	r.packetsSent++
	if !ok {
		r.txFailures++
	}
}

// RecordPacketReceived counts an inbound packet. Reception is
// liveness, so the peer's last-seen time advances too.
func (m *Monitor) RecordPacketReceived(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.get(peerID)
	r.packetsReceived++
	r.lastSeen = m.now()
}

// ObserveHeartbeat folds a decoded heartbeat frame into the monitor,
// recording liveness plus any latency and RSSI samples it carries.
func (m *Monitor) ObserveHeartbeat(hb *wire.Heartbeat) {
	m.RecordHeartbeat(hb.PeerID)
	if hb.LatencyMs > 0 {
		m.RecordLatency(hb.PeerID, hb.LatencyMs)
	}
	if hb.RSSI != 0 {
		m.RecordRSSI(hb.PeerID, hb.RSSI)
	}
}

// RemoveUnreachable drops peers past the dead threshold and returns
// their ids.
func (m *Monitor) RemoveUnreachable(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, r := range m.peers {
		if now.Sub(r.lastSeen) > m.cfg.DeadThreshold {
			removed = append(removed, id)
			delete(m.peers, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len reports the tracked peer count.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Peer returns one peer's derived health.
func (m *Monitor) Peer(peerID string) (PeerHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.peers[peerID]
	if !ok {
		return PeerHealth{}, false
	}
	return m.derive(peerID, r, m.now()), true
}

// Snapshot derives every peer's state and score as of now. Peers are
// ordered best score first, unreachable peers last.
func (m *Monitor) Snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{TakenAt: now}
	var latencies []uint32
	var totalSent, totalFailed uint64

	for id, r := range m.peers {
		p := m.derive(id, r, now)
		snap.Peers = append(snap.Peers, p)

		snap.Metrics.TotalPeers++
		switch p.State {
		case PeerReachable:
			snap.Metrics.ReachablePeers++
		case PeerStale:
			snap.Metrics.StalePeers++
		case PeerUnreachable:
			snap.Metrics.UnreachablePeers++
		}
		if p.AvgLatencyMs > 0 {
			latencies = append(latencies, p.AvgLatencyMs)
		}
		totalSent += p.PacketsSent
		totalFailed += p.TxFailures
	}

	if len(latencies) > 0 {
		var sum uint32
		min, max := latencies[0], latencies[0]
		for _, l := range latencies {
			sum += l
			if l < min {
				min = l
			}
			if l > max {
				max = l
			}
		}
		snap.Metrics.AvgLatencyMs = sum / uint32(len(latencies))
		snap.Metrics.MinLatencyMs = min
		snap.Metrics.MaxLatencyMs = max
	}
	if totalSent > 0 {
		snap.Metrics.AvgPacketLoss = float32(totalFailed) / float32(totalSent)
	}

	sort.SliceStable(snap.Peers, func(i, j int) bool {
		a, b := snap.Peers[i], snap.Peers[j]
		if (a.State == PeerUnreachable) != (b.State == PeerUnreachable) {
			return b.State == PeerUnreachable
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.PeerID < b.PeerID
	})
	return snap
}

// get returns the record for a peer, creating it on first observation.
// Caller holds m.mu.
func (m *Monitor) get(peerID string) *record {
	r, ok := m.peers[peerID]
	if !ok {
		r = &record{lastSeen: m.now()}
		m.peers[peerID] = r
	}
	return r
}

// derive computes a peer's state and score as of now. Caller holds
// m.mu.
func (m *Monitor) derive(peerID string, r *record, now time.Time) PeerHealth {
	p := PeerHealth{
		PeerID:          peerID,
		LastSeen:        r.lastSeen,
		PacketsSent:     r.packetsSent,
		PacketsReceived: r.packetsReceived,
		TxFailures:      r.txFailures,
	}

	elapsed := now.Sub(r.lastSeen)
	if elapsed > 0 {
		p.SecondsSinceSeen = uint64(elapsed / time.Second)
	}
	switch {
	case elapsed > m.cfg.DeadThreshold:
		p.State = PeerUnreachable
	case elapsed > m.cfg.StaleThreshold:
		p.State = PeerStale
	default:
		p.State = PeerReachable
	}

	if len(r.latencySamples) > 0 {
		var sum uint64
		for _, l := range r.latencySamples {
			sum += uint64(l)
		}
		p.AvgLatencyMs = uint32(sum / uint64(len(r.latencySamples)))
	}
	if len(r.rssiSamples) > 0 {
		var sum int
		for _, s := range r.rssiSamples {
			sum += int(s)
		}
		p.AvgRSSI = int8(sum / len(r.rssiSamples))
		p.HasRSSI = true
	}
	if r.packetsSent > 0 {
		p.PacketLossRate = float32(r.txFailures) / float32(r.packetsSent)
	}

	if p.State != PeerUnreachable {
		p.Score = m.score(p, elapsed)
	}
	return p
}

// score weighs heartbeat freshness, mean latency, signal strength and
// packet loss into a 0-100 value.
func (m *Monitor) score(p PeerHealth, elapsed time.Duration) uint8 {
	score := 100

	// Freshness penalty, up to 30: grows linearly over the staleness
	// window so recently heard peers outrank quiet ones.
	if elapsed > 0 {
		freshness := int(elapsed * 30 / m.cfg.StaleThreshold)
		if freshness > 30 {
			freshness = 30
		}
		score -= freshness
	}

	// Latency penalty, up to 30: one point per 10ms of mean latency.
	if p.AvgLatencyMs > 0 {
		latency := int(p.AvgLatencyMs / 10)
		if latency > 30 {
			latency = 30
		}
		score -= latency
	}

	// Signal penalty, up to 30.
	if p.HasRSSI {
		switch {
		case p.AvgRSSI < m.cfg.MinAcceptableRSSI:
			score -= 30
		case p.AvgRSSI < m.cfg.MinGoodRSSI:
			rssi := int(m.cfg.MinGoodRSSI-p.AvgRSSI) * 2
			if rssi > 30 {
				rssi = 30
			}
			score -= rssi
		}
	}

	// Loss penalty, up to 40.
	score -= int(p.PacketLossRate * 40)

	if score < 0 {
		score = 0
	}
	return uint8(score)
}
