package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-go/pkg/wire"
)

func newTestMonitor(t *testing.T) (*Monitor, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	m := NewMonitor(DefaultConfig())
	m.now = func() time.Time { return now }
	return m, &now
}

func TestRecordHeartbeatCreatesPeer(t *testing.T) {
	m, now := newTestMonitor(t)

	m.RecordHeartbeat("peer-a")
	require.Equal(t, 1, m.Len())

	p, ok := m.Peer("peer-a")
	require.True(t, ok)
	assert.Equal(t, PeerReachable, p.State)
	assert.Equal(t, uint8(100), p.Score)
	assert.Equal(t, *now, p.LastSeen)
}

func TestSampleWindowsEvictOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleWindow = 3
	m := NewMonitor(cfg)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	// The first sample falls out of the window.
	for _, l := range []uint32{1000, 10, 20, 30} {
		m.RecordLatency("peer-a", l)
	}
	p, ok := m.Peer("peer-a")
	require.True(t, ok)
	assert.Equal(t, uint32(20), p.AvgLatencyMs)

	for _, r := range []int8{-120, -60, -62, -64} {
		m.RecordRSSI("peer-a", r)
	}
	p, _ = m.Peer("peer-a")
	assert.Equal(t, int8(-62), p.AvgRSSI)
	assert.True(t, p.HasRSSI)
}

func TestScorePenalties(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.RecordHeartbeat("clean")
	m.RecordHeartbeat("laggy")
	m.RecordLatency("laggy", 200)
	m.RecordHeartbeat("weak")
	m.RecordRSSI("weak", -80)
	m.RecordHeartbeat("lossy")
	for i := 0; i < 10; i++ {
		m.RecordPacketSent("lossy", i%2 == 0)
	}

	clean, _ := m.Peer("clean")
	laggy, _ := m.Peer("laggy")
	weak, _ := m.Peer("weak")
	lossy, _ := m.Peer("lossy")

	assert.Equal(t, uint8(100), clean.Score)
	assert.Equal(t, uint8(80), laggy.Score)
	assert.Equal(t, uint8(80), weak.Score)
	assert.InDelta(t, 0.5, float64(lossy.PacketLossRate), 0.001)
	assert.Equal(t, uint8(80), lossy.Score)
}

func TestVeryWeakSignalFullPenalty(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.RecordHeartbeat("peer-a")
	m.RecordRSSI("peer-a", -90)

	p, _ := m.Peer("peer-a")
	assert.Equal(t, uint8(70), p.Score)
}

func TestFreshnessDecaysScore(t *testing.T) {
	m, now := newTestMonitor(t)
	m.RecordHeartbeat("peer-a")

	start := *now
	fresh, _ := m.Peer("peer-a")

	*now = start.Add(15 * time.Second)
	aging, _ := m.Peer("peer-a")

	*now = start.Add(29 * time.Second)
	older, _ := m.Peer("peer-a")

	assert.Greater(t, fresh.Score, aging.Score)
	assert.Greater(t, aging.Score, older.Score)
	assert.Equal(t, PeerReachable, older.State)
}

func TestStaleAndUnreachableStates(t *testing.T) {
	m, now := newTestMonitor(t)
	m.RecordHeartbeat("peer-a")
	start := *now

	*now = start.Add(60 * time.Second)
	p, _ := m.Peer("peer-a")
	assert.Equal(t, PeerStale, p.State)
	assert.NotZero(t, p.Score)

	*now = start.Add(10 * time.Minute)
	p, _ = m.Peer("peer-a")
	assert.Equal(t, PeerUnreachable, p.State)
	assert.Zero(t, p.Score)
	assert.Equal(t, uint64(600), p.SecondsSinceSeen)
}

func TestSilentPeerReportedUnreachable(t *testing.T) {
	m, now := newTestMonitor(t)
	start := *now

	m.RecordHeartbeat("A")
	*now = start.Add(100 * time.Second)
	m.RecordHeartbeat("A")
	*now = start.Add(900 * time.Second)
	m.RecordHeartbeat("fresh")

	snap := m.Snapshot(start.Add(1000 * time.Second))
	require.Len(t, snap.Peers, 2)

	// Reachable peers sort before unreachable ones.
	assert.Equal(t, "fresh", snap.Peers[0].PeerID)
	assert.Equal(t, PeerUnreachable, snap.Peers[1].State)
	assert.Equal(t, "A", snap.Peers[1].PeerID)
	assert.Zero(t, snap.Peers[1].Score)

	assert.Equal(t, 2, snap.Metrics.TotalPeers)
	assert.Equal(t, 1, snap.Metrics.UnreachablePeers)
}

func TestSnapshotOrdersByScore(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.RecordHeartbeat("good")
	m.RecordHeartbeat("bad")
	m.RecordLatency("bad", 300)
	m.RecordRSSI("bad", -90)

	snap := m.Snapshot(m.now())
	require.Len(t, snap.Peers, 2)
	assert.Equal(t, "good", snap.Peers[0].PeerID)
	assert.Equal(t, "bad", snap.Peers[1].PeerID)
	assert.Greater(t, snap.Peers[0].Score, snap.Peers[1].Score)
}

func TestSnapshotAggregates(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.RecordHeartbeat("a")
	m.RecordLatency("a", 50)
	m.RecordHeartbeat("b")
	m.RecordLatency("b", 150)
	m.RecordPacketSent("a", true)
	m.RecordPacketSent("a", false)

	snap := m.Snapshot(m.now())
	assert.Equal(t, uint32(100), snap.Metrics.AvgLatencyMs)
	assert.Equal(t, uint32(50), snap.Metrics.MinLatencyMs)
	assert.Equal(t, uint32(150), snap.Metrics.MaxLatencyMs)
	assert.InDelta(t, 0.5, float64(snap.Metrics.AvgPacketLoss), 0.001)
}

func TestPacketReceivedAdvancesLiveness(t *testing.T) {
	m, now := newTestMonitor(t)
	m.RecordHeartbeat("peer-a")
	start := *now

	*now = start.Add(60 * time.Second)
	m.RecordPacketReceived("peer-a")

	p, _ := m.Peer("peer-a")
	assert.Equal(t, PeerReachable, p.State)
	assert.Equal(t, uint64(1), p.PacketsReceived)
}

func TestObserveHeartbeatFrame(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.ObserveHeartbeat(&wire.Heartbeat{
		Type:      wire.FrameHeartbeat,
		PeerID:    "peer-a",
		LatencyMs: 40,
		RSSI:      -65,
		Timestamp: 1700000000,
	})

	p, ok := m.Peer("peer-a")
	require.True(t, ok)
	assert.Equal(t, uint32(40), p.AvgLatencyMs)
	assert.Equal(t, int8(-65), p.AvgRSSI)
}

func TestRemoveUnreachable(t *testing.T) {
	m, now := newTestMonitor(t)
	start := *now

	m.RecordHeartbeat("dead-b")
	m.RecordHeartbeat("dead-a")
	*now = start.Add(5 * time.Minute)
	m.RecordHeartbeat("alive")

	removed := m.RemoveUnreachable(*now)
	assert.Equal(t, []string{"dead-a", "dead-b"}, removed)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Peer("alive")
	assert.True(t, ok)
}
