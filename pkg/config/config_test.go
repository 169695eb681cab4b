package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollinet/pollinet-go/pkg/fragment"
	"github.com/pollinet/pollinet-go/pkg/queue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsComplete(t *testing.T) {
	cfg := Default()

	assert.Equal(t, fragment.DefaultChunkSize, cfg.Transport.MaxUnit)
	assert.Equal(t, queue.DefaultOutboundCapacity, cfg.Queues.OutboundCapacity)
	assert.Equal(t, "exponential", cfg.Queues.BackoffKind)
	assert.Equal(t, 30*time.Second, cfg.Nonce.ReservationTimeout.Std())
	assert.Equal(t, 10, cfg.Health.SampleWindow)
}

func TestLoadFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
peerId: relay-1
transport:
  maxUnit: 180
queues:
  maxRetries: 3
  backoffKind: linear
  backoffBase: 4s
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "relay-1", cfg.PeerID)
	assert.Equal(t, 180, cfg.Transport.MaxUnit)
	assert.Equal(t, 3, cfg.Queues.MaxRetries)
	assert.Equal(t, "linear", cfg.Queues.BackoffKind)
	assert.Equal(t, 4*time.Second, cfg.Queues.BackoffBase.Std())

	// Everything unset falls back to defaults.
	assert.Equal(t, queue.DefaultOutboundCapacity, cfg.Queues.OutboundCapacity)
	assert.Equal(t, time.Hour, cfg.Queues.ConfirmationTTL.Std())
	assert.Equal(t, 120*time.Second, cfg.Health.DeadThreshold.Std())
}

func TestDurationForms(t *testing.T) {
	path := writeConfig(t, `
queues:
  confirmationTtl: 90m
  submittedTtl: 120
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.Queues.ConfirmationTTL.Std())
	// Bare integers mean seconds.
	assert.Equal(t, 2*time.Minute, cfg.Queues.SubmittedTTL.Std())
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, "queues:\n  saveInterval: soon\n")
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestQueueConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Queues.BackoffKind = "fixed"
	cfg.Queues.BackoffBase = Duration(7 * time.Second)

	qc := cfg.QueueConfig()
	assert.Equal(t, queue.BackoffFixed, qc.Backoff.Kind)
	assert.Equal(t, 7*time.Second, qc.Backoff.Base)
	assert.Equal(t, queue.DefaultConfirmationCapacity, qc.ConfirmationCapacity)
}

func TestChunkSizeClamped(t *testing.T) {
	cfg := Default()
	cfg.Transport.MaxUnit = 5000
	assert.Equal(t, fragment.MaxChunkSize, cfg.ChunkSize())

	cfg.Transport.MaxUnit = 200
	assert.Equal(t, 200, cfg.ChunkSize())
}
