// Package config defines the engine configuration, loadable from YAML
// with every zero value corrected to a usable default.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pollinet/pollinet-go/pkg/fragment"
	"github.com/pollinet/pollinet-go/pkg/health"
	"github.com/pollinet/pollinet-go/pkg/nonce"
	"github.com/pollinet/pollinet-go/pkg/queue"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m", or from a bare integer meaning seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// TransportConfig sizes the fragmentation layer for the link.
type TransportConfig struct {
	// MaxUnit is the largest fragment payload the link carries.
	MaxUnit int `yaml:"maxUnit"`

	// ReassemblyTimeout evicts incomplete reassembly buffers.
	ReassemblyTimeout Duration `yaml:"reassemblyTimeout"`
}

// QueuesConfig sizes the four artifact queues.
type QueuesConfig struct {
	OutboundCapacity     int      `yaml:"outboundCapacity"`
	ConfirmationCapacity int      `yaml:"confirmationCapacity"`
	MaxRetries           int      `yaml:"maxRetries"`
	BackoffKind          string   `yaml:"backoffKind"` // exponential, linear, fixed
	BackoffBase          Duration `yaml:"backoffBase"`
	ConfirmationTTL      Duration `yaml:"confirmationTtl"`
	SubmittedTTL         Duration `yaml:"submittedTtl"`
	SaveInterval         Duration `yaml:"saveInterval"`
}

// NonceConfig tunes the durable-nonce cache.
type NonceConfig struct {
	// ReservationTimeout reverts unconsumed reservations.
	ReservationTimeout Duration `yaml:"reservationTimeout"`

	// SnapshotPath persists the cache; empty disables snapshots.
	SnapshotPath string `yaml:"snapshotPath"`
}

// HealthConfig tunes peer health classification.
type HealthConfig struct {
	StaleThreshold    Duration `yaml:"staleThreshold"`
	DeadThreshold     Duration `yaml:"deadThreshold"`
	SampleWindow      int      `yaml:"sampleWindow"`
	MinGoodRSSI       int      `yaml:"minGoodRssi"`
	MinAcceptableRSSI int      `yaml:"minAcceptableRssi"`
}

// StorageConfig selects the queue persistence backend.
type StorageConfig struct {
	// Path is the LevelDB directory; empty keeps state in memory.
	Path string `yaml:"path"`
}

// Config is the full engine configuration.
type Config struct {
	// PeerID identifies this device in heartbeats and log events.
	PeerID string `yaml:"peerId"`

	Transport TransportConfig `yaml:"transport"`
	Queues    QueuesConfig    `yaml:"queues"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Health    HealthConfig    `yaml:"health"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Default returns the standard configuration.
func Default() *Config {
	qd := queue.DefaultConfig()
	hd := health.DefaultConfig()
	return &Config{
		Transport: TransportConfig{
			MaxUnit:           fragment.DefaultChunkSize,
			ReassemblyTimeout: Duration(fragment.DefaultBufferTimeout),
		},
		Queues: QueuesConfig{
			OutboundCapacity:     qd.OutboundCapacity,
			ConfirmationCapacity: qd.ConfirmationCapacity,
			MaxRetries:           qd.MaxRetries,
			BackoffKind:          "exponential",
			BackoffBase:          Duration(qd.Backoff.Base),
			ConfirmationTTL:      Duration(qd.ConfirmationTTL),
			SubmittedTTL:         Duration(qd.SubmittedTTL),
			SaveInterval:         Duration(qd.SaveInterval),
		},
		Nonce: NonceConfig{
			ReservationTimeout: Duration(nonce.DefaultReservationTimeout),
		},
		Health: HealthConfig{
			StaleThreshold:    Duration(hd.StaleThreshold),
			DeadThreshold:     Duration(hd.DeadThreshold),
			SampleWindow:      hd.SampleWindow,
			MinGoodRSSI:       int(hd.MinGoodRSSI),
			MinAcceptableRSSI: int(hd.MinAcceptableRSSI),
		},
	}
}

// LoadFile reads a YAML configuration file and fills unset values with
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values with the standard configuration.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Transport.MaxUnit == 0 {
		c.Transport.MaxUnit = d.Transport.MaxUnit
	}
	if c.Transport.ReassemblyTimeout == 0 {
		c.Transport.ReassemblyTimeout = d.Transport.ReassemblyTimeout
	}
	if c.Queues.OutboundCapacity == 0 {
		c.Queues.OutboundCapacity = d.Queues.OutboundCapacity
	}
	if c.Queues.ConfirmationCapacity == 0 {
		c.Queues.ConfirmationCapacity = d.Queues.ConfirmationCapacity
	}
	if c.Queues.MaxRetries == 0 {
		c.Queues.MaxRetries = d.Queues.MaxRetries
	}
	if c.Queues.BackoffKind == "" {
		c.Queues.BackoffKind = d.Queues.BackoffKind
	}
	if c.Queues.BackoffBase == 0 {
		c.Queues.BackoffBase = d.Queues.BackoffBase
	}
	if c.Queues.ConfirmationTTL == 0 {
		c.Queues.ConfirmationTTL = d.Queues.ConfirmationTTL
	}
	if c.Queues.SubmittedTTL == 0 {
		c.Queues.SubmittedTTL = d.Queues.SubmittedTTL
	}
	if c.Queues.SaveInterval == 0 {
		c.Queues.SaveInterval = d.Queues.SaveInterval
	}
	if c.Nonce.ReservationTimeout == 0 {
		c.Nonce.ReservationTimeout = d.Nonce.ReservationTimeout
	}
	if c.Health.StaleThreshold == 0 {
		c.Health.StaleThreshold = d.Health.StaleThreshold
	}
	if c.Health.DeadThreshold == 0 {
		c.Health.DeadThreshold = d.Health.DeadThreshold
	}
	if c.Health.SampleWindow == 0 {
		c.Health.SampleWindow = d.Health.SampleWindow
	}
	if c.Health.MinGoodRSSI == 0 {
		c.Health.MinGoodRSSI = d.Health.MinGoodRSSI
	}
	if c.Health.MinAcceptableRSSI == 0 {
		c.Health.MinAcceptableRSSI = d.Health.MinAcceptableRSSI
	}
}

// QueueConfig converts to the queue package's configuration.
func (c *Config) QueueConfig() queue.Config {
	kind := queue.BackoffExponential
	switch c.Queues.BackoffKind {
	case "linear":
		kind = queue.BackoffLinear
	case "fixed":
		kind = queue.BackoffFixed
	}
	return queue.Config{
		OutboundCapacity:     c.Queues.OutboundCapacity,
		ConfirmationCapacity: c.Queues.ConfirmationCapacity,
		MaxRetries:           c.Queues.MaxRetries,
		Backoff:              queue.Backoff{Kind: kind, Base: c.Queues.BackoffBase.Std()},
		ConfirmationTTL:      c.Queues.ConfirmationTTL.Std(),
		SubmittedTTL:         c.Queues.SubmittedTTL.Std(),
		SaveInterval:         c.Queues.SaveInterval.Std(),
	}
}

// HealthConfig converts to the health package's configuration.
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		StaleThreshold:    c.Health.StaleThreshold.Std(),
		DeadThreshold:     c.Health.DeadThreshold.Std(),
		SampleWindow:      c.Health.SampleWindow,
		MinGoodRSSI:       int8(c.Health.MinGoodRSSI),
		MinAcceptableRSSI: int8(c.Health.MinAcceptableRSSI),
	}
}

// ChunkSize returns the clamped fragment chunk size for the link.
func (c *Config) ChunkSize() int {
	return fragment.ClampChunkSize(c.Transport.MaxUnit)
}
