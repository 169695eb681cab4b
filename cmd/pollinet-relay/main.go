// Command pollinet-relay runs an interactive relay engine session.
//
// The console exercises the full transaction lifecycle without a
// radio: build unsigned transfers, apply signatures, fragment onto the
// outbound queue, inject inbound frames, and inspect queues, nonces
// and peer health.
//
// Usage:
//
//	# In-memory session with defaults
//	pollinet-relay
//
//	# Durable queues and a config file
//	pollinet-relay -config relay.yaml -storage /var/lib/pollinet
package main

import (
	"context"
	"flag"
	stdlog "log"
	"log/slog"
	"os"
	"time"

	"github.com/pollinet/pollinet-go/cmd/pollinet-relay/interactive"
	"github.com/pollinet/pollinet-go/pkg/config"
	"github.com/pollinet/pollinet-go/pkg/engine"
	"github.com/pollinet/pollinet-go/pkg/log"
)

var flags struct {
	ConfigFile   string
	StoragePath  string
	PeerID       string
	MaxUnit      int
	LogLevel     string
	LogFile      string
	TickInterval time.Duration
}

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file path")
	flag.StringVar(&flags.StoragePath, "storage", "", "LevelDB directory for durable queues (empty = in-memory)")
	flag.StringVar(&flags.PeerID, "peer-id", "", "Peer identifier carried in heartbeats")
	flag.IntVar(&flags.MaxUnit, "max-unit", 0, "Largest fragment payload for the link (20-512 bytes)")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFile, "log-file", "", "Append engine events to a CBOR log file")
	flag.DurationVar(&flags.TickInterval, "tick", time.Second, "Background tick interval")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(flags.LogLevel),
	}))

	var engineLogger log.Logger = log.NewSlogAdapter(logger)
	if flags.LogFile != "" {
		fileLogger, err := log.NewFileLogger(flags.LogFile)
		if err != nil {
			stdlog.Fatalf("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		engineLogger = log.NewMultiLogger(engineLogger, fileLogger)
	}

	mgr := engine.NewManager(cfg)
	mgr.SetLogger(engineLogger)

	handle, err := mgr.Open()
	if err != nil {
		stdlog.Fatalf("Failed to open session: %v", err)
	}
	session, err := mgr.Get(handle)
	if err != nil {
		stdlog.Fatalf("Failed to resolve session: %v", err)
	}

	console, err := interactive.New(session)
	if err != nil {
		stdlog.Fatalf("Failed to create console: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drive time-based transitions while the console runs.
	go func() {
		ticker := time.NewTicker(flags.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := session.Tick(now); err != nil {
					logger.Warn("tick failed", "err", err)
				}
			}
		}
	}()

	console.Run(ctx, cancel)

	if err := mgr.Shutdown(handle); err != nil {
		stdlog.Printf("Error closing session: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.LoadFile(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.StoragePath != "" {
		cfg.Storage.Path = flags.StoragePath
	}
	if flags.PeerID != "" {
		cfg.PeerID = flags.PeerID
	}
	if flags.MaxUnit != 0 {
		cfg.Transport.MaxUnit = flags.MaxUnit
	}
	return cfg, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
