package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes engine events to an slog.Logger.
// Useful for development when you want to see engine events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	}

	// Add optional identifiers
	if event.TransactionID != "" {
		attrs = append(attrs, slog.String("tx_id", event.TransactionID))
	}
	if event.PeerID != "" {
		attrs = append(attrs, slog.String("peer_id", event.PeerID))
	}

	// Add type-specific attributes
	switch {
	case event.Fragment != nil:
		attrs = append(attrs,
			slog.Uint64("index", uint64(event.Fragment.Index)),
			slog.Uint64("total", uint64(event.Fragment.Total)),
			slog.Int("size", event.Fragment.Size),
		)
		if event.Fragment.Complete {
			attrs = append(attrs, slog.Bool("complete", true))
		}
		if event.Fragment.Duplicate {
			attrs = append(attrs, slog.Bool("duplicate", true))
		}
	case event.Queue != nil:
		attrs = append(attrs,
			slog.String("queue", event.Queue.Queue),
			slog.String("op", event.Queue.Op),
			slog.Int("depth", event.Queue.Depth),
		)
		if event.Queue.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", event.Queue.Attempt))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Nonce != nil:
		attrs = append(attrs,
			slog.String("account", event.Nonce.Account),
			slog.String("op", event.Nonce.Op),
			slog.Int("available", event.Nonce.Available),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "engine", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
