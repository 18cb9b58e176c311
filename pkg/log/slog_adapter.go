package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ControllerID != 0 {
		attrs = append(attrs, slog.Uint64("controller", uint64(event.ControllerID)))
	}
	if event.AccessoryID != "" {
		attrs = append(attrs, slog.String("accessory", event.AccessoryID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs,
			slog.String("msg_type", m.Type.String()),
			slog.Uint64("msg_id", uint64(m.MessageID)),
			slog.Uint64("payload_len", uint64(m.PayloadLength)),
		)
		if m.Status != nil {
			attrs = append(attrs, slog.String("status", m.Status.String()))
		}
		if m.AssetID != nil {
			attrs = append(attrs, slog.Uint64("asset", uint64(*m.AssetID)))
		}
		if m.Offset != nil {
			attrs = append(attrs, slog.Uint64("offset", uint64(*m.Offset)))
		}
		if m.Length != nil {
			attrs = append(attrs, slog.Uint64("length", uint64(*m.Length)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Transfer != nil:
		tr := event.Transfer
		attrs = append(attrs,
			slog.Uint64("asset", uint64(tr.AssetID)),
			slog.Uint64("offset", uint64(tr.Offset)),
			slog.Uint64("length", uint64(tr.Length)),
			slog.Uint64("received", uint64(tr.BytesReceived)),
			slog.Uint64("payload_len", uint64(tr.PayloadLength)),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
