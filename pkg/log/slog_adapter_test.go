package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func TestSlogAdapterLogsMessageEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	status := wire.StatusDuplicateMessageID
	asset := uint16(7)
	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryError,
		ControllerID: 2,
		Message: &MessageEvent{
			Type:      wire.MsgAssetDataResponse,
			MessageID: 42,
			Status:    &status,
			AssetID:   &asset,
		},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	want := map[string]any{
		"msg":        "protocol",
		"conn_id":    "conn-123",
		"direction":  "IN",
		"msg_type":   "AssetDataResponse",
		"status":     "DUPLICATE_MESSAGE_ID",
		"msg_id":     float64(42),
		"asset":      float64(7),
		"controller": float64(2),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	NewSlogAdapter(slog.New(handler)).Log(Event{Frame: &FrameEvent{Size: 12}})

	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %q", buf.String())
	}
}

type countingLogger struct{ n int }

func (c *countingLogger) Log(Event) { c.n++ }

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &countingLogger{}, &countingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{})
	m.Log(Event{})

	if a.n != 2 || b.n != 2 {
		t.Errorf("counts = %d, %d, want 2, 2", a.n, b.n)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	c := &countingLogger{}
	if OrNoop(c) != Logger(c) {
		t.Error("OrNoop(l) should return l")
	}
}

func TestEventCBORUsesIntegerKeys(t *testing.T) {
	data, err := EncodeEvent(Event{ConnectionID: "x", Transfer: &TransferEvent{AssetID: 3, Offset: 10}})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("ConnectionID")) {
		t.Error("encoded event contains field names, want integer keys")
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Transfer == nil || got.Transfer.AssetID != 3 || got.Transfer.Offset != 10 {
		t.Errorf("DecodeEvent() transfer = %+v", got.Transfer)
	}
}
