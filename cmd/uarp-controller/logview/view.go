// Package logview implements the protocol capture commands of
// uarp-controller: view, stats, export and filter.
package logview

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	return true
}

// typeLabel names what an event carries.
func typeLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Transfer != nil:
		return "Transfer"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] ROLE DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %s %-3s %s %s\n",
		ts, shortenConnID(event.ConnectionID), event.LocalRole, event.Direction, event.Layer, typeLabel(event))

	if event.AccessoryID != "" || event.ControllerID != 0 {
		fmt.Fprintf(w, "  Accessory: %s  Controller: %d\n", event.AccessoryID, event.ControllerID)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Transfer != nil:
		formatTransferDetails(w, event.Transfer)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %d  Length: %d\n", msg.MessageID, msg.PayloadLength)
	if msg.Status != nil {
		fmt.Fprintf(w, "  Status: %s (0x%04x)\n", msg.Status.String(), uint16(*msg.Status))
	}
	if msg.AssetID != nil {
		fmt.Fprintf(w, "  Asset: %d", *msg.AssetID)
		if msg.Offset != nil {
			fmt.Fprintf(w, "  Offset: %d", *msg.Offset)
		}
		if msg.Length != nil {
			fmt.Fprintf(w, "  Bytes: %d", *msg.Length)
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatTransferDetails(w io.Writer, tr *log.TransferEvent) {
	fmt.Fprintf(w, "  Asset: %d  Payload: %s\n", tr.AssetID, tr.PayloadTag)
	fmt.Fprintf(w, "  Chunk: %d+%d  Progress: %d/%d\n", tr.Offset, tr.Length, tr.BytesReceived, tr.PayloadLength)
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: 0x%04x\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "engine":
		return log.LayerEngine, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or engine)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "transfer":
		return log.CategoryTransfer, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, transfer, state, or error)", s)
	}
}

// NewViewFilter builds a ViewFilter from flag values. Empty values match
// everything.
func NewViewFilter(layer, direction, category string) (ViewFilter, error) {
	var f ViewFilter
	if layer != "" {
		l, err := ParseLayer(layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if direction != "" {
		d, err := ParseDirection(direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if category != "" {
		c, err := ParseCategory(category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// RunView writes the matching events of the capture at path to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if filter.matches(event) {
			formatEvent(output, event)
		}
	}
	return nil
}
