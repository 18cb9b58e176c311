// Package log provides structured protocol capture for the asset transfer
// engine.
//
// It is separate from operational logging (slog): a capture is a complete,
// machine-readable trace of frames, decoded messages, asset state changes
// and errors, suitable for replaying a failed transfer after the fact.
//
// # Basic Usage
//
//	// Development: protocol events on the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Field units: binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/uarp/accessory.ulog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded message headers and key fields (MessageEvent)
//   - Engine: controller and asset state changes (StateChangeEvent),
//     data transfer progress (TransferEvent)
//
// # File Format
//
// Capture files are a sequence of CBOR encoded events with integer keys
// (.ulog). The uarp-controller log command views, filters and summarizes them.
package log
