// Package transport carries UARP messages between accessories and
// controllers.
//
// UARP itself only needs a reliable, ordered channel that preserves
// message boundaries. This package provides three of them:
//
//   - TCP, optionally with TLS 1.3, using a 4-byte length prefix per message
//   - serial lines, using byte-stuffed frames protected by a CRC-16
//   - WebSocket, one binary message per UARP message
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│       UARP Messages            │
//	├──────────┬──────────┬──────────┤
//	│ Length   │ Stuffed  │ WebSocket│
//	│ Prefix   │ CRC-16   │ binary   │
//	├──────────┼──────────┼──────────┤
//	│ TLS/TCP  │  UART    │ HTTP(S)  │
//	└──────────┴──────────┴──────────┘
//
// Every link is exposed as a Conn. Connection IDs are UUIDs for network
// links and the port name for serial links; they appear in protocol logs.
package transport
