// Package wire defines the binary wire format of the asset transfer protocol.
//
// Every message starts with a six byte header followed by a type specific
// payload. All multi-byte integers are big-endian and structures are packed
// without padding.
//
//	+----------------+------------------+----------------+
//	| type (uint16)  | length (uint16)  | msgID (uint16) |
//	+----------------+------------------+----------------+
//	| payload (length bytes)                             |
//	+----------------------------------------------------+
//
// # Encoding
//
// Payload structs expose a Put method that writes into a caller supplied
// buffer and a Decode function that parses one. Neither allocates, so the
// engine can encode straight into pooled transmit buffers.
//
// # Assets
//
// A SuperBinary asset is laid out as a fixed header, an optional metadata
// region of TLV records, a table of payload headers and the payload bytes.
// SuperBinaryHeader and PayloadHeader carry the offsets; Validate checks
// that every region lies within the asset.
package wire
