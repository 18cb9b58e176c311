package transport

import (
	"context"
	"net"
)

// Conn is one message-preserving link to a peer.
// Implemented by StreamConn and WebSocketConn.
type Conn interface {
	// ID identifies the link in logs.
	ID() string

	// RemoteAddr describes the peer: an address or a port name.
	RemoteAddr() string

	// Send writes one complete UARP message.
	Send(msg []byte) error

	// Receive blocks for the next complete UARP message.
	Receive() ([]byte, error)

	// Close closes the link. Receive then fails.
	Close() error
}

// TransportServer accepts links from controllers.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop stops accepting and closes every link.
	Stop() error

	// Addr returns the listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of open links.
	ConnectionCount() int
}

// FrameReadWriter reads and writes whole messages over a byte stream.
// Implemented by Framer and StuffedFramer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Conn            = (*StreamConn)(nil)
	_ Conn            = (*WebSocketConn)(nil)
	_ TransportServer = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
	_ FrameReadWriter = (*StuffedFramer)(nil)
)
