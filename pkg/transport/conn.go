package transport

import (
	"errors"
	"io"
	"sync"
)

// ErrConnectionClosed is returned by Send and Receive after Close.
var ErrConnectionClosed = errors.New("connection closed")

// StreamConn is a Conn over a byte stream and a framer.
type StreamConn struct {
	id     string
	remote string
	rwc    io.ReadWriteCloser
	framer FrameReadWriter

	closeCh   chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
}

// NewStreamConn wraps rwc. framer must read and write rwc.
func NewStreamConn(id, remote string, rwc io.ReadWriteCloser, framer FrameReadWriter) *StreamConn {
	return &StreamConn{
		id:      id,
		remote:  remote,
		rwc:     rwc,
		framer:  framer,
		closeCh: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *StreamConn) ID() string { return c.id }

// RemoteAddr returns the peer description.
func (c *StreamConn) RemoteAddr() string { return c.remote }

// Send writes one message.
func (c *StreamConn) Send(msg []byte) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.framer.WriteFrame(msg)
}

// Receive reads one message.
func (c *StreamConn) Receive() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed() {
		return nil, ErrConnectionClosed
	}
	msg, err := c.framer.ReadFrame()
	if err != nil && c.closed() {
		return nil, ErrConnectionClosed
	}
	return msg, err
}

// Close closes the underlying stream.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.rwc.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *StreamConn) Done() <-chan struct{} { return c.closeCh }

func (c *StreamConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
