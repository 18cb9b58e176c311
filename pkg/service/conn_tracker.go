package service

import (
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/transport"
)

// connTracker tracks controller links and when they last carried a
// message. The idle reaper uses it to close links whose controller went
// silent without closing them.
type connTracker struct {
	mu    sync.Mutex
	conns map[transport.Conn]time.Time
	now   func() time.Time
}

// newConnTracker creates a new connection tracker.
func newConnTracker() *connTracker {
	return &connTracker{
		conns: make(map[transport.Conn]time.Time),
		now:   time.Now,
	}
}

// Add registers a connection with the current time.
func (ct *connTracker) Add(conn transport.Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[conn] = ct.now()
}

// Touch records activity on a tracked connection.
func (ct *connTracker) Touch(conn transport.Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if _, ok := ct.conns[conn]; ok {
		ct.conns[conn] = ct.now()
	}
}

// Remove deregisters a connection. Safe to call on absent connections.
func (ct *connTracker) Remove(conn transport.Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, conn)
}

// CloseIdle closes and removes all connections silent for longer than
// maxIdle. Returns the number of connections closed.
func (ct *connTracker) CloseIdle(maxIdle time.Duration) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cutoff := ct.now().Add(-maxIdle)
	closed := 0
	for conn, seen := range ct.conns {
		if seen.Before(cutoff) {
			_ = conn.Close()
			delete(ct.conns, conn)
			closed++
		}
	}
	return closed
}

// CloseAll closes and removes all tracked connections.
func (ct *connTracker) CloseAll() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	closed := 0
	for conn := range ct.conns {
		_ = conn.Close()
		delete(ct.conns, conn)
		closed++
	}
	return closed
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}
