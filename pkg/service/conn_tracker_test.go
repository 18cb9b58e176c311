package service

import (
	"sync"
	"testing"
	"time"
)

// mockTrackerConn implements transport.Conn for tracker tests.
// Only Close() is meaningful; other methods are stubs.
type mockTrackerConn struct {
	closed bool
	mu     sync.Mutex
}

func (c *mockTrackerConn) ID() string               { return "tracker" }
func (c *mockTrackerConn) RemoteAddr() string       { return "" }
func (c *mockTrackerConn) Send([]byte) error        { return nil }
func (c *mockTrackerConn) Receive() ([]byte, error) { return nil, nil }

func (c *mockTrackerConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockTrackerConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestConnTracker_AddAndRemove(t *testing.T) {
	ct := newConnTracker()
	conn := &mockTrackerConn{}

	ct.Add(conn)
	if ct.Len() != 1 {
		t.Errorf("Len after Add: expected 1, got %d", ct.Len())
	}

	ct.Remove(conn)
	if ct.Len() != 0 {
		t.Errorf("Len after Remove: expected 0, got %d", ct.Len())
	}
}

func TestConnTracker_CloseIdle(t *testing.T) {
	ct := newConnTracker()
	now := time.Now()
	ct.now = func() time.Time { return now }

	idle := &mockTrackerConn{}
	busy := &mockTrackerConn{}
	ct.Add(idle)
	ct.Add(busy)

	now = now.Add(2 * time.Minute)
	ct.Touch(busy)

	closed := ct.CloseIdle(1 * time.Minute)
	if closed != 1 {
		t.Errorf("CloseIdle: expected 1 closed, got %d", closed)
	}
	if !idle.isClosed() {
		t.Error("idle conn should be closed")
	}
	if busy.isClosed() {
		t.Error("busy conn should NOT be closed")
	}
	if ct.Len() != 1 {
		t.Errorf("Len after CloseIdle: expected 1, got %d", ct.Len())
	}
}

func TestConnTracker_TouchUntracked(t *testing.T) {
	ct := newConnTracker()
	ct.Touch(&mockTrackerConn{})
	if ct.Len() != 0 {
		t.Errorf("Touch registered an untracked conn")
	}
}

func TestConnTracker_CloseAll(t *testing.T) {
	ct := newConnTracker()

	conns := make([]*mockTrackerConn, 3)
	for i := range conns {
		conns[i] = &mockTrackerConn{}
		ct.Add(conns[i])
	}

	if closed := ct.CloseAll(); closed != 3 {
		t.Errorf("CloseAll: expected 3 closed, got %d", closed)
	}
	if ct.Len() != 0 {
		t.Errorf("Len: expected 0, got %d", ct.Len())
	}
	for i, c := range conns {
		if !c.isClosed() {
			t.Errorf("conn[%d] should be closed", i)
		}
	}
}

func TestConnTracker_RemoveIdempotent(t *testing.T) {
	ct := newConnTracker()
	conn := &mockTrackerConn{}

	// Remove a conn that was never added -- should not panic.
	ct.Remove(conn)

	ct.Add(conn)
	ct.Remove(conn)
	ct.Remove(conn)

	if ct.Len() != 0 {
		t.Errorf("Len: expected 0, got %d", ct.Len())
	}
}

func TestConnTracker_ConcurrentAccess(t *testing.T) {
	ct := newConnTracker()
	const goroutines = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			conn := &mockTrackerConn{}
			ct.Add(conn)
			ct.Touch(conn)
			ct.CloseIdle(1 * time.Hour)
			ct.Remove(conn)
		}()
	}

	wg.Wait()

	if ct.Len() != 0 {
		t.Errorf("Len after concurrent access: expected 0, got %d", ct.Len())
	}
}
