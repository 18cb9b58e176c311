package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/transport"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 10)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(InitialBackoff)*(1+JitterFactor)) + time.Millisecond
		allSame := true
		for i, s := range samples {
			if s < InitialBackoff || s > upper {
				t.Errorf("Sample %d: %v out of range [%v, %v]", i, s, InitialBackoff, upper)
			}
			if s != samples[0] {
				allSame = false
			}
		}
		if allSame {
			t.Error("All jittered samples are identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for range 5 {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("Backoff should have increased")
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})
}

func TestSequence(t *testing.T) {
	seq := Sequence(DefaultBackoffConfig())
	if len(seq) != 7 {
		t.Fatalf("Sequence() has %d elements, want 7", len(seq))
	}
	if seq[0] != InitialBackoff {
		t.Errorf("First element = %v, want %v", seq[0], InitialBackoff)
	}
	if seq[len(seq)-1] != MaxBackoff {
		t.Errorf("Last element = %v, want %v", seq[len(seq)-1], MaxBackoff)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeConn is a link that closes when told to.
type fakeConn struct {
	id     string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, closed: make(chan struct{})}
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) RemoteAddr() string    { return c.id }
func (c *fakeConn) Send(msg []byte) error { return nil }

func (c *fakeConn) Receive() ([]byte, error) {
	<-c.closed
	return nil, transport.ErrConnectionClosed
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

var fastBackoff = BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}

func TestSupervisorOpen(t *testing.T) {
	openErr := errors.New("no such port")
	fail := true
	s := NewSupervisor("ttyUSB0", func(ctx context.Context) (transport.Conn, error) {
		if fail {
			return nil, openErr
		}
		return newFakeConn("ttyUSB0"), nil
	}, fastBackoff)

	if s.Name() != "ttyUSB0" {
		t.Errorf("Name() = %q", s.Name())
	}
	if _, err := s.Open(context.Background()); !errors.Is(err, openErr) {
		t.Errorf("Open() error = %v, want %v", err, openErr)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", s.State())
	}

	fail = false
	conn, err := s.Open(context.Background())
	if err != nil || conn == nil {
		t.Fatalf("Open() = %v, %v", conn, err)
	}
}

func TestSupervisorReopens(t *testing.T) {
	var opens atomic.Int32
	s := NewSupervisor("ttyACM0", func(ctx context.Context) (transport.Conn, error) {
		n := opens.Add(1)
		if n == 2 {
			return nil, errors.New("port busy")
		}
		return newFakeConn("ttyACM0"), nil
	}, fastBackoff)

	var mu sync.Mutex
	var states []State
	s.OnStateChange(func(name string, oldState, newState State) {
		mu.Lock()
		states = append(states, newState)
		mu.Unlock()
	})
	var failures atomic.Int32
	s.OnOpenFailed(func(name string, attempt int, err error) { failures.Add(1) })

	first, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan transport.Conn, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, first, func(conn transport.Conn) {
			served <- conn
			_, _ = conn.Receive()
		})
	}()

	// Drop the link twice. The first reopen fails once before succeeding.
	for i := range 2 {
		select {
		case conn := <-served:
			_ = conn.Close()
		case <-time.After(2 * time.Second):
			t.Fatalf("link %d was not served", i)
		}
	}
	var last transport.Conn
	select {
	case last = <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("link was not reopened")
	}

	if got := opens.Load(); got != 4 {
		t.Errorf("opens = %d, want 4", got)
	}
	if got := failures.Load(); got != 1 {
		t.Errorf("open failures = %d, want 1", got)
	}
	if s.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", s.State())
	}

	cancel()
	_ = last.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if states[len(states)-1] != StateClosed {
		t.Errorf("last state = %v, want CLOSED", states[len(states)-1])
	}
}
