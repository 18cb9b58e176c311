package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/transport"
)

// ErrClosed is returned by Open after the supervisor stopped.
var ErrClosed = errors.New("supervisor closed")

// State is the state of a supervised link.
type State uint8

const (
	// StateDisconnected means no link and no reopen pending.
	StateDisconnected State = iota

	// StateConnecting means an open attempt is in progress.
	StateConnecting

	// StateConnected means the link is being served.
	StateConnected

	// StateReconnecting means the link was lost and a reopen is scheduled.
	StateReconnecting

	// StateClosed means the supervisor stopped.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// OpenFunc opens the link.
type OpenFunc func(ctx context.Context) (transport.Conn, error)

// ServeFunc serves an open link and returns once it has closed.
type ServeFunc func(conn transport.Conn)

// Supervisor keeps one link open.
type Supervisor struct {
	name    string
	open    OpenFunc
	backoff *Backoff

	mu    sync.RWMutex
	state State

	onStateChange func(name string, oldState, newState State)
	onOpenFailed  func(name string, attempt int, err error)
}

// NewSupervisor creates a supervisor for the link called name.
func NewSupervisor(name string, open OpenFunc, cfg BackoffConfig) *Supervisor {
	return &Supervisor{
		name:    name,
		open:    open,
		backoff: NewBackoffWithConfig(cfg),
		state:   StateDisconnected,
	}
}

// Name returns the link name.
func (s *Supervisor) Name() string { return s.name }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempts returns the failed opens since the last successful one.
func (s *Supervisor) Attempts() int {
	return s.backoff.Attempts()
}

// OnStateChange sets a callback for state changes.
func (s *Supervisor) OnStateChange(fn func(name string, oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnOpenFailed sets a callback for failed reopen attempts.
func (s *Supervisor) OnOpenFailed(fn func(name string, attempt int, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpenFailed = fn
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	old := s.state
	if old == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	fn := s.onStateChange
	s.mu.Unlock()

	if fn != nil && old != state {
		fn(s.name, old, state)
	}
}

// Open makes one open attempt. Callers use it to fail fast on a
// misconfigured link before handing it to Run.
func (s *Supervisor) Open(ctx context.Context) (transport.Conn, error) {
	if s.State() == StateClosed {
		return nil, ErrClosed
	}
	s.setState(StateConnecting)
	conn, err := s.open(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}
	s.backoff.Reset()
	return conn, nil
}

// Run serves conn, if not nil, and then reopens and serves the link each
// time it closes, until ctx is done.
func (s *Supervisor) Run(ctx context.Context, conn transport.Conn, serve ServeFunc) {
	defer s.setState(StateClosed)

	for {
		if conn != nil {
			s.setState(StateConnected)
			serve(conn)
			conn = nil
		}
		if ctx.Err() != nil {
			return
		}

		s.setState(StateReconnecting)
		delay := s.backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.setState(StateConnecting)
		c, err := s.open(ctx)
		if err != nil {
			s.mu.RLock()
			fn := s.onOpenFailed
			s.mu.RUnlock()
			if fn != nil {
				fn(s.name, s.backoff.Attempts(), err)
			}
			continue
		}
		s.backoff.Reset()
		conn = c
	}
}
