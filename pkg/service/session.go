package service

import (
	"sync"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
)

// session binds one transport link to an engine controller. It is the
// engine's ControllerDelegate for that link.
type session struct {
	conn transport.Conn
}

// SendMessage writes msg on the link from the event loop.
func (s *session) SendMessage(msg []byte) error {
	return s.conn.Send(msg)
}

func (s *session) close() {}

type outbound struct {
	msg  []byte
	done func()
}

// asyncSession writes from its own goroutine so a slow link does not
// stall the event loop. The engine keeps each message buffer until its
// done callback has been run on the loop.
type asyncSession struct {
	session
	loop   *loop
	out    chan outbound
	closed chan struct{}
	once   sync.Once
	onFail func(error)
}

func newAsyncSession(conn transport.Conn, l *loop, depth int, onFail func(error)) *asyncSession {
	s := &asyncSession{
		session: session{conn: conn},
		loop:    l,
		out:     make(chan outbound, depth),
		closed:  make(chan struct{}),
		onFail:  onFail,
	}
	go s.writer()
	return s
}

// SendMessageAsync queues msg for the writer goroutine.
func (s *asyncSession) SendMessageAsync(msg []byte, done func()) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- outbound{msg: msg, done: done}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (s *asyncSession) writer() {
	for {
		select {
		case o := <-s.out:
			if err := s.conn.Send(o.msg); err != nil && s.onFail != nil {
				s.onFail(err)
			}
			s.loop.post(o.done)
		case <-s.closed:
			s.drain()
			return
		}
	}
}

// drain hands back the buffers of messages that will never be written.
func (s *asyncSession) drain() {
	for {
		select {
		case o := <-s.out:
			s.loop.post(o.done)
		default:
			return
		}
	}
}

// close stops the writer. Called on the loop goroutine, so the done
// callbacks it posts run after the current closure.
func (s *asyncSession) close() {
	s.once.Do(func() { close(s.closed) })
}

// controllerLink is what the service keeps per link.
type controllerLink interface {
	accessory.ControllerDelegate
	close()
}

var (
	_ controllerLink        = (*session)(nil)
	_ controllerLink        = (*asyncSession)(nil)
	_ accessory.AsyncSender = (*asyncSession)(nil)
)
