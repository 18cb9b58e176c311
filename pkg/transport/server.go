package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on, e.g. ":7411" or "127.0.0.1:0".
	Address string

	// TLSConfig enables TLS. Nil serves plain TCP.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum message size (default: DefaultMaxMessageSize).
	MaxMessageSize uint32

	// HandshakeTimeout bounds the TLS handshake (default: 10s).
	HandshakeTimeout time.Duration

	// Logger receives frame and connection events (optional).
	Logger log.Logger

	// OnConnect is called when a link is established, before its first
	// message is read.
	OnConnect func(conn Conn)

	// OnDisconnect is called once the link is gone.
	OnDisconnect func(conn Conn)

	// OnMessage is called for every received message, from the link's
	// read goroutine.
	OnMessage func(conn Conn, msg []byte)

	// OnError is called for accept, handshake and read errors. conn is nil
	// for errors before the link exists.
	OnError func(conn Conn, err error)
}

// Server accepts controller links over TCP, optionally with TLS.
type Server struct {
	config   ServerConfig
	tlsConf  *tls.Config
	listener net.Listener

	conns   map[*StreamConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	s := &Server{config: config, conns: make(map[*StreamConn]struct{})}
	if config.TLSConfig != nil {
		tlsConf, err := NewServerTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, err
		}
		s.tlsConf = tlsConf
	}
	return s, nil
}

// Start listens and begins accepting links.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every link, then waits for the read
// goroutines.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of open links.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.reportError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	var rwc io.ReadWriteCloser = nc
	if s.tlsConf != nil {
		tlsConn, err := s.handshake(nc)
		if err != nil {
			nc.Close()
			s.reportError(nil, err)
			return
		}
		rwc = tlsConn
	}

	id := uuid.New().String()
	framer := NewFramerWithMaxSize(rwc, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, id)
	}
	conn := NewStreamConn(id, nc.RemoteAddr().String(), rwc, framer)

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	s.logState(conn, "", "CONNECTED")

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}
	s.readLoop(conn)

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	conn.Close()
	s.logState(conn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(conn)
	}
}

func (s *Server) handshake(nc net.Conn) (*tls.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	defer cancel()

	tlsConn := tls.Server(nc, s.tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func (s *Server) readLoop(conn *StreamConn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			if err != io.EOF && !errors.Is(err, ErrConnectionClosed) && s.running.Load() {
				s.reportError(conn, err)
			}
			return
		}
		if s.config.OnMessage != nil {
			s.config.OnMessage(conn, msg)
		}
	}
}

func (s *Server) reportError(conn Conn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

func (s *Server) logState(conn *StreamConn, from, to string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   conn.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}
