package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/connection"
	"github.com/uarp-protocol/uarp-go/pkg/discovery"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
)

// Files below Config.DataDir.
const (
	StateFileName   = "state.json"
	PayloadsDirName = "payloads"
)

// WebSocketPath is where the WebSocket transport is served.
const WebSocketPath = "/uarp"

const loopDepth = 64

// link is what the service keeps per transport link.
type link struct {
	delegate controllerLink
	id       accessory.ControllerID
}

// AccessoryService runs a UARP accessory: the protocol engine, its
// transports, the payload store and the mDNS advertisement.
type AccessoryService struct {
	mu     sync.RWMutex
	config Config
	logger *slog.Logger
	state  ServiceState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	loop     *loop
	timers   *loopTimers
	engine   *accessory.Accessory
	firmware *firmware

	stateStore *persistence.AccessoryStateStore
	store      *store.Store
	tracker    *connTracker

	// links and announcer are only touched on the loop.
	links     map[transport.Conn]*link
	announcer *discovery.Announcer

	server     *transport.Server
	wsHandler  *transport.WebSocketHandler
	httpServer *http.Server
	wsListener net.Listener

	eventHandlers []EventHandler
}

// New creates an accessory service.
func New(config Config) (*AccessoryService, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AccessoryService{
		config: config,
		logger: config.Logger,
		state:  StateIdle,
	}, nil
}

// State returns the current service state.
func (s *AccessoryService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *AccessoryService) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// OnEvent registers an event handler.
func (s *AccessoryService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

func (s *AccessoryService) emit(event Event) {
	s.mu.RLock()
	handlers := s.eventHandlers
	s.mu.RUnlock()
	for _, handler := range handlers {
		go handler(event)
	}
}

// debugLog logs a debug message if logging is enabled.
func (s *AccessoryService) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// Start loads the persisted state, creates the engine and brings up the
// configured transports and the advertisement.
func (s *AccessoryService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.start(); err != nil {
		s.shutdown()
		s.setState(StateIdle)
		return err
	}
	s.setState(StateRunning)
	s.debugLog("accessory service started", "serial", s.config.Serial, "firmware", s.firmware.state.ActiveFirmware)
	return nil
}

func (s *AccessoryService) start() error {
	s.stateStore = persistence.NewAccessoryStateStore(filepath.Join(s.config.DataDir, StateFileName))
	state, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = &persistence.AccessoryState{ActiveFirmware: s.config.InitialFirmware}
	}
	if s.store, err = store.Open(filepath.Join(s.config.DataDir, PayloadsDirName)); err != nil {
		return err
	}

	s.firmware = newFirmware(s, state)
	s.loop = newLoop(loopDepth)
	s.timers = newLoopTimers(s.loop)
	s.tracker = newConnTracker()
	s.links = make(map[transport.Conn]*link)

	engineConfig := s.config.Engine
	engineConfig.AccessoryID = s.config.Serial
	engineConfig.AssetDelegate = s.firmware
	engineConfig.Logger = s.logger
	engineConfig.ProtocolLogger = s.config.ProtocolLogger
	if s.engine, err = accessory.New(engineConfig, s.firmware, s.timers); err != nil {
		return err
	}

	callbacks := transport.ServerConfig{
		Logger:       s.config.ProtocolLogger,
		OnConnect:    s.connect,
		OnDisconnect: s.disconnect,
		OnMessage:    s.deliver,
		OnError:      s.transportError,
	}

	port := uint16(0)
	if s.config.ListenAddress != "" {
		cfg := callbacks
		cfg.Address = s.config.ListenAddress
		cfg.TLSConfig = s.config.TLSConfig
		if s.server, err = transport.NewServer(cfg); err != nil {
			return err
		}
		if err := s.server.Start(s.ctx); err != nil {
			return err
		}
		port = portOf(s.server.Addr())
	}

	if s.config.WebSocketAddress != "" {
		ln, err := net.Listen("tcp", s.config.WebSocketAddress)
		if err != nil {
			return fmt.Errorf("websocket listen: %w", err)
		}
		s.wsListener = ln
		s.wsHandler = transport.NewWebSocketHandler(callbacks)
		mux := http.NewServeMux()
		mux.Handle(WebSocketPath, s.wsHandler)
		s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.transportError(nil, err)
			}
		}()
	}

	for _, sp := range s.config.SerialPorts {
		if err := s.superviseSerial(sp); err != nil {
			return err
		}
	}

	if s.config.Advertiser != nil && s.server != nil {
		announcer := discovery.NewAnnouncer(s.config.Advertiser, discovery.AccessoryInfo{
			Serial:          s.config.Serial,
			Manufacturer:    s.config.Manufacturer,
			Model:           s.config.Model,
			Hardware:        s.config.Hardware,
			ProtocolVersion: engineConfig.MaxProtocolVersion,
			TLS:             s.config.TLSConfig != nil,
			Port:            port,
		})
		err := s.loop.do(func() {
			_ = announcer.SetFirmware(s.firmware.state.ActiveFirmware)
			s.announcer = announcer
		})
		if err != nil {
			return err
		}
		if err := announcer.Start(s.ctx); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
	}

	if s.config.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.reapIdle()
	}
	return nil
}

func portOf(addr net.Addr) uint16 {
	if addr == nil {
		return 0
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(p, 10, 16)
	return uint16(n)
}

// Stop closes every link and stops the service.
func (s *AccessoryService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.shutdown()
	s.setState(StateStopped)
	s.debugLog("accessory service stopped")
	return nil
}

func (s *AccessoryService) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		_ = s.server.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.tracker != nil {
		s.tracker.CloseAll()
	}
	if s.wsHandler != nil {
		s.wsHandler.Wait()
	}
	s.wg.Wait()

	if s.loop != nil {
		s.loop.stop()
	}
	if s.timers != nil {
		s.timers.stopAll()
	}
	if s.announcer != nil {
		s.announcer.Stop()
	}
	s.server, s.httpServer, s.wsHandler, s.wsListener, s.announcer = nil, nil, nil, nil, nil
}

func (s *AccessoryService) reapIdle() {
	defer s.wg.Done()
	ticker := time.NewTicker(max(s.config.IdleTimeout/2, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.tracker.CloseIdle(s.config.IdleTimeout); n > 0 {
				s.debugLog("closed idle links", "count", n)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Attach serves a controller link established outside the service, e.g.
// a serial port or a test pipe. It returns once the link is registered;
// the link is read until it closes.
func (s *AccessoryService) Attach(conn transport.Conn) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	s.attach(conn)
	return nil
}

func (s *AccessoryService) attach(conn transport.Conn) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(conn)
	}()
}

// serve registers conn and reads it until it closes.
func (s *AccessoryService) serve(conn transport.Conn) {
	s.connect(conn)
	for {
		msg, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrConnectionClosed) && s.ctx.Err() == nil {
				s.transportError(conn, err)
			}
			break
		}
		s.deliver(conn, msg)
	}
	_ = conn.Close()
	s.disconnect(conn)
}

// superviseSerial opens a serial port and keeps it open: a port that
// goes away, e.g. an unplugged USB adapter, is reopened with backoff.
// Only the first open is fatal.
func (s *AccessoryService) superviseSerial(sp transport.SerialConfig) error {
	if sp.Logger == nil {
		sp.Logger = s.config.ProtocolLogger
	}
	sup := connection.NewSupervisor(sp.Port, func(context.Context) (transport.Conn, error) {
		return transport.OpenSerial(sp)
	}, s.config.SerialBackoff)
	sup.OnStateChange(func(name string, oldState, newState connection.State) {
		s.debugLog("serial link", "port", name, "from", oldState, "to", newState)
	})
	sup.OnOpenFailed(func(name string, attempt int, err error) {
		s.transportError(nil, fmt.Errorf("reopen %s (attempt %d): %w", name, attempt, err))
	})

	conn, err := sup.Open(s.ctx)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sup.Run(s.ctx, conn, s.serve)
	}()
	return nil
}

func (s *AccessoryService) connect(conn transport.Conn) {
	s.tracker.Add(conn)
	err := s.loop.do(func() {
		var d controllerLink
		if s.config.AsyncSend {
			d = newAsyncSession(conn, s.loop, s.config.SendQueueLength, func(err error) {
				s.transportError(conn, err)
			})
		} else {
			d = &session{conn: conn}
		}
		id, err := s.engine.AddController(d)
		if err != nil {
			d.close()
			s.debugLog("controller refused", "conn", conn.ID(), "remote", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			s.emit(Event{Type: EventError, ConnectionID: conn.ID(), Error: err})
			return
		}
		s.links[conn] = &link{delegate: d, id: id}
		s.debugLog("controller connected", "conn", conn.ID(), "remote", conn.RemoteAddr(), "controller", id)
		s.emit(Event{Type: EventConnected, ConnectionID: conn.ID(), Controller: id})
	})
	if err != nil {
		_ = conn.Close()
	}
}

func (s *AccessoryService) deliver(conn transport.Conn, msg []byte) {
	s.tracker.Touch(conn)
	s.loop.post(func() {
		l := s.links[conn]
		if l == nil {
			return
		}
		if err := s.engine.Receive(l.id, msg); err != nil {
			s.debugLog("message rejected", "controller", l.id, "error", err)
		}
	})
}

func (s *AccessoryService) disconnect(conn transport.Conn) {
	s.tracker.Remove(conn)
	s.loop.post(func() {
		l := s.links[conn]
		if l == nil {
			return
		}
		delete(s.links, conn)
		l.delegate.close()
		if err := s.engine.RemoveController(l.id); err != nil {
			s.debugLog("remove controller failed", "controller", l.id, "error", err)
		}
		s.debugLog("controller disconnected", "conn", conn.ID(), "controller", l.id)
		s.emit(Event{Type: EventDisconnected, ConnectionID: conn.ID(), Controller: l.id})
	})
}

func (s *AccessoryService) transportError(conn transport.Conn, err error) {
	ev := Event{Type: EventError, Error: err}
	if conn != nil {
		ev.ConnectionID = conn.ID()
	}
	s.debugLog("transport error", "conn", ev.ConnectionID, "error", err)
	s.emit(ev)
}

// remoteOf returns the remote address of a controller's link.
func (s *AccessoryService) remoteOf(id accessory.ControllerID) string {
	for conn, l := range s.links {
		if l.id == id {
			return conn.RemoteAddr()
		}
	}
	return ""
}

// Addr returns the TCP listen address, or nil without a TCP transport.
func (s *AccessoryService) Addr() net.Addr {
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// WebSocketURL returns the URL controllers dial, or "" without a
// WebSocket transport.
func (s *AccessoryService) WebSocketURL() string {
	if s.wsListener == nil {
		return ""
	}
	return "ws://" + s.wsListener.Addr().String() + WebSocketPath
}

// Do runs fn on the event loop with the engine. It is the only safe way
// to call into the engine from outside the service.
func (s *AccessoryService) Do(fn func(*accessory.Accessory)) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	return s.loop.do(func() { fn(s.engine) })
}
