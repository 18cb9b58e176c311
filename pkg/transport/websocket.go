package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// WebSocketConn carries one UARP message per binary WebSocket message.
// Text messages are ignored.
type WebSocketConn struct {
	frameLog
	id   string
	ws   *websocket.Conn
	max  uint32
	wmu  sync.Mutex
	once sync.Once
	done chan struct{}
}

func newWebSocketConn(ws *websocket.Conn, logger log.Logger) *WebSocketConn {
	c := &WebSocketConn{
		frameLog: frameLog{overhead: 0},
		id:       uuid.New().String(),
		ws:       ws,
		max:      DefaultMaxMessageSize,
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(int64(c.max))
	c.SetLogger(logger, c.id)
	return c
}

// ID returns the connection identifier.
func (c *WebSocketConn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Send writes one message.
func (c *WebSocketConn) Send(msg []byte) error {
	if err := checkSize(len(msg), c.max); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return err
	}
	c.log(msg, log.DirectionOut)
	return nil
}

// Receive returns the next binary message.
func (c *WebSocketConn) Receive() ([]byte, error) {
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrConnectionClosed
			default:
			}
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if err := checkSize(len(msg), c.max); err != nil {
			return nil, err
		}
		c.log(msg, log.DirectionIn)
		return msg, nil
	}
}

// Close sends a close frame and closes the connection.
func (c *WebSocketConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// WebSocketDialConfig configures DialWebSocket.
type WebSocketDialConfig struct {
	// Header is sent with the upgrade request, e.g. for authorization.
	Header http.Header

	// InsecureSkipVerify disables server verification for wss URLs.
	InsecureSkipVerify bool

	Logger log.Logger
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, cfg WebSocketDialConfig) (*WebSocketConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{ALPNProtocol},
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}

	ws, resp, err := dialer.DialContext(ctx, rawURL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return newWebSocketConn(ws, cfg.Logger), nil
}

// WebSocketHandler accepts controller links over WebSocket. It plays the
// role of Server for HTTP hosts.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	config   ServerConfig
	wg       sync.WaitGroup
}

// NewWebSocketHandler creates a handler. Address, TLSConfig and
// HandshakeTimeout of config are ignored; the HTTP server owns them.
func NewWebSocketHandler(config ServerConfig) *WebSocketHandler {
	return &WebSocketHandler{
		config: config,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{ALPNProtocol},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP upgrades the request and serves the link until it closes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		if h.config.OnError != nil {
			h.config.OnError(nil, fmt.Errorf("websocket upgrade failed: %w", err))
		}
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()

	conn := newWebSocketConn(ws, h.config.Logger)
	defer conn.Close()
	if h.config.OnConnect != nil {
		h.config.OnConnect(conn)
	}
	for {
		msg, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && h.config.OnError != nil {
				h.config.OnError(conn, err)
			}
			break
		}
		if h.config.OnMessage != nil {
			h.config.OnMessage(conn, msg)
		}
	}
	if h.config.OnDisconnect != nil {
		h.config.OnDisconnect(conn)
	}
}

// Wait blocks until every served link has returned.
func (h *WebSocketHandler) Wait() { h.wg.Wait() }
