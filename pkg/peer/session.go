package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/version"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Session errors.
var (
	ErrRequestTimeout    = errors.New("request timed out")
	ErrSessionClosed     = errors.New("session is closed")
	ErrUnexpectedReply   = errors.New("unexpected reply")
	ErrRequestInFlight   = errors.New("request already in flight")
	ErrNoAssetIDs        = errors.New("no free asset IDs")
	ErrTransferRescinded = errors.New("transfer rescinded")
)

// Config configures a Session.
type Config struct {
	// ProtocolVersion is announced in version discovery (default: version.ProtocolMax).
	ProtocolVersion uint16

	// Timeout bounds every request (default: 10s).
	Timeout time.Duration

	// MaxResponseData caps the data bytes of one AssetDataResponse
	// (default: the largest payload a message can carry).
	MaxResponseData int

	// AccessoryID names the accessory in protocol captures, usually its
	// serial number.
	AccessoryID string

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events. Nil disables capture.
	ProtocolLogger log.Logger

	// OnProgress is called from the read goroutine after every served data
	// request.
	OnProgress func(t *Transfer)
}

func (c *Config) applyDefaults() {
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = version.ProtocolMax
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxResponseData <= 0 || c.MaxResponseData > 0xFFFF-wire.AssetDataResponseSize {
		c.MaxResponseData = 0xFFFF - wire.AssetDataResponseSize
	}
}

// Stats counts the session's traffic and sequencing faults.
type Stats struct {
	TxMessages   uint32
	RxMessages   uint32
	Missed       uint32
	Duplicate    uint32
	OutOfOrder   uint32
	DataRequests uint32
	BytesServed  uint64
}

type pendingKey struct {
	typ wire.MessageType
	id  uint32
}

// Session is the controller side of one link. Its methods are safe for
// concurrent use; Run must be running for requests to complete.
type Session struct {
	conn transport.Conn
	cfg  Config
	plog log.Logger

	// txMu orders message IDs on the wire.
	txMu   sync.Mutex
	nextTx uint16

	mu              sync.Mutex
	lastRx          uint16
	rxStarted       bool
	stats           Stats
	protocolVersion uint16
	pending         map[pendingKey]chan []byte
	transfers       map[uint16]*Transfer
	nextAssetID     uint16
	vendorHandler   func(wire.VendorSpecific)
	closed          bool
	done            chan struct{}
}

// NewSession creates a session over conn.
func NewSession(conn transport.Conn, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		conn:        conn,
		cfg:         cfg,
		plog:        log.OrNoop(cfg.ProtocolLogger),
		nextTx:      1,
		pending:     make(map[pendingKey]chan []byte),
		transfers:   make(map[uint16]*Transfer),
		nextAssetID: 1,
		done:        make(chan struct{}),
	}
}

// Conn returns the underlying link.
func (s *Session) Conn() transport.Conn { return s.conn }

// ProtocolVersion returns the version selected by DiscoverVersion, or zero.
func (s *Session) ProtocolVersion() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetVendorHandler sets the handler for inbound vendor-specific messages.
func (s *Session) SetVendorHandler(fn func(wire.VendorSpecific)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendorHandler = fn
}

// Run reads messages until the link fails, ctx is done or Close is called.
// It returns nil when the link was closed deliberately.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		if err := s.Receive(msg); err != nil {
			s.debugLog("message dropped", "error", err)
		}
	}
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close closes the link and fails every pending request and transfer.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for k, ch := range s.pending {
		close(ch)
		delete(s.pending, k)
	}
	transfers := s.transfers
	s.transfers = make(map[uint16]*Transfer)
	close(s.done)
	s.mu.Unlock()

	for _, t := range transfers {
		t.fail(ErrSessionClosed)
	}
	return s.conn.Close()
}

// Sync resets the accessory's view of this controller's message IDs.
func (s *Session) Sync() error {
	return s.send(wire.MsgSync, 0, nil)
}

// send encodes and writes one message.
func (s *Session) send(typ wire.MessageType, n int, put func([]byte)) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	msg := wire.NewMessage(typ, s.nextTx, n)
	if put != nil {
		put(msg[wire.HeaderSize:])
	}
	if err := s.conn.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	s.logMessage(log.DirectionOut, msg)
	s.nextTx++

	s.mu.Lock()
	s.stats.TxMessages++
	s.mu.Unlock()
	return nil
}

// request sends a message and waits for the reply filed under key.
func (s *Session) request(ctx context.Context, key pendingKey, typ wire.MessageType, n int, put func([]byte)) ([]byte, error) {
	ch := make(chan []byte, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, busy := s.pending[key]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRequestInFlight, key.typ)
	}
	s.pending[key] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.pending[key] == ch {
			delete(s.pending, key)
		}
		s.mu.Unlock()
	}()

	if err := s.send(typ, n, put); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, typ)
	case payload, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return payload, nil
	}
}

// deliver hands a reply to the request waiting for key.
func (s *Session) deliver(key pendingKey, payload []byte) error {
	s.mu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, key.typ)
	}
	// The payload aliases the receive buffer of some transports.
	ch <- append([]byte(nil), payload...)
	return nil
}

// Receive processes one inbound message. Run calls it for every message;
// hosts with their own read loop call it directly.
func (s *Session) Receive(msg []byte) error {
	h, err := wire.DecodeHeader(msg)
	if err != nil {
		return err
	}
	p := msg[wire.HeaderSize:]
	if int(h.PayloadLength) != len(p) {
		return wire.StatusInvalidLength
	}
	s.logMessage(log.DirectionIn, msg)
	s.sequence(h)

	switch h.Type {
	case wire.MsgVersionDiscoveryResponse:
		return s.deliver(pendingKey{typ: h.Type}, p)
	case wire.MsgAccessoryInformationResponse:
		resp, err := wire.DecodeAccessoryInformationResponse(p)
		if err != nil {
			return err
		}
		return s.deliver(pendingKey{typ: h.Type, id: uint32(resp.Option)}, p)
	case wire.MsgAssetAvailableNotificationAck, wire.MsgAssetRescindedNotificationAck:
		ack, err := wire.DecodeAssetIDPayload(p)
		if err != nil {
			return err
		}
		return s.deliver(pendingKey{typ: h.Type, id: uint32(ack.AssetID)}, p)
	case wire.MsgAssetDataTransferNotificationAck, wire.MsgApplyStagedAssetsResponse:
		return s.deliver(pendingKey{typ: h.Type}, p)
	case wire.MsgDynamicAssetSolicitationAck:
		ack, err := wire.DecodeDynamicAssetSolicitationAck(p)
		if err != nil {
			return err
		}
		return s.deliver(pendingKey{typ: h.Type, id: tagKey(ack.Tag)}, p)
	case wire.MsgAssetDataRequest:
		return s.handleDataRequest(p)
	case wire.MsgAssetProcessingNotification:
		return s.handleProcessing(p)
	case wire.MsgVendorSpecific:
		v, err := wire.DecodeVendorSpecific(p)
		if err != nil {
			return err
		}
		s.mu.Lock()
		fn := s.vendorHandler
		s.mu.Unlock()
		if fn != nil {
			fn(v)
		}
		return nil
	default:
		return wire.StatusUnknownMessageType
	}
}

// sequence counts message ID faults. The accessory never retransmits, so
// nothing is rejected.
func (s *Session) sequence(h wire.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.RxMessages++
	last := s.lastRx
	s.lastRx = h.MessageID
	if !s.rxStarted {
		s.rxStarted = true
		return
	}
	switch id := h.MessageID; {
	case id == last+1:
	case id == last:
		s.stats.Duplicate++
	case id < last:
		s.stats.OutOfOrder++
	default:
		s.stats.Missed++
	}
}

func tagKey(t wire.Tag) uint32 {
	return uint32(t[0])<<24 | uint32(t[1])<<16 | uint32(t[2])<<8 | uint32(t[3])
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, args...)
	}
}

func (s *Session) logMessage(dir log.Direction, msg []byte) {
	h, _ := wire.DecodeHeader(msg)
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.conn.ID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleController,
		RemoteAddr:   s.conn.RemoteAddr(),
		AccessoryID:  s.cfg.AccessoryID,
		Message: &log.MessageEvent{
			Type:          h.Type,
			MessageID:     h.MessageID,
			PayloadLength: h.PayloadLength,
		},
	}
	p := msg[wire.HeaderSize:]
	switch h.Type {
	case wire.MsgAssetDataRequest:
		if r, err := wire.DecodeAssetDataRequest(p); err == nil {
			length := uint32(r.NumBytes)
			ev.Message.AssetID, ev.Message.Offset, ev.Message.Length = &r.AssetID, &r.Offset, &length
		}
	case wire.MsgAssetDataResponse:
		if r, err := wire.DecodeAssetDataResponse(p); err == nil {
			length := uint32(r.NumBytesResponded)
			ev.Message.AssetID, ev.Message.Offset, ev.Message.Length = &r.AssetID, &r.Offset, &length
			if r.Status != wire.StatusSuccess {
				ev.Message.Status = &r.Status
			}
		}
	}
	s.plog.Log(ev)
}
