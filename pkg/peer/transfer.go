package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Transfer is an offered asset served from memory.
type Transfer struct {
	core    wire.AssetCore
	data    []byte
	started time.Time

	mu       sync.Mutex
	requests int
	served   uint64
	highMark uint32
	result   wire.ProcessingFlags
	err      error
	done     chan struct{}
}

func newTransfer(core wire.AssetCore, data []byte) *Transfer {
	return &Transfer{core: core, data: data, started: time.Now(), done: make(chan struct{})}
}

// Core returns the offer.
func (t *Transfer) Core() wire.AssetCore { return t.core }

// Progress reports the furthest byte served and the asset length.
func (t *Transfer) Progress() (served, length uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highMark, t.core.Length
}

// Requests returns the number of data requests answered and the bytes sent.
func (t *Transfer) Requests() (int, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests, t.served
}

// Elapsed returns the time since the offer.
func (t *Transfer) Elapsed() time.Duration { return time.Since(t.started) }

// Done is closed when the transfer has an outcome.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks for the accessory's processing notification. The error is
// set when the transfer ended without one.
func (t *Transfer) Wait(ctx context.Context) (wire.ProcessingFlags, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	}
}

func (t *Transfer) finish(flags wire.ProcessingFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone() {
		return
	}
	t.result = flags
	close(t.done)
}

func (t *Transfer) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone() {
		return
	}
	t.err = err
	close(t.done)
}

func (t *Transfer) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// read returns up to n bytes at offset.
func (t *Transfer) read(offset uint32, n int) ([]byte, wire.Status) {
	if uint64(offset) >= uint64(len(t.data)) {
		return nil, wire.StatusInvalidDataRequestOffset
	}
	end := min(uint64(offset)+uint64(n), uint64(len(t.data)))
	chunk := t.data[offset:end]

	t.mu.Lock()
	t.requests++
	t.served += uint64(len(chunk))
	t.highMark = max(t.highMark, uint32(end))
	t.mu.Unlock()
	return chunk, wire.StatusSuccess
}

// OfferSuperBinary validates image as a SuperBinary and offers it under tag.
func (s *Session) OfferSuperBinary(ctx context.Context, tag wire.Tag, image []byte) (*Transfer, error) {
	img, err := superbinary.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("invalid SuperBinary: %w", err)
	}
	return s.Offer(ctx, img.Core(0, tag), image)
}

// OfferDynamic offers image as a dynamic asset, typically in answer to a
// solicitation. Dynamic assets share the SuperBinary layout.
func (s *Session) OfferDynamic(ctx context.Context, tag wire.Tag, image []byte) (*Transfer, error) {
	img, err := superbinary.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("invalid dynamic asset: %w", err)
	}
	core := img.Core(0, tag)
	core.Flags = wire.AssetFlagDynamic
	return s.Offer(ctx, core, image)
}

// Offer announces an asset and serves its data requests from data. A zero
// core.ID is replaced by the next free asset ID.
func (s *Session) Offer(ctx context.Context, core wire.AssetCore, data []byte) (*Transfer, error) {
	if uint64(len(data)) != uint64(core.Length) {
		return nil, fmt.Errorf("asset length %d does not match %d data bytes", core.Length, len(data))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if core.ID == wire.AssetIDInvalid {
		id, ok := s.allocAssetID()
		if !ok {
			s.mu.Unlock()
			return nil, ErrNoAssetIDs
		}
		core.ID = id
	}
	if err := core.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, busy := s.transfers[core.ID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("asset %d: %w", core.ID, ErrRequestInFlight)
	}
	t := newTransfer(core, data)
	// Registered before the notification: the accessory may start
	// requesting data before its ack arrives here.
	s.transfers[core.ID] = t
	s.mu.Unlock()

	n := wire.AssetAvailableNotification{Core: core}
	_, err := s.request(ctx, pendingKey{typ: wire.MsgAssetAvailableNotificationAck, id: uint32(core.ID)},
		wire.MsgAssetAvailableNotification, wire.AssetAvailableNotificationSize, n.Put)
	if err != nil {
		s.mu.Lock()
		if s.transfers[core.ID] == t {
			delete(s.transfers, core.ID)
		}
		s.mu.Unlock()
		t.fail(err)
		return nil, err
	}
	s.debugLog("asset offered", "asset", core.String())
	return t, nil
}

// Transfers returns the transfers still waiting for an outcome.
func (s *Session) Transfers() []*Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		out = append(out, t)
	}
	return out
}

// allocAssetID returns the next asset ID not in use. Called with s.mu held.
func (s *Session) allocAssetID() (uint16, bool) {
	for range 0xFFFE {
		id := s.nextAssetID
		s.nextAssetID++
		if s.nextAssetID == wire.AssetIDAll {
			s.nextAssetID = 1
		}
		if _, used := s.transfers[id]; !used {
			return id, true
		}
	}
	return 0, false
}

func (s *Session) handleDataRequest(p []byte) error {
	req, err := wire.DecodeAssetDataRequest(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	t := s.transfers[req.AssetID]
	s.stats.DataRequests++
	s.mu.Unlock()

	resp := wire.AssetDataResponse{
		Status:            wire.StatusUnknownAsset,
		AssetID:           req.AssetID,
		Offset:            req.Offset,
		NumBytesRequested: req.NumBytes,
	}
	if t != nil {
		resp.Data, resp.Status = t.read(req.Offset, min(int(req.NumBytes), s.cfg.MaxResponseData))
		resp.NumBytesResponded = uint16(len(resp.Data))
	}
	if resp.Status != wire.StatusSuccess {
		s.debugLog("data request refused", "asset", req.AssetID, "offset", req.Offset, "status", resp.Status)
	}

	if err := s.send(wire.MsgAssetDataResponse, wire.AssetDataResponseSize+len(resp.Data), resp.Put); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.BytesServed += uint64(len(resp.Data))
	s.mu.Unlock()

	if t != nil && s.cfg.OnProgress != nil {
		s.cfg.OnProgress(t)
	}
	return nil
}

func (s *Session) handleProcessing(p []byte) error {
	n, err := wire.DecodeAssetProcessingNotification(p)
	if err != nil {
		return err
	}
	ack := wire.AssetIDPayload{AssetID: n.AssetID}
	if err := s.send(wire.MsgAssetProcessingNotificationAck, wire.AssetProcessingNotificationAckSize, ack.Put); err != nil {
		return err
	}

	s.mu.Lock()
	t := s.transfers[n.AssetID]
	delete(s.transfers, n.AssetID)
	s.mu.Unlock()

	s.debugLog("asset processed", "asset", n.AssetID, "result", n.Flags)
	if t == nil {
		return fmt.Errorf("processing notification for unknown asset %d", n.AssetID)
	}
	t.finish(n.Flags)
	return nil
}
