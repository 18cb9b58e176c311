package accessory

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// fakeConn records every message the engine sends to one controller.
type fakeConn struct {
	sent [][]byte
	fail error
}

func (f *fakeConn) SendMessage(msg []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, bytes.Clone(msg))
	return nil
}

// fakeTimers hands out timers that only fire when the test says so.
type fakeTimers struct {
	next    TimerHandle
	pending map[TimerHandle]func()
	fail    error
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{pending: make(map[TimerHandle]func())}
}

func (f *fakeTimers) StartTimer(_ time.Duration, fire func()) (TimerHandle, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	f.next++
	f.pending[f.next] = fire
	return f.next, nil
}

func (f *fakeTimers) StopTimer(h TimerHandle) {
	delete(f.pending, h)
}

// fireAll fires every pending timer.
func (f *fakeTimers) fireAll() int {
	fires := make([]func(), 0, len(f.pending))
	for h, fire := range f.pending {
		delete(f.pending, h)
		fires = append(fires, fire)
	}
	for _, fire := range fires {
		fire()
	}
	return len(fires)
}

type stateChange struct {
	h      AssetHandle
	change AssetStateChange
}

// recorder implements Delegate and AssetDelegate. The on* hooks drive the
// engine the way an accessory application would.
type recorder struct {
	offers   []AssetHandle
	changes  []stateChange
	events   []string
	metaTLVs []uint32
	payMeta  []uint32
	payload  []byte
	offsets  []uint32

	onOffered         func(h AssetHandle)
	onReady           func(h AssetHandle)
	onPayloadReady    func(h AssetHandle, ph wire.PayloadHeader)
	onPayloadComplete func(h AssetHandle)
	consume           func(data []byte, offset uint32) int

	apply        wire.ApplyFlags
	solicit      wire.Status
	vendor       []wire.VendorSpecific
	vendorReject bool
}

func (r *recorder) ManufacturerName() string { return "Acme" }
func (r *recorder) ModelName() string        { return "Widget" }
func (r *recorder) SerialNumber() string     { return "SN-0001" }
func (r *recorder) HardwareVersion() string  { return "rev B" }
func (r *recorder) ActiveFirmwareVersion() wire.Version {
	return wire.Version{Major: 1, Minor: 2, Release: 3, Build: 4}
}
func (r *recorder) StagedFirmwareVersion() wire.Version { return wire.Version{} }
func (r *recorder) LastError() LastError                { return LastError{Action: 1, Status: 2} }

func (r *recorder) AssetOffered(h AssetHandle, _ ControllerID, _ wire.AssetCore) {
	r.offers = append(r.offers, h)
	r.events = append(r.events, "offered")
	if r.onOffered != nil {
		r.onOffered(h)
	}
}

func (r *recorder) AssetStateChanged(h AssetHandle, change AssetStateChange) {
	r.changes = append(r.changes, stateChange{h, change})
	r.events = append(r.events, change.String())
}

func (r *recorder) ApplyStagedAssets(ControllerID) wire.ApplyFlags {
	r.events = append(r.events, "apply")
	return r.apply
}

func (r *recorder) DynamicAssetSolicited(ControllerID, wire.Tag) wire.Status { return r.solicit }

func (r *recorder) VendorSpecific(_ ControllerID, msg wire.VendorSpecific) error {
	if r.vendorReject {
		return errors.New("unsupported")
	}
	msg.Data = bytes.Clone(msg.Data)
	r.vendor = append(r.vendor, msg)
	return nil
}

func (r *recorder) MetaDataTLV(_ AssetHandle, typ uint32, _ []byte) {
	r.metaTLVs = append(r.metaTLVs, typ)
}

func (r *recorder) MetaDataComplete(AssetHandle) { r.events = append(r.events, "metadata") }

func (r *recorder) AssetReady(h AssetHandle) {
	r.events = append(r.events, "ready")
	if r.onReady != nil {
		r.onReady(h)
	}
}

func (r *recorder) PayloadMetaDataTLV(_ AssetHandle, typ uint32, _ []byte) {
	r.payMeta = append(r.payMeta, typ)
}

func (r *recorder) PayloadMetaDataComplete(AssetHandle) {
	r.events = append(r.events, "payload-metadata")
}

func (r *recorder) PayloadReady(h AssetHandle, ph wire.PayloadHeader) {
	r.events = append(r.events, "payload-ready")
	if r.onPayloadReady != nil {
		r.onPayloadReady(h, ph)
	}
}

func (r *recorder) PayloadData(_ AssetHandle, data []byte, offset uint32) int {
	n := len(data)
	if r.consume != nil {
		n = r.consume(data, offset)
	}
	r.offsets = append(r.offsets, offset)
	if end := int(offset) + n; end > len(r.payload) {
		r.payload = append(r.payload, make([]byte, end-len(r.payload))...)
	}
	copy(r.payload[offset:], data[:n])
	return n
}

func (r *recorder) PayloadDataComplete(h AssetHandle) {
	r.events = append(r.events, "payload-complete")
	if r.onPayloadComplete != nil {
		r.onPayloadComplete(h)
	}
}

func (r *recorder) changesOf(c AssetStateChange) int {
	n := 0
	for _, sc := range r.changes {
		if sc.change == c {
			n++
		}
	}
	return n
}

// image is a SuperBinary built for tests.
type image struct {
	bytes    []byte
	core     wire.AssetCore
	payloads []wire.PayloadHeader
}

type payloadSpec struct {
	tag  string
	meta []byte
	data []byte
}

// buildImage lays out header, metadata, payload headers, payload metadata
// and payload data, in that order.
func buildImage(id uint16, ver wire.Version, meta []byte, payloads ...payloadSpec) image {
	hdr := wire.SuperBinaryHeader{
		FormatVersion: wire.SuperBinaryFormatVersion,
		HeaderLength:  wire.SuperBinaryHeaderSize,
		Version:       ver,
	}
	off := uint32(wire.SuperBinaryHeaderSize)
	if len(meta) > 0 {
		hdr.MetadataOffset, hdr.MetadataLength = off, uint32(len(meta))
		off += uint32(len(meta))
	}
	hdr.PayloadHeadersOffset = off
	hdr.PayloadHeadersLength = uint32(len(payloads)) * wire.PayloadHeaderSize
	off += hdr.PayloadHeadersLength

	phs := make([]wire.PayloadHeader, len(payloads))
	for i, p := range payloads {
		phs[i] = wire.PayloadHeader{HeaderLength: wire.PayloadHeaderSize, Tag: wire.MustTag(p.tag), Version: ver}
		if len(p.meta) > 0 {
			phs[i].MetadataOffset, phs[i].MetadataLength = off, uint32(len(p.meta))
			off += uint32(len(p.meta))
		}
	}
	for i, p := range payloads {
		phs[i].PayloadOffset, phs[i].PayloadLength = off, uint32(len(p.data))
		off += uint32(len(p.data))
	}
	hdr.TotalLength = off

	b := make([]byte, off)
	hdr.Put(b)
	copy(b[hdr.MetadataOffset:], meta)
	for i, p := range payloads {
		phs[i].Put(b[hdr.PayloadHeaderOffset(uint16(i)):])
		copy(b[phs[i].MetadataOffset:], p.meta)
		copy(b[phs[i].PayloadOffset:], p.data)
	}

	return image{
		bytes:    b,
		payloads: phs,
		core: wire.AssetCore{
			ID:          id,
			Tag:         wire.MustTag("FWUP"),
			Flags:       wire.AssetFlagSuperBinary,
			Version:     ver,
			Length:      off,
			NumPayloads: uint16(len(payloads)),
		},
	}
}

func tlvs(types ...uint32) []byte {
	var b []byte
	for _, t := range types {
		b = wire.AppendTLV(b, t, []byte{byte(t), byte(t)})
	}
	return b
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// peer plays a controller against the engine.
type peer struct {
	t      *testing.T
	acc    *Accessory
	id     ControllerID
	conn   *fakeConn
	nextID uint16
	seen   int
	img    image

	requests []wire.AssetDataRequest
}

func newPeer(t *testing.T, acc *Accessory, img image) *peer {
	t.Helper()
	p := &peer{t: t, acc: acc, conn: &fakeConn{}, nextID: 1, img: img}
	id, err := acc.AddController(p.conn)
	if err != nil {
		t.Fatalf("AddController() error = %v", err)
	}
	p.id = id
	return p
}

func (p *peer) send(typ wire.MessageType, payload []byte) error {
	msg := wire.NewMessage(typ, p.nextID, len(payload))
	copy(msg[wire.HeaderSize:], payload)
	p.nextID++
	return p.acc.Receive(p.id, msg)
}

func (p *peer) offer(core wire.AssetCore) error {
	b := make([]byte, wire.AssetAvailableNotificationSize)
	wire.AssetAvailableNotification{Core: core}.Put(b)
	return p.send(wire.MsgAssetAvailableNotification, b)
}

// nextRequest returns the next data request the engine sent that the
// peer has not looked at yet.
func (p *peer) nextRequest() (wire.AssetDataRequest, bool) {
	for p.seen < len(p.conn.sent) {
		msg := p.conn.sent[p.seen]
		p.seen++
		h, _ := wire.DecodeHeader(msg)
		if h.Type != wire.MsgAssetDataRequest {
			continue
		}
		req, err := wire.DecodeAssetDataRequest(wire.Payload(msg))
		if err != nil {
			p.t.Fatalf("DecodeAssetDataRequest() error = %v", err)
		}
		p.requests = append(p.requests, req)
		return req, true
	}
	return wire.AssetDataRequest{}, false
}

func (p *peer) respond(req wire.AssetDataRequest) error {
	data := p.img.bytes[req.Offset : req.Offset+uint32(req.NumBytes)]
	b := make([]byte, wire.AssetDataResponseSize+len(data))
	wire.AssetDataResponse{
		AssetID:           req.AssetID,
		Offset:            req.Offset,
		NumBytesRequested: req.NumBytes,
		NumBytesResponded: uint16(len(data)),
		Data:              data,
	}.Put(b)
	return p.send(wire.MsgAssetDataResponse, b)
}

// pump answers data requests until the engine stops asking.
func (p *peer) pump() int {
	p.t.Helper()
	n := 0
	for {
		req, ok := p.nextRequest()
		if !ok {
			return n
		}
		if err := p.respond(req); err != nil {
			p.t.Fatalf("respond(%+v) error = %v", req, err)
		}
		n++
	}
}

// payloads returns the payloads of every sent message of type typ.
func (p *peer) payloads(typ wire.MessageType) [][]byte {
	var out [][]byte
	for _, msg := range p.conn.sent {
		if h, _ := wire.DecodeHeader(msg); h.Type == typ {
			out = append(out, wire.Payload(msg))
		}
	}
	return out
}

// processing returns the processing notifications sent to the peer.
func (p *peer) processing() []wire.AssetProcessingNotification {
	var out []wire.AssetProcessingNotification
	for _, b := range p.payloads(wire.MsgAssetProcessingNotification) {
		n, _ := wire.DecodeAssetProcessingNotification(b)
		out = append(out, n)
	}
	return out
}

func newTestAccessory(t *testing.T, rec *recorder, mutate func(*Config)) (*Accessory, *fakeTimers) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AssetDelegate = rec
	if mutate != nil {
		mutate(&cfg)
	}
	timers := newFakeTimers()
	acc, err := New(cfg, rec, timers)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return acc, timers
}

// inUse returns the occupancy of every pool, keyed by name.
func inUse(acc *Accessory) map[string]int {
	out := make(map[string]int)
	for _, st := range acc.Stats() {
		out[st.Name] = st.InUse
	}
	return out
}

// autoStage drives a single payload transfer to completion.
func autoStage(acc *Accessory, rec *recorder) {
	rec.onOffered = func(h AssetHandle) { _ = acc.Accept(h, nil) }
	rec.onReady = func(h AssetHandle) { _ = acc.SetPayloadIndex(h, 0) }
	rec.onPayloadReady = func(h AssetHandle, _ wire.PayloadHeader) { _ = acc.RequestPayloadData(h) }
	rec.onPayloadComplete = func(h AssetHandle) { _ = acc.FullyStaged(h) }
}
