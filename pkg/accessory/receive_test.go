package accessory

import (
	"errors"
	"testing"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func rawMessage(typ wire.MessageType, id uint16, payload []byte) []byte {
	msg := wire.NewMessage(typ, id, len(payload))
	copy(msg[wire.HeaderSize:], payload)
	return msg
}

func TestNewValidation(t *testing.T) {
	rec := &recorder{}

	if _, err := New(DefaultConfig(), nil, newFakeTimers()); !errors.Is(err, ErrMissingDelegate) {
		t.Errorf("New(nil delegate) error = %v, want ErrMissingDelegate", err)
	}
	if _, err := New(DefaultConfig(), rec, nil); !errors.Is(err, ErrMissingTimers) {
		t.Errorf("New(nil timers) error = %v, want ErrMissingTimers", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"protocol version", func(c *Config) { c.MaxProtocolVersion = 0 }},
		{"no assets", func(c *Config) { c.MaxAssets = 0 }},
		{"tiny window", func(c *Config) { c.PayloadWindowLength = 16 }},
		{"tiny rx", func(c *Config) { c.MaxRxPayloadLength = wire.AssetDataResponseSize + 8 }},
		{"reservation", func(c *Config) { c.ReservedTxBuffers = c.TxBuffers }},
		{"negative timeout", func(c *Config) { c.DataResponseTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, rec, newFakeTimers()); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestReceiveSequencing(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	conn := &fakeConn{}
	id, _ := acc.AddController(conn)

	ping := func(msgID uint16) error {
		return acc.Receive(id, rawMessage(wire.MsgAssetProcessingNotificationAck, msgID, []byte{0, 1}))
	}

	steps := []struct {
		id   uint16
		want error
	}{
		{1, nil},
		{2, nil},
		{2, wire.StatusDuplicateMessageID},
		{1, wire.StatusOutOfOrderMessageID},
		{2, nil}, // last is 1 after the out of order message
		{7, nil}, // gap: counted, accepted
		{8, nil},
	}
	for i, s := range steps {
		if err := ping(s.id); !errors.Is(err, s.want) && err != s.want {
			t.Fatalf("step %d: Receive(id %d) error = %v, want %v", i, s.id, err, s.want)
		}
	}

	st := acc.Controllers()[0].Stats
	if st.Duplicate != 1 || st.OutOfOrder != 1 || st.Missed != 1 {
		t.Errorf("Stats = %+v, want one of each fault", st)
	}
	if st.RxMessages != uint32(len(steps)) || st.RxRejected != 2 {
		t.Errorf("Rx = %d rejected = %d, want %d/2", st.RxMessages, st.RxRejected, len(steps))
	}
}

func TestReceiveStrictlyIncreasingIDsNeverRejected(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	id, _ := acc.AddController(&fakeConn{})

	for msgID := uint16(1); msgID < 600; msgID += 1 + msgID%3 {
		if err := acc.Receive(id, rawMessage(wire.MsgAssetProcessingNotificationAck, msgID, []byte{0, 1})); err != nil {
			t.Fatalf("Receive(id %d) error = %v", msgID, err)
		}
	}
}

func TestReceiveSyncResetsSequence(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	id, _ := acc.AddController(&fakeConn{})

	_ = acc.Receive(id, rawMessage(wire.MsgAssetProcessingNotificationAck, 100, []byte{0, 1}))
	if err := acc.Receive(id, rawMessage(wire.MsgSync, 9, nil)); err != nil {
		t.Fatalf("Receive(Sync) error = %v", err)
	}
	if err := acc.Receive(id, rawMessage(wire.MsgAssetProcessingNotificationAck, 10, []byte{0, 1})); err != nil {
		t.Errorf("Receive(id 10) after sync error = %v", err)
	}
}

func TestReceiveLengthChecks(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	id, _ := acc.AddController(&fakeConn{})

	if err := acc.Receive(id, []byte{0, 1, 0}); !errors.Is(err, wire.StatusInvalidLength) {
		t.Errorf("Receive(short) error = %v, want InvalidLength", err)
	}

	bad := rawMessage(wire.MsgAssetProcessingNotificationAck, 1, []byte{0, 1})
	bad = bad[:len(bad)-1]
	if err := acc.Receive(id, bad); !errors.Is(err, wire.StatusInvalidLength) {
		t.Errorf("Receive(truncated) error = %v, want InvalidLength", err)
	}
	// The ID of the malformed message still counts.
	if err := acc.Receive(id, rawMessage(wire.MsgAssetProcessingNotificationAck, 1, []byte{0, 1})); !errors.Is(err, wire.StatusDuplicateMessageID) {
		t.Errorf("Receive(id 1 again) error = %v, want DuplicateMessageID", err)
	}
}

func TestReceiveUnknown(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	id, _ := acc.AddController(&fakeConn{})

	if err := acc.Receive(id+1, rawMessage(wire.MsgSync, 0, nil)); !errors.Is(err, wire.StatusUnknownController) {
		t.Errorf("Receive(unknown controller) error = %v", err)
	}
	if err := acc.Receive(id, rawMessage(wire.MessageType(0x0042), 1, nil)); !errors.Is(err, wire.StatusUnknownMessageType) {
		t.Errorf("Receive(type 0x42) error = %v", err)
	}
	// Messages the accessory sends are not accepted from a controller.
	if err := acc.Receive(id, rawMessage(wire.MsgAssetDataRequest, 2, make([]byte, 8))); !errors.Is(err, wire.StatusUnknownMessageType) {
		t.Errorf("Receive(AssetDataRequest) error = %v", err)
	}
}

func TestVersionDiscovery(t *testing.T) {
	tests := []struct {
		name       string
		peer       uint16
		wantStatus wire.Status
		wantVer    uint16
	}{
		{"peer older", 2, wire.StatusSuccess, 2},
		{"peer newer", 9, wire.StatusSuccess, 3},
		{"equal", 3, wire.StatusSuccess, 3},
		{"zero", 0, wire.StatusInvalidProtocolVersion, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, _ := newTestAccessory(t, &recorder{}, nil)
			p := newPeer(t, acc, image{})

			b := make([]byte, wire.VersionDiscoveryRequestSize)
			wire.VersionDiscoveryRequest{ProtocolVersion: tt.peer}.Put(b)
			err := p.send(wire.MsgVersionDiscoveryRequest, b)
			if wire.StatusOf(err) != tt.wantStatus {
				t.Fatalf("Receive() error = %v, want %v", err, tt.wantStatus)
			}

			resp := p.payloads(wire.MsgVersionDiscoveryResponse)
			if len(resp) != 1 {
				t.Fatalf("responses = %d, want 1", len(resp))
			}
			r, _ := wire.DecodeVersionDiscoveryResponse(resp[0])
			if r.Status != tt.wantStatus || r.ProtocolVersion != tt.wantVer {
				t.Errorf("response = %+v, want status %v version %d", r, tt.wantStatus, tt.wantVer)
			}
			if tt.wantStatus == wire.StatusSuccess && acc.Controllers()[0].ProtocolVersion != tt.wantVer {
				t.Errorf("controller version = %d, want %d", acc.Controllers()[0].ProtocolVersion, tt.wantVer)
			}
			// Discovery selects the version only. The window stays the
			// configured one.
			if w := acc.Controllers()[0].WindowLength; w != DefaultConfig().PayloadWindowLength {
				t.Errorf("controller window = %d, want %d", w, DefaultConfig().PayloadWindowLength)
			}
		})
	}
}

func TestAccessoryInformation(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	p := newPeer(t, acc, image{})

	ask := func(opt wire.InfoOption) (wire.AccessoryInformationResponse, error) {
		b := make([]byte, wire.AccessoryInformationRequestSize)
		wire.AccessoryInformationRequest{Option: opt}.Put(b)
		err := p.send(wire.MsgAccessoryInformationRequest, b)
		resp := p.payloads(wire.MsgAccessoryInformationResponse)
		r, derr := wire.DecodeAccessoryInformationResponse(resp[len(resp)-1])
		if derr != nil {
			t.Fatalf("DecodeAccessoryInformationResponse() error = %v", derr)
		}
		return r, err
	}

	r, err := ask(wire.InfoManufacturerName)
	if err != nil || string(r.Value) != "Acme" {
		t.Errorf("manufacturer = %q, %v", r.Value, err)
	}
	r, _ = ask(wire.InfoSerialNumber)
	if string(r.Value) != "SN-0001" {
		t.Errorf("serial = %q", r.Value)
	}
	r, _ = ask(wire.InfoActiveFirmwareVersion)
	if len(r.Value) != wire.VersionSize || r.Value[3] != 1 || r.Value[15] != 4 {
		t.Errorf("active firmware = %x", r.Value)
	}

	r, _ = ask(wire.InfoStatistics)
	st, err := DecodeControllerStats(r.Value)
	if err != nil {
		t.Fatalf("DecodeControllerStats() error = %v", err)
	}
	if st.RxMessages != 4 || st.TxMessages != 3 {
		t.Errorf("statistics = %+v, want rx 4 tx 3", st)
	}

	r, err = ask(wire.InfoOption(99))
	if !errors.Is(err, wire.StatusInvalidInformationOption) || r.Status != wire.StatusInvalidInformationOption {
		t.Errorf("unknown option: status = %v, err = %v", r.Status, err)
	}
	if inUse(acc)["tx-scratch"] != 0 {
		t.Error("scratch buffer leaked")
	}
}

func TestApplyStagedAssets(t *testing.T) {
	rec := &recorder{apply: wire.ApplyNothingStaged}
	acc, _ := newTestAccessory(t, rec, nil)
	p := newPeer(t, acc, image{})

	if err := p.send(wire.MsgApplyStagedAssetsRequest, nil); err != nil {
		t.Fatalf("Receive(apply) error = %v", err)
	}
	resp, _ := wire.DecodeApplyStagedAssetsResponse(p.payloads(wire.MsgApplyStagedAssetsResponse)[0])
	if resp.Flags != wire.ApplyNothingStaged {
		t.Errorf("apply = %v, want NOTHING_STAGED", resp.Flags)
	}
}

func TestSolicitationAndVendorMessages(t *testing.T) {
	rec := &recorder{solicit: wire.StatusUnsupportedDynamicAsset}
	acc, _ := newTestAccessory(t, rec, nil)
	p := newPeer(t, acc, image{})

	b := make([]byte, wire.DynamicAssetSolicitationSize)
	wire.DynamicAssetSolicitation{Tag: wire.MustTag("LOGS")}.Put(b)
	if err := p.send(wire.MsgDynamicAssetSolicitation, b); err != nil {
		t.Fatalf("Receive(solicitation) error = %v", err)
	}
	ack, _ := wire.DecodeDynamicAssetSolicitationAck(p.payloads(wire.MsgDynamicAssetSolicitationAck)[0])
	if ack.Tag != wire.MustTag("LOGS") || ack.Status != wire.StatusUnsupportedDynamicAsset {
		t.Errorf("solicitation ack = %+v", ack)
	}

	v := wire.VendorSpecific{OUI: wire.OUI{0x00, 0x1B, 0x63}, Type: 7, Data: []byte("hello")}
	b = make([]byte, wire.VendorSpecificSize+len(v.Data))
	v.Put(b)
	if err := p.send(wire.MsgVendorSpecific, b); err != nil {
		t.Fatalf("Receive(vendor) error = %v", err)
	}
	if len(rec.vendor) != 1 || string(rec.vendor[0].Data) != "hello" || rec.vendor[0].Type != 7 {
		t.Errorf("vendor messages = %+v", rec.vendor)
	}

	rec.vendorReject = true
	if err := p.send(wire.MsgVendorSpecific, b); !errors.Is(err, wire.StatusUnsupportedVendorMessage) {
		t.Errorf("rejected vendor message error = %v", err)
	}

	if err := acc.SendVendorSpecific(p.id, v.OUI, 8, []byte{1, 2}); err != nil {
		t.Fatalf("SendVendorSpecific() error = %v", err)
	}
	out := p.payloads(wire.MsgVendorSpecific)
	got, _ := wire.DecodeVendorSpecific(out[len(out)-1])
	if got.Type != 8 || len(got.Data) != 2 {
		t.Errorf("sent vendor message = %+v", got)
	}
}

func TestControllerRegistry(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, func(c *Config) { c.MaxControllers = 2 })

	a, b := &fakeConn{}, &fakeConn{}
	idA, err := acc.AddController(a)
	if err != nil || idA != 1 {
		t.Fatalf("AddController(a) = %d, %v", idA, err)
	}
	if _, err := acc.AddController(a); !errors.Is(err, wire.StatusDuplicateController) {
		t.Errorf("AddController(a) again error = %v", err)
	}
	idB, _ := acc.AddController(b)
	if _, err := acc.AddController(&fakeConn{}); !errors.Is(err, wire.StatusNoResources) {
		t.Errorf("AddController(full) error = %v", err)
	}

	if got, ok := acc.FindController(b); !ok || got != idB {
		t.Errorf("FindController(b) = %d, %v", got, ok)
	}
	if err := acc.RemoveController(idA); err != nil {
		t.Fatalf("RemoveController() error = %v", err)
	}
	if err := acc.RemoveController(idA); !errors.Is(err, wire.StatusUnknownController) {
		t.Errorf("RemoveController() again error = %v", err)
	}

	// IDs are never reused.
	idC, _ := acc.AddController(&fakeConn{})
	if idC != 3 {
		t.Errorf("third controller ID = %d, want 3", idC)
	}
}

func TestTransmitFailureKeepsMessageID(t *testing.T) {
	acc, _ := newTestAccessory(t, &recorder{}, nil)
	p := newPeer(t, acc, image{})

	p.conn.fail = errors.New("link down")
	err := p.send(wire.MsgApplyStagedAssetsRequest, nil)
	if !errors.Is(err, wire.StatusTransmitFailed) {
		t.Fatalf("Receive() error = %v, want TransmitFailed", err)
	}
	if inUse(acc)["tx"] != 0 {
		t.Error("transmit buffer not returned after failure")
	}

	p.conn.fail = nil
	_ = p.send(wire.MsgApplyStagedAssetsRequest, nil)
	h, _ := wire.DecodeHeader(p.conn.sent[0])
	if h.MessageID != 1 {
		t.Errorf("first delivered message ID = %d, want 1", h.MessageID)
	}
}
