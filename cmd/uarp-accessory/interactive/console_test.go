package interactive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/service"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Status() (service.Status, error) {
	args := m.Called()
	return args.Get(0).(service.Status), args.Error(1)
}

func (m *mockService) AcceptOffer(h accessory.AssetHandle) error { return m.Called(h).Error(0) }
func (m *mockService) DenyOffer(h accessory.AssetHandle) error   { return m.Called(h).Error(0) }
func (m *mockService) Pause(h accessory.AssetHandle) error       { return m.Called(h).Error(0) }
func (m *mockService) Resume(h accessory.AssetHandle) error      { return m.Called(h).Error(0) }
func (m *mockService) Abandon(h accessory.AssetHandle) error     { return m.Called(h).Error(0) }

func (m *mockService) ApplyLocal() (wire.ApplyFlags, error) {
	args := m.Called()
	return args.Get(0).(wire.ApplyFlags), args.Error(1)
}

func (m *mockService) SendVendorSpecific(id accessory.ControllerID, oui wire.OUI, typ uint16, data []byte) error {
	return m.Called(id, oui, typ, data).Error(0)
}

func (m *mockService) OnEvent(handler service.EventHandler) { m.Called(handler) }

func newTestConsole(svc Service) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return &Console{out: &out, svc: svc}, &out
}

var fwCore = wire.AssetCore{
	Tag:     wire.MustTag("FWUP"),
	Flags:   wire.AssetFlagSuperBinary,
	ID:      1,
	Version: wire.Version{Major: 2},
	Length:  4096,
}

func TestConsoleStatus(t *testing.T) {
	svc := &mockService{}
	svc.On("Status").Return(service.Status{
		State:          service.StateRunning,
		ActiveFirmware: wire.Version{Major: 1},
		Staged: &persistence.StagedAsset{
			Tag:      "FWUP",
			Version:  wire.Version{Major: 2},
			Length:   4096,
			Payloads: make([]persistence.StagedPayload, 2),
		},
		LastError: persistence.LastError{Action: service.ActionApply, Status: uint32(wire.StatusApplyRefused)},
		Links:     1,
	}, nil)

	c, out := newTestConsole(svc)
	assert.True(t, c.execute("status"))

	text := out.String()
	assert.Contains(t, text, "Active:       1.0.0.0")
	assert.Contains(t, text, "Staged:       2.0.0.0 (FWUP, 2 payloads, 4096 bytes)")
	assert.Contains(t, text, wire.StatusApplyRefused.String())
	svc.AssertExpectations(t)
}

func TestConsoleAcceptPendingOffer(t *testing.T) {
	offer := service.Offer{Controller: 1, Core: fwCore}

	svc := &mockService{}
	svc.On("Status").Return(service.Status{Pending: []service.Offer{offer}}, nil)
	svc.On("AcceptOffer", offer.Handle).Return(nil).Once()

	c, out := newTestConsole(svc)
	c.execute("accept 0")

	assert.Contains(t, out.String(), "OK")
	svc.AssertExpectations(t)
}

func TestConsoleDenyUnknownSlot(t *testing.T) {
	svc := &mockService{}
	svc.On("Status").Return(service.Status{}, nil)

	c, out := newTestConsole(svc)
	c.execute("deny 3")

	assert.Contains(t, out.String(), "no pending offer in slot 3")
	svc.AssertNotCalled(t, "DenyOffer", mock.Anything)
}

func TestConsoleAssetCommands(t *testing.T) {
	info := accessory.AssetInfo{Controller: 1, Core: fwCore, State: accessory.StatePayloadDataPending}

	tests := []struct {
		line   string
		method string
		err    error
		want   string
	}{
		{"pause 0", "Pause", nil, "OK"},
		{"resume 0", "Resume", nil, "OK"},
		{"abandon 0", "Abandon", wire.StatusAssetPendingRelease, "Error: "},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			svc := &mockService{}
			svc.On("Status").Return(service.Status{Assets: []accessory.AssetInfo{info}}, nil)
			svc.On(tt.method, info.Handle).Return(tt.err).Once()

			c, out := newTestConsole(svc)
			c.execute(tt.line)

			assert.Contains(t, out.String(), tt.want)
			svc.AssertExpectations(t)
		})
	}
}

func TestConsoleSlotUsage(t *testing.T) {
	svc := &mockService{}
	c, out := newTestConsole(svc)

	c.execute("pause")
	c.execute("resume x")

	assert.Contains(t, out.String(), "Usage: pause <slot>")
	assert.Contains(t, out.String(), "Invalid slot: x")
	svc.AssertNotCalled(t, "Status")
}

func TestConsoleApply(t *testing.T) {
	svc := &mockService{}
	svc.On("ApplyLocal").Return(wire.ApplyNothingStaged, errors.New("nothing staged")).Once()

	c, out := newTestConsole(svc)
	c.execute("apply")

	assert.Contains(t, out.String(), wire.ApplyNothingStaged.String())
	svc.AssertExpectations(t)
}

func TestConsoleVendor(t *testing.T) {
	svc := &mockService{}
	svc.On("SendVendorSpecific", accessory.ControllerID(2), wire.OUI{0x00, 0x17, 0xF2}, uint16(7), []byte{0xCA, 0xFE}).
		Return(nil).Once()

	c, out := newTestConsole(svc)
	c.execute("vendor 2 0017f2 7 cafe")
	c.execute("vendor 2 17f2 7")

	text := out.String()
	assert.Contains(t, text, "OK")
	assert.Contains(t, text, "Invalid OUI: 17f2")
	svc.AssertExpectations(t)
}

func TestConsoleQuitAndUnknown(t *testing.T) {
	c, out := newTestConsole(&mockService{})

	assert.True(t, c.execute("   "))
	assert.True(t, c.execute("frobnicate"))
	assert.False(t, c.execute("quit"))
	assert.True(t, strings.Contains(out.String(), "Unknown command: frobnicate"))
}

func TestConsoleAnnouncesOffers(t *testing.T) {
	c, out := newTestConsole(&mockService{})

	c.handleEvent(service.Event{Type: service.EventAssetOffered, Core: fwCore})
	c.handleEvent(service.Event{Type: service.EventFullyStaged, Core: fwCore})

	assert.Contains(t, out.String(), "[OFFER] slot 0")
	assert.Contains(t, out.String(), "[STAGED] firmware 2.0.0.0 ready to apply")
}
