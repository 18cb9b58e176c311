package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/superbinary"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no serial", func(c *Config) { c.Serial = "" }, false},
		{"no data dir", func(c *Config) { c.DataDir = "" }, false},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }, false},
		{"unnamed serial port", func(c *Config) { c.SerialPorts = []transport.SerialConfig{{BaudRate: 9600}} }, false},
		{"bad engine geometry", func(c *Config) { c.Engine.MaxControllers = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewerFirmwarePolicy(t *testing.T) {
	main := wire.MustTag("MAIN")
	tests := []struct {
		name   string
		policy OfferPolicy
		core   wire.AssetCore
		want   Decision
	}{
		{"newer", NewerFirmwarePolicy(), wire.AssetCore{Tag: fwup, Version: v21}, DecisionAccept},
		{"same", NewerFirmwarePolicy(), wire.AssetCore{Tag: fwup, Version: v1}, DecisionDeny},
		{"older", NewerFirmwarePolicy(), wire.AssetCore{Tag: fwup, Version: wire.Version{Minor: 9}}, DecisionDeny},
		{"tag allowed", NewerFirmwarePolicy(main), wire.AssetCore{Tag: main, Version: v21}, DecisionAccept},
		{"tag not allowed", NewerFirmwarePolicy(main), wire.AssetCore{Tag: fwup, Version: v21}, DecisionDeny},
		{"manual", ManualPolicy, wire.AssetCore{Tag: fwup, Version: v21}, DecisionDefer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy(tt.core, v1); got != tt.want {
				t.Errorf("policy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, svc.State())
	assert.ErrorIs(t, svc.Stop(), ErrNotStarted)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
	assert.ErrorIs(t, svc.Attach(nil), ErrNotStarted)
	_, err = svc.Status()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStageAndApplyFirmware(t *testing.T) {
	cfg := testConfig(t)
	inst := &mockInstaller{}
	inst.On("Install", mock.Anything,
		mock.MatchedBy(func(s *persistence.StagedAsset) bool { return s.Version == v21 }),
		mock.MatchedBy(func(p []store.Entry) bool { return len(p) == 2 })).Return(nil).Once()
	cfg.Installer = inst

	svc := startService(t, cfg)
	events := watch(svc)
	sess := connectPeer(t, svc)

	flags := offerAndWait(t, sess, firmwareImage(t, v21))
	assert.Equal(t, wire.ProcessingUploadComplete, flags)
	waitEvent(t, events, EventFullyStaged)

	st, err := svc.Status()
	require.NoError(t, err)
	require.NotNil(t, st.Staged)
	assert.Equal(t, v21, st.Staged.Version)
	require.Len(t, st.Staged.Payloads, 2)
	assert.Equal(t, "MAIN", st.Staged.Payloads[0].Tag)
	assert.Equal(t, uint32(3000), st.Staged.Payloads[0].Length)
	assert.Equal(t, 1, st.Links)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := sess.AccessoryInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.Manufacturer)
	assert.Equal(t, v1, info.ActiveFirmware)
	assert.Equal(t, v21, info.StagedFirmware)

	applied, err := sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplySuccess, applied)
	inst.AssertExpectations(t)

	st, err = svc.Status()
	require.NoError(t, err)
	assert.Equal(t, v21, st.ActiveFirmware)
	assert.Nil(t, st.Staged)

	saved, err := persistence.NewAccessoryStateStore(filepath.Join(cfg.DataDir, StateFileName)).Load()
	require.NoError(t, err)
	assert.Equal(t, v21, saved.ActiveFirmware)
	assert.False(t, saved.AppliedAt.IsZero())

	applied, err = sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplyNothingStaged, applied)
}

func TestOlderFirmwareDenied(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitialFirmware = wire.Version{Major: 3}
	svc := startService(t, cfg)
	events := watch(svc)
	sess := connectPeer(t, svc)

	assert.Equal(t, wire.ProcessingDenied, offerAndWait(t, sess, firmwareImage(t, v21)))
	e := waitEvent(t, events, EventAssetDenied)
	assert.Equal(t, v21, e.Core.Version)
}

func TestManualPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.OfferPolicy = ManualPolicy
	svc := startService(t, cfg)
	events := watch(svc)
	sess := connectPeer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := sess.OfferSuperBinary(ctx, fwup, firmwareImage(t, v21))
	require.NoError(t, err)

	offered := waitEvent(t, events, EventAssetOffered)
	offers, err := svc.PendingOffers()
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, offered.Asset, offers[0].Handle)

	require.NoError(t, svc.AcceptOffer(offers[0].Handle))
	assert.ErrorIs(t, svc.AcceptOffer(offers[0].Handle), ErrNoPendingOffer)
	assert.ErrorIs(t, svc.DenyOffer(offers[0].Handle), ErrNoPendingOffer)

	flags, err := tr.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ProcessingUploadComplete, flags)
}

func TestApplyRefusesTamperedPayload(t *testing.T) {
	cfg := testConfig(t)
	svc := startService(t, cfg)
	events := watch(svc)
	sess := connectPeer(t, svc)

	require.Equal(t, wire.ProcessingUploadComplete, offerAndWait(t, sess, firmwareImage(t, v21)))
	waitEvent(t, events, EventFullyStaged)

	staged, err := filepath.Glob(filepath.Join(cfg.DataDir, PayloadsDirName, "staged", "*.bin"))
	require.NoError(t, err)
	require.Len(t, staged, 2)
	require.NoError(t, os.WriteFile(staged[0], []byte("not the firmware"), 0644))

	flags, err := svc.ApplyLocal()
	assert.ErrorIs(t, err, store.ErrDigestMismatch)
	assert.Equal(t, wire.ApplyFailure, flags)

	st, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, v1, st.ActiveFirmware)
	assert.Equal(t, ActionApply, st.LastError.Action)
	assert.Equal(t, uint32(wire.StatusApplyRefused), st.LastError.Status)
}

func TestApplyLocalNothingStaged(t *testing.T) {
	svc := startService(t, testConfig(t))
	flags, err := svc.ApplyLocal()
	assert.ErrorIs(t, err, ErrNothingStaged)
	assert.Equal(t, wire.ApplyNothingStaged, flags)
}

func TestInstallerFailure(t *testing.T) {
	cfg := testConfig(t)
	inst := &mockInstaller{}
	inst.On("Install", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("flash write failed"))
	cfg.Installer = inst
	svc := startService(t, cfg)
	sess := connectPeer(t, svc)

	require.Equal(t, wire.ProcessingUploadComplete, offerAndWait(t, sess, firmwareImage(t, v21)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	flags, err := sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplyFailure, flags)

	st, err := svc.Status()
	require.NoError(t, err)
	require.NotNil(t, st.Staged, "a failed install keeps the staged asset")
	assert.Equal(t, v1, st.ActiveFirmware)
}

func TestApplyNeedsRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.ApplyNeedsRestart = true
	svc := startService(t, cfg)
	sess := connectPeer(t, svc)

	require.Equal(t, wire.ProcessingUploadComplete, offerAndWait(t, sess, firmwareImage(t, v21)))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	flags, err := sess.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ApplyNeedsRestart, flags)
}

func TestStagedStateSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	sess := connectPeer(t, svc)
	require.Equal(t, wire.ProcessingUploadComplete, offerAndWait(t, sess, firmwareImage(t, v21)))
	require.NoError(t, svc.Stop())

	restarted := startService(t, cfg)
	st, err := restarted.Status()
	require.NoError(t, err)
	require.NotNil(t, st.Staged)
	assert.Equal(t, v21, st.Staged.Version)

	flags, err := restarted.ApplyLocal()
	require.NoError(t, err)
	assert.Equal(t, wire.ApplySuccess, flags)
}

func TestDynamicAsset(t *testing.T) {
	cfg := testConfig(t)
	logs := wire.MustTag("LOGS")
	cfg.DynamicTags = []wire.Tag{logs}
	svc := startService(t, cfg)
	events := watch(svc)
	sess := connectPeer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := sess.Solicit(ctx, logs)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, status)
	status, err = sess.Solicit(ctx, wire.MustTag("CRSH"))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusUnsupportedDynamicAsset, status)

	image := buildImage(t, v1, superbinary.Payload{Tag: logs, Data: []byte("boot ok\nlink up\n")})
	tr, err := sess.OfferDynamic(ctx, logs, image)
	require.NoError(t, err)
	flags, err := tr.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ProcessingUploadComplete, flags)

	e := waitEvent(t, events, EventDynamicAsset)
	assert.Equal(t, "boot ok\nlink up\n", string(e.Data))

	st, err := svc.Status()
	require.NoError(t, err)
	assert.Nil(t, st.Staged, "dynamic assets are not staged firmware")
}

func TestVendorMessages(t *testing.T) {
	svc := startService(t, testConfig(t))
	events := watch(svc)
	sess := connectPeer(t, svc)
	waitEvent(t, events, EventConnected)

	got := make(chan wire.VendorSpecific, 1)
	sess.SetVendorHandler(func(v wire.VendorSpecific) { got <- v })

	oui := wire.OUI{0x00, 0x1B, 0x63}
	require.NoError(t, sess.SendVendorSpecific(wire.VendorSpecific{OUI: oui, Type: 7, Data: []byte("ping")}))
	e := waitEvent(t, events, EventVendorMessage)
	assert.Equal(t, uint16(7), e.Vendor.Type)
	assert.Equal(t, "ping", string(e.Vendor.Data))

	require.NoError(t, svc.SendVendorSpecific(e.Controller, oui, 8, []byte("pong")))
	select {
	case v := <-got:
		assert.Equal(t, uint16(8), v.Type)
		assert.Equal(t, "pong", string(v.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("vendor message not received")
	}
}

func TestDisconnectRemovesController(t *testing.T) {
	svc := startService(t, testConfig(t))
	events := watch(svc)

	accEnd, _ := newPipe()
	require.NoError(t, svc.Attach(accEnd))
	connected := waitEvent(t, events, EventConnected)

	st, err := svc.Status()
	require.NoError(t, err)
	assert.Len(t, st.Controllers, 1)

	require.NoError(t, accEnd.Close())
	disconnected := waitEvent(t, events, EventDisconnected)
	assert.Equal(t, connected.Controller, disconnected.Controller)

	st, err = svc.Status()
	require.NoError(t, err)
	assert.Empty(t, st.Controllers)
	assert.Zero(t, st.Links)
}

func TestAsyncSendTransfers(t *testing.T) {
	cfg := testConfig(t)
	cfg.AsyncSend = true
	svc := startService(t, cfg)
	sess := connectPeer(t, svc)

	assert.Equal(t, wire.ProcessingUploadComplete, offerAndWait(t, sess, firmwareImage(t, v21)))
}

func TestIdleLinksAreClosed(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdleTimeout = 50 * time.Millisecond
	svc := startService(t, cfg)
	events := watch(svc)

	accEnd, _ := newPipe()
	require.NoError(t, svc.Attach(accEnd))
	waitEvent(t, events, EventConnected)
	waitEvent(t, events, EventDisconnected)
}

func TestControllerLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.MaxControllers = 1
	svc := startService(t, cfg)
	events := watch(svc)

	first, _ := newPipe()
	require.NoError(t, svc.Attach(first))
	waitEvent(t, events, EventConnected)

	second, _ := newPipe()
	require.NoError(t, svc.Attach(second))
	e := waitEvent(t, events, EventError)
	assert.Equal(t, second.ID(), e.ConnectionID)

	_, err := second.Receive()
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}
