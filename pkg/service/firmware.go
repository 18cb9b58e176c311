package service

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Offer is an asset offer waiting for an operator decision.
type Offer struct {
	Handle     accessory.AssetHandle
	Controller accessory.ControllerID
	Core       wire.AssetCore
}

// stagingAsset follows one accepted asset.
type stagingAsset struct {
	core       wire.AssetCore
	controller accessory.ControllerID
	remote     string
	dynamic    bool

	header   wire.PayloadHeader
	index    int
	writer   *store.Writer
	payloads []persistence.StagedPayload
	data     []byte

	metadata int
}

func (st *stagingAsset) abort() {
	if st.writer != nil {
		st.writer.Abort()
		st.writer = nil
	}
}

// firmware is the engine delegate. It decides offers, streams payloads
// into the store and applies what was staged. Every method runs on the
// event loop.
type firmware struct {
	svc     *AccessoryService
	state   *persistence.AccessoryState
	pending map[accessory.AssetHandle]Offer
	staging map[accessory.AssetHandle]*stagingAsset
}

func newFirmware(svc *AccessoryService, state *persistence.AccessoryState) *firmware {
	return &firmware{
		svc:     svc,
		state:   state,
		pending: make(map[accessory.AssetHandle]Offer),
		staging: make(map[accessory.AssetHandle]*stagingAsset),
	}
}

var (
	_ accessory.Delegate      = (*firmware)(nil)
	_ accessory.AssetDelegate = (*firmware)(nil)
)

func (f *firmware) ManufacturerName() string { return f.svc.config.Manufacturer }
func (f *firmware) ModelName() string        { return f.svc.config.Model }
func (f *firmware) SerialNumber() string     { return f.svc.config.Serial }
func (f *firmware) HardwareVersion() string  { return f.svc.config.Hardware }

func (f *firmware) ActiveFirmwareVersion() wire.Version { return f.state.ActiveFirmware }

func (f *firmware) StagedFirmwareVersion() wire.Version {
	if f.state.Staged == nil {
		return wire.Version{}
	}
	return f.state.Staged.Version
}

func (f *firmware) LastError() accessory.LastError {
	return accessory.LastError{Action: f.state.LastError.Action, Status: f.state.LastError.Status}
}

func (f *firmware) recordError(action uint32, status wire.Status) {
	f.state.LastError = persistence.LastError{Action: action, Status: uint32(status), At: time.Now()}
	f.save()
}

func (f *firmware) save() {
	if err := f.svc.stateStore.Save(f.state); err != nil {
		f.svc.debugLog("failed to save accessory state", "error", err)
		f.svc.emit(Event{Type: EventError, Error: fmt.Errorf("save state: %w", err)})
	}
}

// AssetOffered applies the offer policy.
func (f *firmware) AssetOffered(h accessory.AssetHandle, ctrl accessory.ControllerID, core wire.AssetCore) {
	f.svc.emit(Event{Type: EventAssetOffered, Controller: ctrl, Asset: h, Core: core})

	var d Decision
	if core.Flags == wire.AssetFlagDynamic {
		d = DecisionDeny
		if containsTag(f.svc.config.DynamicTags, core.Tag) && core.Length <= f.svc.config.MaxDynamicAssetLength {
			d = DecisionAccept
		}
	} else {
		d = f.svc.config.OfferPolicy(core, f.state.ActiveFirmware)
	}
	f.svc.debugLog("asset offered", "controller", ctrl, "asset", core.String(), "decision", d)

	switch d {
	case DecisionAccept:
		_ = f.accept(h, ctrl, core)
	case DecisionDeny:
		f.deny(h, ctrl, core)
	default:
		f.pending[h] = Offer{Handle: h, Controller: ctrl, Core: core}
	}
}

func (f *firmware) accept(h accessory.AssetHandle, ctrl accessory.ControllerID, core wire.AssetCore) error {
	delete(f.pending, h)
	st := &stagingAsset{
		core:       core,
		controller: ctrl,
		remote:     f.svc.remoteOf(ctrl),
		dynamic:    core.Flags == wire.AssetFlagDynamic,
		index:      -1,
	}
	if !st.dynamic {
		f.discardStaged()
	}

	// Registered first: Accept may call straight back into the delegate.
	f.staging[h] = st
	if err := f.svc.engine.Accept(h, f); err != nil {
		delete(f.staging, h)
		f.svc.debugLog("accept failed", "asset", core.String(), "error", err)
		f.svc.emit(Event{Type: EventAssetDenied, Controller: ctrl, Asset: h, Core: core, Error: err})
		return err
	}
	f.svc.emit(Event{Type: EventAssetAccepted, Controller: ctrl, Asset: h, Core: core})
	return nil
}

func (f *firmware) deny(h accessory.AssetHandle, ctrl accessory.ControllerID, core wire.AssetCore) {
	delete(f.pending, h)
	if err := f.svc.engine.Deny(h); err != nil {
		f.svc.debugLog("deny failed", "asset", core.String(), "error", err)
	}
	f.svc.emit(Event{Type: EventAssetDenied, Controller: ctrl, Asset: h, Core: core})
}

// discardStaged drops a previously staged firmware asset before a new one
// overwrites its payloads.
func (f *firmware) discardStaged() {
	if f.state.Staged == nil {
		return
	}
	f.svc.debugLog("discarding staged firmware", "version", f.state.Staged.Version)
	f.state.Staged = nil
	if err := f.svc.store.Clear(); err != nil {
		f.svc.debugLog("failed to clear payload store", "error", err)
	}
	f.save()
}

// AssetStateChanged tracks what the engine did on its own.
func (f *firmware) AssetStateChanged(h accessory.AssetHandle, change accessory.AssetStateChange) {
	st := f.staging[h]
	ev := Event{Type: EventAssetStateChanged, Asset: h, Change: change}
	if st != nil {
		ev.Core, ev.Controller = st.core, st.controller
	} else if o, ok := f.pending[h]; ok {
		ev.Core, ev.Controller = o.Core, o.Controller
	}
	f.svc.debugLog("asset state changed", "asset", ev.Core.String(), "change", change)

	switch change {
	case accessory.Corrupt:
		f.recordError(ActionStaging, wire.StatusCorruptSuperBinary)
		if st != nil {
			st.abort()
		}
	case accessory.Abandoned:
		f.recordError(ActionStaging, wire.StatusAssetStagingIncomplete)
		if st != nil {
			st.abort()
		}
	case accessory.Rescinded:
		if st != nil {
			st.abort()
		}
	case accessory.Merged:
		if info, ok := f.svc.engine.AssetInfo(h); ok && st != nil {
			st.controller = info.Controller
			st.core = info.Core
			st.remote = f.svc.remoteOf(info.Controller)
			ev.Controller, ev.Core = st.controller, st.core
		}
	case accessory.Released:
		if st != nil {
			st.abort()
		}
		delete(f.staging, h)
		delete(f.pending, h)
	}
	f.svc.emit(ev)
}

// fail abandons h after a local failure.
func (f *firmware) fail(h accessory.AssetHandle, st *stagingAsset, err error) {
	f.svc.debugLog("staging failed", "asset", st.core.String(), "error", err)
	st.abort()
	f.recordError(ActionStaging, statusFor(err))
	if aerr := f.svc.engine.Abandon(h); aerr != nil {
		f.svc.debugLog("abandon failed", "asset", st.core.String(), "error", aerr)
	}
	f.svc.emit(Event{Type: EventError, Controller: st.controller, Asset: h, Core: st.core, Error: err})
}

// statusFor maps local failures onto the status recorded as last error.
func statusFor(err error) wire.Status {
	var s wire.Status
	switch {
	case errors.As(err, &s):
		return s
	case errors.Is(err, store.ErrDigestMismatch):
		return wire.StatusApplyRefused
	case errors.Is(err, store.ErrOverflow), errors.Is(err, store.ErrIncomplete):
		return wire.StatusInvalidDataResponse
	default:
		return wire.StatusNoResources
	}
}

func (f *firmware) MetaDataTLV(h accessory.AssetHandle, typ uint32, value []byte) {
	if st := f.staging[h]; st != nil {
		st.metadata++
	}
	f.svc.debugLog("asset metadata", "type", typ, "length", len(value))
}

func (f *firmware) MetaDataComplete(accessory.AssetHandle) {}

// AssetReady starts with the first payload.
func (f *firmware) AssetReady(h accessory.AssetHandle) {
	st := f.staging[h]
	if st == nil {
		return
	}
	if st.core.NumPayloads == 0 {
		f.fullyStaged(h, st)
		return
	}
	f.selectPayload(h, st, 0)
}

func (f *firmware) selectPayload(h accessory.AssetHandle, st *stagingAsset, index int) {
	if err := f.svc.engine.SetPayloadIndex(h, uint16(index)); err != nil {
		f.fail(h, st, fmt.Errorf("select payload %d: %w", index, err))
	}
}

func (f *firmware) PayloadMetaDataTLV(_ accessory.AssetHandle, typ uint32, value []byte) {
	f.svc.debugLog("payload metadata", "type", typ, "length", len(value))
}

func (f *firmware) PayloadMetaDataComplete(accessory.AssetHandle) {}

// PayloadReady opens the payload in the store and starts the data pull.
func (f *firmware) PayloadReady(h accessory.AssetHandle, header wire.PayloadHeader) {
	st := f.staging[h]
	if st == nil {
		return
	}
	info, _ := f.svc.engine.AssetInfo(h)
	st.header = header
	st.index = info.PayloadIndex

	if !st.dynamic {
		st.abort()
		w, err := f.svc.store.Create(st.index, header.Tag, header.PayloadLength)
		if err != nil {
			f.fail(h, st, err)
			return
		}
		st.writer = w
	}
	if err := f.svc.engine.RequestPayloadData(h); err != nil {
		f.fail(h, st, fmt.Errorf("request payload %d: %w", st.index, err))
	}
}

// PayloadData writes the bytes through. Everything is consumed or the
// asset is abandoned.
func (f *firmware) PayloadData(h accessory.AssetHandle, data []byte, offset uint32) int {
	st := f.staging[h]
	if st == nil {
		return len(data)
	}
	if st.dynamic {
		st.data = append(st.data, data...)
		return len(data)
	}
	if st.writer == nil {
		f.fail(h, st, store.ErrClosed)
		return 0
	}
	if offset != st.writer.Written() {
		f.fail(h, st, fmt.Errorf("payload %d: data at offset %d, expected %d", st.index, offset, st.writer.Written()))
		return 0
	}
	n, err := st.writer.Write(data)
	if err != nil {
		f.fail(h, st, err)
		return 0
	}
	return n
}

// PayloadDataComplete commits the payload and moves on to the next one.
func (f *firmware) PayloadDataComplete(h accessory.AssetHandle) {
	st := f.staging[h]
	if st == nil {
		return
	}
	if !st.dynamic {
		if st.writer == nil {
			f.fail(h, st, store.ErrClosed)
			return
		}
		entry, err := st.writer.Commit()
		st.writer = nil
		if err != nil {
			f.fail(h, st, err)
			return
		}
		st.payloads = append(st.payloads, persistence.StagedPayload{
			Tag:     entry.Tag.String(),
			Version: st.header.Version,
			Length:  entry.Length,
			Digest:  entry.Digest.String(),
		})
		f.svc.debugLog("payload staged", "asset", st.core.String(), "payload", entry.Tag, "digest", entry.Digest)
		f.svc.emit(Event{Type: EventPayloadStaged, Controller: st.controller, Asset: h, Core: st.core, Payload: entry})
	}

	if next := st.index + 1; next < int(st.core.NumPayloads) {
		f.selectPayload(h, st, next)
		return
	}
	f.fullyStaged(h, st)
}

func (f *firmware) fullyStaged(h accessory.AssetHandle, st *stagingAsset) {
	if err := f.svc.engine.FullyStaged(h); err != nil {
		f.fail(h, st, fmt.Errorf("fully staged: %w", err))
		return
	}

	if st.dynamic {
		f.svc.debugLog("dynamic asset received", "asset", st.core.String(), "bytes", len(st.data))
		f.svc.emit(Event{Type: EventDynamicAsset, Controller: st.controller, Asset: h, Core: st.core, Data: st.data})
		return
	}

	f.state.Staged = &persistence.StagedAsset{
		Tag:        st.core.Tag.String(),
		Version:    st.core.Version,
		Length:     st.core.Length,
		Payloads:   st.payloads,
		StagedAt:   time.Now(),
		Controller: st.remote,
	}
	f.save()
	f.svc.debugLog("firmware staged", "asset", st.core.String(), "payloads", len(st.payloads))
	f.svc.emit(Event{Type: EventFullyStaged, Controller: st.controller, Asset: h, Core: st.core})
}

// ApplyStagedAssets is called by the engine once nothing is in transfer.
func (f *firmware) ApplyStagedAssets(ctrl accessory.ControllerID) wire.ApplyFlags {
	flags, err := f.apply()
	f.svc.emit(Event{Type: EventApplied, Controller: ctrl, Apply: flags, Error: err})
	return flags
}

// apply verifies the staged payloads against their recorded digests and
// installs them.
func (f *firmware) apply() (wire.ApplyFlags, error) {
	staged := f.state.Staged
	if staged == nil {
		return wire.ApplyNothingStaged, ErrNothingStaged
	}

	entries, err := f.verifyStaged(staged)
	if err == nil && f.svc.config.Installer != nil {
		err = f.svc.config.Installer.Install(f.svc.ctx, staged, entries)
	}
	if err != nil {
		f.svc.debugLog("apply failed", "version", staged.Version, "error", err)
		f.recordError(ActionApply, wire.StatusApplyRefused)
		return wire.ApplyFailure, err
	}

	f.state.ActiveFirmware = staged.Version
	f.state.Staged = nil
	f.state.AppliedAt = time.Now()
	f.save()
	if err := f.svc.store.Clear(); err != nil {
		f.svc.debugLog("failed to clear payload store", "error", err)
	}
	if f.svc.announcer != nil {
		if err := f.svc.announcer.SetFirmware(staged.Version); err != nil {
			f.svc.debugLog("failed to refresh advertisement", "error", err)
		}
	}
	f.svc.debugLog("firmware applied", "version", staged.Version)

	if f.svc.config.ApplyNeedsRestart {
		return wire.ApplyNeedsRestart, nil
	}
	return wire.ApplySuccess, nil
}

func (f *firmware) verifyStaged(staged *persistence.StagedAsset) ([]store.Entry, error) {
	entries, err := f.svc.store.Staged()
	if err != nil {
		return nil, err
	}
	if len(entries) != len(staged.Payloads) {
		return nil, fmt.Errorf("%w: %d payloads staged, %d recorded", store.ErrNotFound, len(entries), len(staged.Payloads))
	}
	for i, e := range entries {
		want, err := store.ParseDigest(staged.Payloads[i].Digest)
		if err != nil {
			return nil, err
		}
		if err := f.svc.store.Verify(e.Index, e.Tag, want); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// DynamicAssetSolicited accepts solicitations for the configured tags.
func (f *firmware) DynamicAssetSolicited(ctrl accessory.ControllerID, tag wire.Tag) wire.Status {
	if containsTag(f.svc.config.DynamicTags, tag) {
		f.svc.debugLog("dynamic asset solicited", "controller", ctrl, "tag", tag)
		return wire.StatusSuccess
	}
	return wire.StatusUnsupportedDynamicAsset
}

// VendorSpecific surfaces the message as an event.
func (f *firmware) VendorSpecific(ctrl accessory.ControllerID, msg wire.VendorSpecific) error {
	msg.Data = bytes.Clone(msg.Data)
	f.svc.emit(Event{Type: EventVendorMessage, Controller: ctrl, Vendor: msg})
	return nil
}
