package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Accept starts staging an offered asset. d follows the staging; when nil
// the asset inherits Config.AssetDelegate.
//
// While another accepted asset is still linked to its controller the
// accept turns into a deny and StatusAssetInFlight is returned. An orphaned
// asset is superseded instead.
func (a *Accessory) Accept(h AssetHandle, d AssetDelegate) error {
	a.enter()
	defer a.exit()

	as, ok := a.assets.Get(h.h)
	if !ok {
		return wire.StatusUnknownAsset
	}
	switch {
	case as.has(flagCleanup):
		return wire.StatusAssetPendingRelease
	case as.has(flagAccepted):
		return wire.StatusAssetAlreadyAccepted
	}
	if d == nil {
		d = a.cfg.AssetDelegate
	}
	if d == nil {
		return ErrMissingAssetDelegate
	}

	_, active := a.activeAsset()
	if active != nil && !active.orphaned() {
		a.debugLog("accept refused, transfer in flight", "asset", as.core.String(), "active", active.core.String())
		a.deny(h, as)
		return wire.StatusAssetInFlight
	}

	c := a.controller(as.controller)
	if c == nil {
		return wire.StatusUnknownController
	}
	window, err := a.windows.Request(c.window, false)
	if err != nil {
		return wire.StatusNoResources
	}

	if active != nil {
		a.debugLog("orphan superseded", "orphan", active.core.String(), "asset", as.core.String())
		a.stopTimer(active)
		active.req = dataRequest{}
		active.set(flagCleanup)
		a.logState(0, log.StateEntityAsset, StateOrphaned.String(), StatePendingRelease.String(), active.core.String())
	}

	as.window = window
	as.delegate = d
	as.set(flagAccepted)
	a.debugLog("asset accepted", "controller", as.controller, "asset", as.core.String())
	a.resumeStaging(h, as)
	return nil
}

// Deny refuses an asset and tells its controller.
func (a *Accessory) Deny(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, ok := a.assets.Get(h.h)
	if !ok {
		return wire.StatusUnknownAsset
	}
	if as.has(flagCleanup) {
		return wire.StatusAssetPendingRelease
	}
	a.deny(h, as)
	return nil
}

func (a *Accessory) deny(h AssetHandle, as *asset) {
	a.stopTimer(as)
	as.req = dataRequest{}
	a.notifyPeer(as, wire.ProcessingDenied)
	as.set(flagDenied | flagCleanup)
	a.logState(as.controller, log.StateEntityAsset, "", StateDenied.String(), as.core.String())
}

// Abandon gives up on an asset. The controller is told unless it is gone,
// and the asset is released once the outermost entry point returns.
func (a *Accessory) Abandon(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, ok := a.assets.Get(h.h)
	if !ok || as.has(flagCleanup) {
		return wire.StatusNoActiveAsset
	}
	a.abandon(h, as, nil)
	return nil
}

// abandon stops as for good. A non-nil reason means the engine gave up on
// its own, which the delegate is told about.
func (a *Accessory) abandon(h AssetHandle, as *asset, reason error) {
	if !as.orphaned() && as.staging() {
		as.pausedByAccessory = true
	}
	a.stopTimer(as)
	as.req = dataRequest{}
	a.notifyPeer(as, wire.ProcessingAbandoned)
	as.set(flagAbandoned | flagCleanup)

	if reason != nil {
		a.debugLog("asset abandoned", "asset", as.core.String(), "reason", reason)
		a.logError(as.controller, reason, "abandon "+as.core.String())
		a.notify(h, as, Abandoned)
	} else {
		a.logState(as.controller, log.StateEntityAsset, "", StateAbandoned.String(), as.core.String())
	}
	as.controller = 0
}

// corrupt reports a structural failure to both sides and stops the asset.
func (a *Accessory) corrupt(h AssetHandle, as *asset, err error) {
	a.debugLog("asset corrupt", "asset", as.core.String(), "error", err)
	a.logError(as.controller, err, "validate "+as.core.String())
	a.stopTimer(as)
	as.req = dataRequest{}
	a.notifyPeer(as, wire.ProcessingCorrupt)
	as.set(flagCorrupt | flagCleanup)
	a.notify(h, as, Corrupt)
}

// Pause stops issuing data requests for h. An outstanding request is
// allowed to complete.
func (a *Accessory) Pause(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if as.pausedByAccessory {
		return wire.StatusAssetAlreadyPaused
	}
	as.pausedByAccessory = true
	return nil
}

// Resume undoes Pause. It also retries an asset whose data response timed
// out or whose last request could not be issued.
func (a *Accessory) Resume(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if !as.pausedByAccessory && !as.timedOut && !as.stalled {
		return wire.StatusAssetNotPaused
	}
	as.pausedByAccessory = false
	a.retry(h, as)
	return nil
}

// SetPayloadIndex selects the payload to pull next and starts pulling its
// header. Progress on a previously selected payload is discarded.
func (a *Accessory) SetPayloadIndex(h AssetHandle, index uint16) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if !as.has(flagHasHeader) || (as.has(flagNeedsMetaData) && !as.has(flagHasMetaData)) {
		return wire.StatusAssetNotReady
	}
	if index >= as.core.NumPayloads {
		return wire.StatusInvalidPayloadIndex
	}
	if as.req.outstanding {
		return wire.StatusRequestInFlight
	}

	as.resetPayload()
	as.payloadIndex = int(index)
	a.resumeStaging(h, as)
	return nil
}

// SetPayloadOffset makes the data pull of the selected payload start at
// offset. Only allowed after PayloadReady and before RequestPayloadData.
func (a *Accessory) SetPayloadOffset(h AssetHandle, offset uint32) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if !a.payloadReady(as) || as.has(flagDataPull) {
		return wire.StatusAssetNotReady
	}
	if as.req.outstanding {
		return wire.StatusRequestInFlight
	}
	if offset >= as.payloadHeader.PayloadLength {
		return wire.StatusInvalidPayloadOffset
	}
	as.bytesReceived = offset
	return nil
}

// RequestPayloadData starts pulling the data of the selected payload.
func (a *Accessory) RequestPayloadData(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if as.payloadIndex < 0 {
		return wire.StatusPayloadNotSelected
	}
	if !a.payloadReady(as) {
		return wire.StatusAssetNotReady
	}
	if as.has(flagDataPull) {
		return wire.StatusRequestInFlight
	}

	as.set(flagDataPull)
	ph := as.payloadHeader
	if as.bytesReceived >= ph.PayloadLength {
		as.set(flagHasPayload)
		as.delegate.PayloadDataComplete(h)
		return nil
	}
	a.startRegion(h, as, kindPayloadData, ph.PayloadOffset+as.bytesReceived, ph.PayloadLength-as.bytesReceived)
	return nil
}

// FullyStaged marks h complete and tells the controller the upload is
// done. The asset is released once the outermost entry point returns.
func (a *Accessory) FullyStaged(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, err := a.stagingAsset(h)
	if err != nil {
		return err
	}
	if as.req.outstanding {
		return wire.StatusRequestInFlight
	}
	a.stopTimer(as)
	as.req = dataRequest{}
	a.notifyPeer(as, wire.ProcessingUploadComplete)
	as.set(flagFullyStaged)
	a.debugLog("asset fully staged", "asset", as.core.String())
	a.logState(as.controller, log.StateEntityAsset, "", StateFullyStaged.String(), as.core.String())
	return nil
}

// Release tells the engine the accessory is done with h, typically after
// Rescinded. The controller is not notified.
func (a *Accessory) Release(h AssetHandle) error {
	a.enter()
	defer a.exit()

	as, ok := a.assets.Get(h.h)
	if !ok {
		return wire.StatusUnknownAsset
	}
	a.stopTimer(as)
	as.req = dataRequest{}
	as.set(flagCleanup)
	return nil
}

func (a *Accessory) stagingAsset(h AssetHandle) (*asset, error) {
	as, ok := a.assets.Get(h.h)
	switch {
	case !ok:
		return nil, wire.StatusUnknownAsset
	case as.has(flagCleanup):
		return nil, wire.StatusAssetPendingRelease
	case !as.has(flagAccepted):
		return nil, wire.StatusAssetNotAccepted
	case as.has(flagFullyStaged):
		return nil, wire.StatusAssetPendingRelease
	}
	return as, nil
}

func (a *Accessory) payloadReady(as *asset) bool {
	return as.has(flagHasPayloadHeader) &&
		(!as.has(flagNeedsPayloadMetaData) || as.has(flagHasPayloadMetaData))
}

// resumeStaging continues as at its first incomplete step. Steps that
// need the delegate (payload selection, starting the data pull) are
// signalled through AssetReady and PayloadReady.
func (a *Accessory) resumeStaging(h AssetHandle, as *asset) {
	if !as.staging() || as.orphaned() {
		return
	}
	if as.req.active {
		a.issueNext(h, as)
		return
	}

	hdr, ph := as.header, as.payloadHeader
	switch {
	case !as.has(flagHasHeader):
		a.startRegion(h, as, kindHeader, 0, wire.SuperBinaryHeaderSize)
	case as.has(flagNeedsMetaData) && !as.has(flagHasMetaData):
		a.startRegion(h, as, kindMetaData, hdr.MetadataOffset, hdr.MetadataLength)
	case as.payloadIndex < 0:
		as.delegate.AssetReady(h)
	case !as.has(flagHasPayloadHeader):
		a.startRegion(h, as, kindPayloadHeader, hdr.PayloadHeaderOffset(uint16(as.payloadIndex)), wire.PayloadHeaderSize)
	case as.has(flagNeedsPayloadMetaData) && !as.has(flagHasPayloadMetaData):
		a.startRegion(h, as, kindPayloadMetaData, ph.MetadataOffset, ph.MetadataLength)
	case !as.has(flagDataPull):
		as.delegate.PayloadReady(h, ph)
	}
}

// regionComplete validates a fully received header or metadata region and
// moves on to the next step.
func (a *Accessory) regionComplete(h AssetHandle, as *asset) {
	kind, filled := as.req.kind, as.req.filled
	as.req = dataRequest{}

	switch kind {
	case kindHeader:
		hdr, err := wire.DecodeSuperBinaryHeader(as.window.Bytes[:filled])
		if err == nil {
			err = hdr.Validate(as.core)
		}
		if err != nil {
			a.corrupt(h, as, err)
			return
		}
		as.header = hdr
		as.set(flagHasHeader)
		if hdr.MetadataLength > 0 {
			if int64(hdr.MetadataLength) > int64(a.cfg.MaxMetaDataLength) {
				a.abandon(h, as, wire.StatusMetaDataTooLarge)
				return
			}
			as.set(flagNeedsMetaData)
		}

	case kindPayloadHeader:
		ph, err := wire.DecodePayloadHeader(as.window.Bytes[:filled])
		if err == nil {
			err = ph.Validate(as.core.Length)
		}
		if err != nil {
			a.corrupt(h, as, err)
			return
		}
		as.payloadHeader = ph
		as.set(flagHasPayloadHeader)
		if ph.MetadataLength > 0 {
			if int64(ph.MetadataLength) > int64(a.cfg.MaxMetaDataLength) {
				a.abandon(h, as, wire.StatusMetaDataTooLarge)
				return
			}
			as.set(flagNeedsPayloadMetaData)
		}

	case kindMetaData, kindPayloadMetaData:
		if !a.walkMetaData(h, as, kind, filled) {
			return
		}
	}

	a.resumeStaging(h, as)
}

// walkMetaData hands every TLV record of a metadata region to the delegate.
// The region is checked completely before the first record is delivered.
func (a *Accessory) walkMetaData(h AssetHandle, as *asset, kind requestKind, filled int) bool {
	meta := as.meta
	as.meta = pool.Buffer{}
	defer a.metadata.Release(meta)

	data := meta.Bytes[:filled]
	if err := wire.WalkTLVs(data, func(uint32, []byte) error { return nil }); err != nil {
		a.corrupt(h, as, err)
		return false
	}

	d := as.delegate
	if kind == kindMetaData {
		_ = wire.WalkTLVs(data, func(typ uint32, value []byte) error {
			d.MetaDataTLV(h, typ, value)
			return nil
		})
		as.set(flagHasMetaData)
		d.MetaDataComplete(h)
	} else {
		_ = wire.WalkTLVs(data, func(typ uint32, value []byte) error {
			d.PayloadMetaDataTLV(h, typ, value)
			return nil
		})
		as.set(flagHasPayloadMetaData)
		d.PayloadMetaDataComplete(h)
	}
	return true
}
