package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

type requestKind uint8

const (
	kindHeader requestKind = iota + 1
	kindMetaData
	kindPayloadHeader
	kindPayloadMetaData
	kindPayloadData
)

func (k requestKind) String() string {
	switch k {
	case kindHeader:
		return "header"
	case kindMetaData:
		return "metadata"
	case kindPayloadHeader:
		return "payload-header"
	case kindPayloadMetaData:
		return "payload-metadata"
	case kindPayloadData:
		return "payload-data"
	default:
		return "none"
	}
}

// dataRequest tracks the pull of one region of an asset. At most one
// AssetDataRequest of a region is outstanding at a time.
type dataRequest struct {
	kind        requestKind
	active      bool
	regionStart uint32
	current     uint32 // absolute offset of the next request
	remaining   uint32 // bytes of the region not yet received
	filled      int    // bytes stored for header and metadata regions

	outstanding bool
	requested   uint16
}

// startRegion begins pulling [start, start+length) of as and issues the
// first request.
func (a *Accessory) startRegion(h AssetHandle, as *asset, kind requestKind, start, length uint32) {
	as.req = dataRequest{
		kind:        kind,
		active:      true,
		regionStart: start,
		current:     start,
		remaining:   length,
	}
	a.debugLog("pulling "+kind.String(), "asset", as.core.String(), "offset", start, "length", length)
	a.issueNext(h, as)
}

// destination returns where the next response bytes of as go.
func (a *Accessory) destination(as *asset) ([]byte, error) {
	switch as.req.kind {
	case kindHeader, kindPayloadHeader:
		return as.window.Bytes[as.req.filled:], nil
	case kindMetaData, kindPayloadMetaData:
		if !as.meta.Valid() {
			buf, err := a.metadata.Request(a.cfg.MaxMetaDataLength, false)
			if err != nil {
				return nil, wire.StatusNoResources
			}
			as.meta = buf
		}
		return as.meta.Bytes[as.req.filled:], nil
	default:
		return as.window.Bytes[as.carry:], nil
	}
}

// issueNext sends the next AssetDataRequest of the active region unless
// something holds the asset back. A held back asset is marked stalled and
// retried by Resume or a controller resume.
func (a *Accessory) issueNext(h AssetHandle, as *asset) {
	if !as.req.active || as.req.outstanding || as.req.remaining == 0 {
		return
	}
	c := a.controller(as.controller)
	if c == nil || c.transferPaused || as.pausedByAccessory || !as.staging() {
		as.stalled = true
		return
	}

	dst, err := a.destination(as)
	if err != nil {
		a.stall(h, as, err)
		return
	}
	n := min(len(dst), c.window, int(as.req.remaining))
	if n <= 0 {
		a.stall(h, as, wire.StatusPayloadWindowFull)
		return
	}

	req := wire.AssetDataRequest{AssetID: as.core.ID, Offset: as.req.current, NumBytes: uint16(n)}
	if err := a.send(c, wire.MsgAssetDataRequest, wire.AssetDataRequestSize, req.Put); err != nil {
		a.stall(h, as, err)
		return
	}

	as.stalled = false
	as.req.outstanding = true
	as.req.requested = uint16(n)
	a.armTimer(h, as)
	if as.pauseReported {
		as.pauseReported = false
		a.notify(h, as, StagingResumed)
	}
}

// stall records that a request could not be issued and tells the delegate
// staging is paused. Resume retries.
func (a *Accessory) stall(h AssetHandle, as *asset, err error) {
	a.debugLog("data request stalled", "asset", as.core.String(), "error", err)
	a.logError(as.controller, err, "data request")
	as.stalled = true
	a.reportPaused(h, as)
}

// reportPaused tells the delegate staging is paused, once until staging
// moves again.
func (a *Accessory) reportPaused(h AssetHandle, as *asset) {
	if !as.pauseReported {
		as.pauseReported = true
		a.notify(h, as, StagingPaused)
	}
}

// retry re-issues the pull of a stalled or timed-out asset. An asset
// between regions is waiting on its delegate and is left alone.
func (a *Accessory) retry(h AssetHandle, as *asset) {
	if as.timedOut {
		a.stopTimer(as)
		as.timedOut = false
		as.req.outstanding = false
	}
	if !as.req.active || as.req.outstanding {
		return
	}
	a.issueNext(h, as)
}

func (a *Accessory) handleDataResponse(c *controller, p []byte) error {
	resp, err := wire.DecodeAssetDataResponse(p)
	if err != nil {
		return err
	}

	h, as := a.assetByPeerID(c.id, resp.AssetID)
	if as == nil {
		return wire.StatusUnknownAsset
	}
	if !as.req.outstanding {
		return wire.StatusNoRequestInFlight
	}
	if resp.Offset != as.req.current || resp.NumBytesRequested != as.req.requested {
		return wire.StatusMismatchedDataResponse
	}
	if resp.NumBytesResponded > resp.NumBytesRequested || int(resp.NumBytesResponded) != len(resp.Data) {
		return wire.StatusInvalidDataResponse
	}

	a.stopTimer(as)
	as.req.outstanding = false
	as.timedOut = false
	if as.pauseReported {
		as.pauseReported = false
		a.notify(h, as, StagingResumed)
	}

	if resp.Status != wire.StatusSuccess || resp.NumBytesResponded == 0 {
		status := resp.Status
		if status == wire.StatusSuccess {
			status = wire.StatusDataResponseFailed
		}
		a.stall(h, as, status)
		return nil
	}

	data := resp.Data
	switch as.req.kind {
	case kindPayloadData:
		a.receivePayloadData(h, as, data)
	default:
		dst, _ := a.destination(as)
		n := copy(dst, data)
		as.req.filled += n
		as.req.current += uint32(n)
		as.req.remaining -= uint32(n)
		if as.req.remaining == 0 {
			a.regionComplete(h, as)
		} else {
			a.issueNext(h, as)
		}
	}
	return nil
}

// receivePayloadData appends data behind the carried tail, hands the
// window to the delegate and keeps whatever it did not consume.
func (a *Accessory) receivePayloadData(h AssetHandle, as *asset, data []byte) {
	n := copy(as.window.Bytes[as.carry:], data)
	as.carry += n
	as.bytesReceived += uint32(n)
	as.req.current += uint32(n)
	as.req.remaining -= uint32(n)

	offset := as.bytesReceived - uint32(as.carry)
	a.logTransfer(as, offset, uint32(n))

	consumed := as.delegate.PayloadData(h, as.window.Bytes[:as.carry], offset)
	if as.has(flagCleanup) || as.req.kind != kindPayloadData {
		// Abandoned or switched to another payload from the callback.
		return
	}
	consumed = max(0, min(consumed, as.carry))
	copy(as.window.Bytes, as.window.Bytes[consumed:as.carry])
	as.carry -= consumed

	if as.req.remaining == 0 {
		as.req.active = false
		as.carry = 0
		as.set(flagHasPayload)
		a.debugLog("payload complete", "asset", as.core.String(), "payload", as.payloadHeader.Tag, "bytes", as.bytesReceived)
		as.delegate.PayloadDataComplete(h)
		return
	}
	if as.carry == len(as.window.Bytes) {
		a.abandon(h, as, wire.StatusPayloadWindowFull)
		return
	}
	a.issueNext(h, as)
}
