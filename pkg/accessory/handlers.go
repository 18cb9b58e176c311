package accessory

import (
	"encoding/binary"

	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/version"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func (a *Accessory) handleVersionDiscovery(c *controller, p []byte) error {
	req, err := wire.DecodeVersionDiscoveryRequest(p)
	if err != nil {
		return err
	}

	status := wire.StatusSuccess
	v, err := version.Negotiate(a.cfg.MaxProtocolVersion, req.ProtocolVersion)
	if err != nil {
		status = wire.StatusInvalidProtocolVersion
	} else {
		c.protocolVersion = v
		a.debugLog("protocol version selected", "controller", c.id, "peer", req.ProtocolVersion, "selected", v)
	}

	err = a.send(c, wire.MsgVersionDiscoveryResponse, wire.VersionDiscoveryResponseSize, func(p []byte) {
		wire.VersionDiscoveryResponse{Status: status, ProtocolVersion: v}.Put(p)
	})
	if err != nil {
		return err
	}
	return status.Err()
}

func (a *Accessory) handleInformationRequest(c *controller, p []byte) error {
	req, err := wire.DecodeAccessoryInformationRequest(p)
	if err != nil {
		return err
	}

	scratch, err := a.txScratch.Request(a.cfg.MaxTxPayloadLength-wire.AccessoryInformationResponseSize, a.ownsActive(c.id))
	if err != nil {
		return wire.StatusNoResources
	}
	defer a.txScratch.Release(scratch)

	b := scratch.Bytes
	status := wire.StatusSuccess
	var n int
	switch req.Option {
	case wire.InfoManufacturerName:
		n = copy(b, a.delegate.ManufacturerName())
	case wire.InfoModelName:
		n = copy(b, a.delegate.ModelName())
	case wire.InfoSerialNumber:
		n = copy(b, a.delegate.SerialNumber())
	case wire.InfoHardwareVersion:
		n = copy(b, a.delegate.HardwareVersion())
	case wire.InfoActiveFirmwareVersion:
		a.delegate.ActiveFirmwareVersion().Put(b)
		n = wire.VersionSize
	case wire.InfoStagedFirmwareVersion:
		a.delegate.StagedFirmwareVersion().Put(b)
		n = wire.VersionSize
	case wire.InfoStatistics:
		if len(b) < statsSize {
			return wire.StatusBufferTooLarge
		}
		c.stats.put(b)
		n = statsSize
	case wire.InfoLastError:
		le := a.delegate.LastError()
		binary.BigEndian.PutUint32(b[0:], le.Action)
		binary.BigEndian.PutUint32(b[4:], le.Status)
		n = 8
	default:
		status = wire.StatusInvalidInformationOption
	}

	resp := wire.AccessoryInformationResponse{Status: status, Option: req.Option, Value: b[:n]}
	err = a.send(c, wire.MsgAccessoryInformationResponse, wire.AccessoryInformationResponseSize+n, resp.Put)
	if err != nil {
		return err
	}
	return status.Err()
}

func (a *Accessory) handleTransferNotification(c *controller, p []byte) error {
	n, err := wire.DecodeAssetDataTransferNotification(p)
	if err != nil {
		return err
	}

	var change AssetStateChange
	switch {
	case n.Flags == wire.TransferPause && !c.transferPaused:
		c.transferPaused = true
		change = TransferPaused
	case n.Flags == wire.TransferResume && c.transferPaused:
		c.transferPaused = false
		change = TransferResumed
	default:
		return wire.StatusInvalidDataTransferNotification
	}
	a.debugLog("data transfer "+n.Flags.String(), "controller", c.id)

	if err := a.send(c, wire.MsgAssetDataTransferNotificationAck, 0, nil); err != nil {
		return err
	}

	id := c.id
	for _, h := range a.assetsOf(id) {
		as, ok := a.assets.Get(h.h)
		if !ok || as.controller != id {
			continue
		}
		a.notify(h, as, change)
		if change == TransferResumed && as.staging() {
			a.retry(h, as)
		}
	}
	return nil
}

func (a *Accessory) handleProcessingAck(c *controller, p []byte) error {
	ack, err := wire.DecodeAssetIDPayload(p)
	if err != nil {
		return err
	}
	a.debugLog("processing notification acknowledged", "controller", c.id, "asset", ack.AssetID)
	return nil
}

func (a *Accessory) handleApply(c *controller) error {
	flags := wire.ApplyMidUpload
	if _, as := a.activeAsset(); as == nil {
		flags = a.delegate.ApplyStagedAssets(c.id)
	}
	a.debugLog("apply staged assets", "controller", c.id, "result", flags)

	if c = a.controller(c.id); c == nil {
		return wire.StatusUnknownController
	}
	return a.send(c, wire.MsgApplyStagedAssetsResponse, wire.ApplyStagedAssetsResponseSize, func(p []byte) {
		wire.ApplyStagedAssetsResponse{Flags: flags}.Put(p)
	})
}

func (a *Accessory) handleSolicitation(c *controller, p []byte) error {
	s, err := wire.DecodeDynamicAssetSolicitation(p)
	if err != nil {
		return err
	}
	id := c.id
	status := a.delegate.DynamicAssetSolicited(id, s.Tag)
	if c = a.controller(id); c == nil {
		return wire.StatusUnknownController
	}
	return a.send(c, wire.MsgDynamicAssetSolicitationAck, wire.DynamicAssetSolicitationAckSize, func(p []byte) {
		wire.DynamicAssetSolicitationAck{Tag: s.Tag, Status: status}.Put(p)
	})
}

func (a *Accessory) handleVendorSpecific(c *controller, p []byte) error {
	v, err := wire.DecodeVendorSpecific(p)
	if err != nil {
		return err
	}
	if err := a.delegate.VendorSpecific(c.id, v); err != nil {
		a.debugLog("vendor message refused", "controller", c.id, "type", v.Type, "error", err)
		return wire.StatusUnsupportedVendorMessage
	}
	return nil
}

func (a *Accessory) handleRescinded(c *controller, p []byte) error {
	n, err := wire.DecodeAssetIDPayload(p)
	if err != nil {
		return err
	}

	id := c.id
	if n.AssetID == wire.AssetIDAll {
		for _, h := range a.assetsOf(id) {
			if as, ok := a.assets.Get(h.h); ok && !as.has(flagCleanup) {
				a.rescind(h, as)
			}
		}
	} else {
		h, as := a.assetByPeerID(id, n.AssetID)
		if as == nil {
			return wire.StatusUnknownAsset
		}
		a.rescind(h, as)
	}

	if c = a.controller(id); c == nil {
		return wire.StatusUnknownController
	}
	return a.sendAssetID(c, wire.MsgAssetRescindedNotificationAck, n.AssetID)
}

func (a *Accessory) rescind(h AssetHandle, as *asset) {
	a.stopTimer(as)
	as.req = dataRequest{}
	as.stalled = false
	as.timedOut = false
	as.set(flagRescinded | flagCleanup)
	a.debugLog("asset rescinded", "asset", as.core.String())
	a.notify(h, as, Rescinded)
}

// assetsOf returns the handles of every asset linked to ctrl.
func (a *Accessory) assetsOf(ctrl ControllerID) []AssetHandle {
	var out []AssetHandle
	a.assets.Each(func(h pool.Handle, as *asset) bool {
		if as.controller == ctrl {
			out = append(out, AssetHandle{h})
		}
		return true
	})
	return out
}

// assetByPeerID finds the live asset ctrl knows as id.
func (a *Accessory) assetByPeerID(ctrl ControllerID, id uint16) (AssetHandle, *asset) {
	var (
		found  AssetHandle
		result *asset
	)
	a.assets.Each(func(h pool.Handle, as *asset) bool {
		if as.controller == ctrl && as.core.ID == id && !as.has(flagCleanup) {
			found, result = AssetHandle{h}, as
			return false
		}
		return true
	})
	return found, result
}
