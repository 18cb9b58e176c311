package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func (a *Accessory) handleAssetAvailable(c *controller, p []byte) error {
	n, err := wire.DecodeAssetAvailableNotification(p)
	if err != nil {
		return err
	}
	core := n.Core
	if err := core.Validate(); err != nil {
		return err
	}

	// A repeated offer of a known asset only needs another ack. Reusing
	// the ID for different content is refused.
	if _, existing := a.assetByPeerID(c.id, core.ID); existing != nil {
		if !existing.core.Equal(core) || existing.core.Version != core.Version {
			return wire.StatusInvalidAssetID
		}
		return a.sendAssetID(c, wire.MsgAssetAvailableNotificationAck, core.ID)
	}

	ph, as, err := a.assets.Alloc()
	if err != nil {
		return wire.StatusNoResources
	}
	h := AssetHandle{ph}
	as.core = core
	as.controller = c.id
	as.payloadIndex = -1

	if err := a.sendAssetID(c, wire.MsgAssetAvailableNotificationAck, core.ID); err != nil {
		a.assets.Free(ph)
		return err
	}

	a.debugLog("asset offered", "controller", c.id, "asset", core.String())
	a.logState(c.id, log.StateEntityAsset, "", StateOffered.String(), core.String())
	a.evaluateOffer(h, as)
	return nil
}

// evaluateOffer decides what happens to a new offer given the active asset.
func (a *Accessory) evaluateOffer(h AssetHandle, as *asset) {
	activeHandle, active := a.activeAsset()
	switch {
	case active == nil:
		a.surface(h, as)
	case active.core.Equal(as.core):
		a.merge(activeHandle, active, as)
	case as.core.Compare(active.core) > 0:
		// Surfaced even when the active asset is still linked; Accept
		// turns into a deny until that transfer is gone.
		a.surface(h, as)
	default:
		a.debugLog("offer denied, not newer than active asset", "asset", as.core.String(), "active", active.core.String())
		a.deny(h, as)
	}
}

func (a *Accessory) surface(h AssetHandle, as *asset) {
	as.set(flagSurfaced)
	a.delegate.AssetOffered(h, as.controller, as.core)
}

// merge folds offered into the active asset. The active asset continues
// on the offering controller under the offering controller's asset ID and
// re-issues whatever request was interrupted. The new offer is released
// without being surfaced.
func (a *Accessory) merge(h AssetHandle, active, offered *asset) {
	from := active.controller
	a.stopTimer(active)
	active.req.outstanding = false
	active.timedOut = false
	active.controller = offered.controller
	active.core.ID = offered.core.ID
	offered.set(flagCleanup)

	a.debugLog("offer merged", "asset", active.core.String(), "from", from, "to", active.controller, "bytes", active.bytesReceived)
	a.notify(h, active, Merged)
	a.resumeStaging(h, active)
}
