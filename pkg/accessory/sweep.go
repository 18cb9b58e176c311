package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
)

// controllerLost detaches every asset of a departing controller. Assets
// that were never accepted are dropped. Staging assets become orphans and
// keep their window, offsets and progress for a later merge.
func (a *Accessory) controllerLost(id ControllerID) {
	for _, h := range a.assetsOf(id) {
		as, ok := a.assets.Get(h.h)
		if !ok {
			continue
		}
		switch {
		case as.has(flagCleanup) || as.has(flagFullyStaged):
			as.controller = 0
		case !as.has(flagAccepted):
			as.set(flagCleanup)
			as.controller = 0
		default:
			a.orphan(h, as)
		}
	}
}

func (a *Accessory) orphan(h AssetHandle, as *asset) {
	a.stopTimer(as)
	as.req.outstanding = false
	as.timedOut = false
	a.debugLog("asset orphaned", "controller", as.controller, "asset", as.core.String(), "bytes", as.bytesReceived)
	a.notify(h, as, Orphaned)
	as.controller = 0
}

// sweep releases assets marked for cleanup or fully staged and orphans
// assets whose controller has disappeared. It runs when the outermost
// entry point returns and repeats until a pass changes nothing, since the
// callbacks it fires may mark more assets.
func (a *Accessory) sweep() {
	if a.sweeping {
		return
	}
	a.sweeping = true
	defer func() { a.sweeping = false }()

	for {
		a.sweepBuf = a.sweepBuf[:0]
		a.assets.Each(func(h pool.Handle, as *asset) bool {
			if as.has(flagCleanup) || as.has(flagFullyStaged) || (!as.orphaned() && a.controller(as.controller) == nil) {
				a.sweepBuf = append(a.sweepBuf, h)
			}
			return true
		})
		if len(a.sweepBuf) == 0 {
			return
		}

		for _, ph := range a.sweepBuf {
			as, ok := a.assets.Get(ph)
			if !ok {
				continue
			}
			h := AssetHandle{ph}
			if !as.has(flagCleanup) && !as.has(flagFullyStaged) {
				if !as.orphaned() && a.controller(as.controller) == nil {
					if as.has(flagAccepted) {
						a.orphan(h, as)
					} else {
						as.set(flagCleanup)
						as.controller = 0
					}
				}
				continue
			}
			a.release(h, as)
		}
	}
}

// release returns the storage of as. Released is reported with the handle
// the delegate knew, which is stale by then.
func (a *Accessory) release(h AssetHandle, as *asset) {
	a.stopTimer(as)
	if as.window.Valid() {
		a.windows.Release(as.window)
	}
	if as.meta.Valid() {
		a.metadata.Release(as.meta)
	}
	surfaced := as.has(flagSurfaced)
	ctrl, state, core := as.controller, as.state(), as.core.String()

	a.assets.Free(h.h)
	a.debugLog("asset released", "asset", core, "state", state)
	a.logState(ctrl, log.StateEntityAsset, state.String(), "RELEASED", core)

	if surfaced {
		a.delegate.AssetStateChanged(h, Released)
	}
}
