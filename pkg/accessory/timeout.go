package accessory

import "errors"

var errTimeout = errors.New("accessory: data response timed out")

// armTimer starts the data response timer of as, replacing any running one.
func (a *Accessory) armTimer(h AssetHandle, as *asset) {
	if a.cfg.DataResponseTimeout <= 0 {
		return
	}
	a.stopTimer(as)

	a.timerSeq++
	seq := a.timerSeq
	th, err := a.timers.StartTimer(a.cfg.DataResponseTimeout, func() { a.timerFired(h, seq) })
	if err != nil {
		// Staging still works, it just cannot notice a silent controller.
		a.debugLog("data response timer unavailable", "asset", as.core.String(), "error", err)
		return
	}
	as.timer = th
	as.timerSet = true
	as.timerSeq = seq
}

func (a *Accessory) stopTimer(as *asset) {
	if !as.timerSet {
		return
	}
	a.timers.StopTimer(as.timer)
	as.timerSet = false
}

// timerFired is the timer entry point. A fire that raced with a stop or a
// re-arm is recognised by its sequence number and ignored.
func (a *Accessory) timerFired(h AssetHandle, seq uint64) {
	a.enter()
	defer a.exit()

	as, ok := a.assets.Get(h.h)
	if !ok || !as.timerSet || as.timerSeq != seq {
		return
	}
	as.timerSet = false
	if !as.req.outstanding {
		return
	}

	as.timedOut = true
	a.debugLog("data response timed out", "asset", as.core.String(), "offset", as.req.current, "requested", as.req.requested)
	a.logError(as.controller, errTimeout, "data request")
	a.reportPaused(h, as)
}
