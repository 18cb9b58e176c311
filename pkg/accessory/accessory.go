package accessory

import (
	"log/slog"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Accessory is the transfer engine of one accessory.
//
// An Accessory is not safe for concurrent use; see the package
// documentation for the entry point contract.
type Accessory struct {
	cfg      Config
	delegate Delegate
	timers   Timers
	logger   *slog.Logger
	plog     log.Logger

	controllers *pool.Arena[controller]
	assets      *pool.Arena[asset]

	windows   *pool.Pool
	metadata  *pool.Pool
	tx        *pool.Pool
	txScratch *pool.Pool

	nextControllerID ControllerID
	timerSeq         uint64

	depth    int
	sweeping bool
	sweepBuf []pool.Handle
}

// New creates an Accessory. All pools are allocated here and nothing is
// allocated per transfer afterwards.
func New(cfg Config, d Delegate, timers Timers) (*Accessory, error) {
	if d == nil {
		return nil, ErrMissingDelegate
	}
	if timers == nil {
		return nil, ErrMissingTimers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Accessory{
		cfg:         cfg,
		delegate:    d,
		timers:      timers,
		logger:      cfg.Logger,
		plog:        log.OrNoop(cfg.ProtocolLogger),
		controllers: pool.NewArena[controller]("controllers", cfg.MaxControllers),
		assets:      pool.NewArena[asset]("assets", cfg.MaxAssets),
		windows:     pool.New("window", cfg.WindowBuffers, cfg.PayloadWindowLength, 0),
		metadata:    pool.New("metadata", cfg.MetaDataBuffers, cfg.MaxMetaDataLength, 0),
		tx:          pool.New("tx", cfg.TxBuffers, wire.HeaderSize+cfg.MaxTxPayloadLength, cfg.ReservedTxBuffers),
		txScratch:   pool.New("tx-scratch", cfg.TxScratchBuffers, cfg.MaxTxPayloadLength, min(cfg.ReservedTxBuffers, cfg.TxScratchBuffers-1)),
		sweepBuf:    make([]pool.Handle, 0, cfg.MaxAssets),
	}, nil
}

// Config returns the configuration the accessory was created with.
func (a *Accessory) Config() Config { return a.cfg }

// Stats returns the occupancy of every pool and arena.
func (a *Accessory) Stats() []pool.Stats {
	return []pool.Stats{
		a.controllers.Stats(),
		a.assets.Stats(),
		a.windows.Stats(),
		a.metadata.Stats(),
		a.tx.Stats(),
		a.txScratch.Stats(),
	}
}

// enter marks the start of an entry point. Entry points nest when a
// delegate calls back into the API.
func (a *Accessory) enter() {
	a.depth++
}

// exit ends an entry point and sweeps once the outermost one returns.
func (a *Accessory) exit() {
	a.depth--
	if a.depth == 0 {
		a.sweep()
	}
}

func (a *Accessory) debugLog(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}

func (a *Accessory) event(ctrl ControllerID) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		LocalRole:    log.RoleAccessory,
		AccessoryID:  a.cfg.AccessoryID,
		ControllerID: uint32(ctrl),
	}
}

func (a *Accessory) logMessage(ctrl ControllerID, dir log.Direction, h wire.Header, status wire.Status) {
	ev := a.event(ctrl)
	ev.Direction = dir
	ev.Layer = log.LayerWire
	ev.Category = log.CategoryMessage
	ev.Message = &log.MessageEvent{
		Type:          h.Type,
		MessageID:     h.MessageID,
		PayloadLength: h.PayloadLength,
	}
	if status != wire.StatusSuccess {
		ev.Message.Status = &status
	}
	a.plog.Log(ev)
}

func (a *Accessory) logState(ctrl ControllerID, entity log.StateEntity, from, to, reason string) {
	ev := a.event(ctrl)
	ev.Layer = log.LayerEngine
	ev.Category = log.CategoryState
	ev.StateChange = &log.StateChangeEvent{Entity: entity, OldState: from, NewState: to, Reason: reason}
	a.plog.Log(ev)
}

func (a *Accessory) logTransfer(as *asset, offset, length uint32) {
	ev := a.event(as.controller)
	ev.Direction = log.DirectionIn
	ev.Layer = log.LayerEngine
	ev.Category = log.CategoryTransfer
	ev.Transfer = &log.TransferEvent{
		AssetID:       as.core.ID,
		PayloadTag:    as.payloadHeader.Tag,
		Offset:        offset,
		Length:        length,
		BytesReceived: as.bytesReceived,
		PayloadLength: as.payloadHeader.PayloadLength,
	}
	a.plog.Log(ev)
}

func (a *Accessory) logError(ctrl ControllerID, err error, context string) {
	ev := a.event(ctrl)
	ev.Layer = log.LayerEngine
	ev.Category = log.CategoryError
	ev.Error = &log.ErrorEventData{Layer: log.LayerEngine, Message: err.Error(), Context: context}
	if s := wire.StatusOf(err); s != wire.StatusSuccess {
		code := int(s)
		ev.Error.Code = &code
	}
	a.plog.Log(ev)
}

// AssetInfo returns a snapshot of the asset h refers to.
func (a *Accessory) AssetInfo(h AssetHandle) (AssetInfo, bool) {
	as, ok := a.assets.Get(h.h)
	if !ok {
		return AssetInfo{}, false
	}
	return a.info(h, as), true
}

// AssetState returns the staging state of h.
func (a *Accessory) AssetState(h AssetHandle) (StagingState, bool) {
	as, ok := a.assets.Get(h.h)
	if !ok {
		return 0, false
	}
	return as.state(), true
}

// Assets returns a snapshot of every tracked asset.
func (a *Accessory) Assets() []AssetInfo {
	var out []AssetInfo
	a.assets.Each(func(h pool.Handle, as *asset) bool {
		out = append(out, a.info(AssetHandle{h}, as))
		return true
	})
	return out
}

func (a *Accessory) info(h AssetHandle, as *asset) AssetInfo {
	return AssetInfo{
		Handle:        h,
		Controller:    as.controller,
		Core:          as.core,
		Header:        as.header,
		PayloadIndex:  as.payloadIndex,
		PayloadHeader: as.payloadHeader,
		BytesReceived: as.bytesReceived,
		State:         as.state(),
		Paused:        as.pausedByAccessory,
		TimedOut:      as.timedOut,
	}
}

// activeAsset returns the accepted asset still being staged, if any.
func (a *Accessory) activeAsset() (AssetHandle, *asset) {
	var (
		found  AssetHandle
		result *asset
	)
	a.assets.Each(func(h pool.Handle, as *asset) bool {
		if as.staging() {
			found, result = AssetHandle{h}, as
			return false
		}
		return true
	})
	return found, result
}

// ownsActive reports whether ctrl is linked to the active asset. Its
// transmit requests may use the reserved buffers.
func (a *Accessory) ownsActive(ctrl ControllerID) bool {
	_, as := a.activeAsset()
	return as != nil && as.controller == ctrl
}

// notify reports change to the delegate for assets it knows about.
func (a *Accessory) notify(h AssetHandle, as *asset, change AssetStateChange) {
	a.logState(as.controller, log.StateEntityAsset, "", change.String(), as.core.String())
	if !as.has(flagSurfaced) {
		return
	}
	a.delegate.AssetStateChanged(h, change)
}
