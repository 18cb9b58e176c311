package accessory

import (
	"github.com/uarp-protocol/uarp-go/pkg/pool"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// AssetHandle refers to an asset tracked by the engine. A handle is only
// valid until the Released state change has been reported for it.
type AssetHandle struct {
	h pool.Handle
}

// IsZero reports whether h is the zero handle.
func (h AssetHandle) IsZero() bool { return h.h.IsZero() }

// Slot returns the arena slot of the asset, for logging.
func (h AssetHandle) Slot() int { return h.h.Slot() }

type assetFlags uint32

const (
	flagHasHeader assetFlags = 1 << iota
	flagNeedsMetaData
	flagHasMetaData
	flagHasPayloadHeader
	flagNeedsPayloadMetaData
	flagHasPayloadMetaData
	flagDataPull
	flagHasPayload
	flagFullyStaged
	flagCleanup
	flagAccepted
	flagSurfaced
	flagDenied
	flagAbandoned
	flagCorrupt
	flagRescinded
)

// StagingState is the externally visible state of an asset.
type StagingState uint8

const (
	StateOffered StagingState = iota
	StateDenied
	StateAccepted
	StateHeaderPending
	StateMetaDataPending
	StateReady
	StatePayloadHeaderPending
	StatePayloadMetaDataPending
	StatePayloadReady
	StatePayloadDataPending
	StatePayloadComplete
	StateFullyStaged
	StateCorrupt
	StateAbandoned
	StateRescinded
	StateOrphaned
	StatePendingRelease
)

var stagingStateNames = [...]string{
	StateOffered:                "OFFERED",
	StateDenied:                 "DENIED",
	StateAccepted:               "ACCEPTED",
	StateHeaderPending:          "HEADER_PENDING",
	StateMetaDataPending:        "METADATA_PENDING",
	StateReady:                  "READY",
	StatePayloadHeaderPending:   "PAYLOAD_HEADER_PENDING",
	StatePayloadMetaDataPending: "PAYLOAD_METADATA_PENDING",
	StatePayloadReady:           "PAYLOAD_READY",
	StatePayloadDataPending:     "PAYLOAD_DATA_PENDING",
	StatePayloadComplete:        "PAYLOAD_COMPLETE",
	StateFullyStaged:            "FULLY_STAGED",
	StateCorrupt:                "CORRUPT",
	StateAbandoned:              "ABANDONED",
	StateRescinded:              "RESCINDED",
	StateOrphaned:               "ORPHANED",
	StatePendingRelease:         "PENDING_RELEASE",
}

// String returns the state name.
func (s StagingState) String() string {
	if int(s) < len(stagingStateNames) {
		return stagingStateNames[s]
	}
	return "UNKNOWN"
}

// AssetInfo is a read-only snapshot of an asset.
type AssetInfo struct {
	Handle        AssetHandle
	Controller    ControllerID
	Core          wire.AssetCore
	Header        wire.SuperBinaryHeader
	PayloadIndex  int
	PayloadHeader wire.PayloadHeader
	BytesReceived uint32
	State         StagingState
	Paused        bool
	TimedOut      bool
}

type asset struct {
	core       wire.AssetCore
	controller ControllerID
	delegate   AssetDelegate
	flags      assetFlags

	header        wire.SuperBinaryHeader
	payloadIndex  int
	payloadHeader wire.PayloadHeader

	pausedByAccessory bool
	timedOut          bool
	stalled           bool
	pauseReported     bool

	req           dataRequest
	bytesReceived uint32
	carry         int

	window pool.Buffer
	meta   pool.Buffer

	timer    TimerHandle
	timerSet bool
	timerSeq uint64
}

func (a *asset) has(f assetFlags) bool { return a.flags&f == f }
func (a *asset) set(f assetFlags)      { a.flags |= f }
func (a *asset) clear(f assetFlags)    { a.flags &^= f }

// staging reports whether the asset is accepted and still being pulled.
func (a *asset) staging() bool {
	return a.has(flagAccepted) && !a.has(flagFullyStaged) && !a.has(flagCleanup)
}

func (a *asset) orphaned() bool { return a.controller == 0 }

// resetPayload forgets everything about the selected payload.
func (a *asset) resetPayload() {
	a.clear(flagHasPayloadHeader | flagNeedsPayloadMetaData | flagHasPayloadMetaData | flagDataPull | flagHasPayload)
	a.payloadHeader = wire.PayloadHeader{}
	a.bytesReceived = 0
	a.carry = 0
	a.req = dataRequest{}
}

func (a *asset) state() StagingState {
	switch {
	case a.has(flagDenied):
		return StateDenied
	case a.has(flagCorrupt):
		return StateCorrupt
	case a.has(flagAbandoned):
		return StateAbandoned
	case a.has(flagRescinded):
		return StateRescinded
	case a.has(flagFullyStaged):
		return StateFullyStaged
	case a.has(flagCleanup):
		return StatePendingRelease
	case !a.has(flagAccepted):
		return StateOffered
	case a.orphaned():
		return StateOrphaned
	case !a.has(flagHasHeader):
		if a.req.active {
			return StateHeaderPending
		}
		return StateAccepted
	case a.has(flagNeedsMetaData) && !a.has(flagHasMetaData):
		return StateMetaDataPending
	case a.payloadIndex < 0:
		return StateReady
	case !a.has(flagHasPayloadHeader):
		return StatePayloadHeaderPending
	case a.has(flagNeedsPayloadMetaData) && !a.has(flagHasPayloadMetaData):
		return StatePayloadMetaDataPending
	case a.has(flagHasPayload):
		return StatePayloadComplete
	case a.has(flagDataPull):
		return StatePayloadDataPending
	default:
		return StatePayloadReady
	}
}
