package accessory

import (
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// ControllerDelegate is the transport of one controller. The engine calls
// SendMessage with a complete message; the slice is only valid for the
// duration of the call.
type ControllerDelegate interface {
	SendMessage(msg []byte) error
}

// AsyncSender is implemented by controller delegates that write messages
// after SendMessageAsync returns. The engine keeps the transmit buffer
// allocated until done is called. done must be called from the goroutine
// that drives the engine, exactly once, and never when SendMessageAsync
// returns an error.
type AsyncSender interface {
	SendMessageAsync(msg []byte, done func()) error
}

// TimerHandle identifies a timer started through Timers.
type TimerHandle uint64

// Timers is the host's single-shot timer facility. fire must be invoked
// from the goroutine that drives the engine.
type Timers interface {
	StartTimer(d time.Duration, fire func()) (TimerHandle, error)
	StopTimer(h TimerHandle)
}

// LastError is the accessory's record of its most recent failure, reported
// through the last-error information option.
type LastError struct {
	Action uint32
	Status uint32
}

// InfoProvider answers accessory information requests.
type InfoProvider interface {
	ManufacturerName() string
	ModelName() string
	SerialNumber() string
	HardwareVersion() string
	ActiveFirmwareVersion() wire.Version
	StagedFirmwareVersion() wire.Version
	LastError() LastError
}

// AssetStateChange is reported through Delegate.AssetStateChanged.
type AssetStateChange uint8

const (
	// StagingPaused: a data response timed out or data could not be requested.
	StagingPaused AssetStateChange = iota + 1
	// StagingResumed: staging continues after StagingPaused.
	StagingResumed
	// TransferPaused: the controller paused data transfers.
	TransferPaused
	// TransferResumed: the controller resumed data transfers.
	TransferResumed
	// Rescinded: the controller withdrew the asset.
	Rescinded
	// Corrupt: the asset failed structural validation.
	Corrupt
	// Orphaned: the asset's controller went away. Progress is kept.
	Orphaned
	// Released: the asset's storage was reclaimed. The handle is stale.
	Released
	// Abandoned: the engine gave up on the asset.
	Abandoned
	// Merged: a new offer of the same asset was folded into this one.
	Merged
)

var assetStateChangeNames = [...]string{
	StagingPaused:   "STAGING_PAUSED",
	StagingResumed:  "STAGING_RESUMED",
	TransferPaused:  "TRANSFER_PAUSED",
	TransferResumed: "TRANSFER_RESUMED",
	Rescinded:       "RESCINDED",
	Corrupt:         "CORRUPT",
	Orphaned:        "ORPHANED",
	Released:        "RELEASED",
	Abandoned:       "ABANDONED",
	Merged:          "MERGED",
}

// String returns the change name.
func (c AssetStateChange) String() string {
	if int(c) < len(assetStateChangeNames) && assetStateChangeNames[c] != "" {
		return assetStateChangeNames[c]
	}
	return "UNKNOWN"
}

// Delegate receives accessory-wide events. All methods are called
// synchronously from inside an entry point and may call back into the
// Accessory.
type Delegate interface {
	InfoProvider

	// AssetOffered surfaces a new offer. The delegate answers with Accept
	// or Deny, now or later.
	AssetOffered(h AssetHandle, ctrl ControllerID, core wire.AssetCore)

	// AssetStateChanged reports a change the delegate did not initiate.
	AssetStateChanged(h AssetHandle, change AssetStateChange)

	// ApplyStagedAssets is asked once no transfer is in progress.
	ApplyStagedAssets(ctrl ControllerID) wire.ApplyFlags

	// DynamicAssetSolicited returns the status echoed in the solicitation ack.
	DynamicAssetSolicited(ctrl ControllerID, tag wire.Tag) wire.Status

	// VendorSpecific receives an inbound vendor message. Data aliases the
	// receive buffer.
	VendorSpecific(ctrl ControllerID, msg wire.VendorSpecific) error
}

// AssetDelegate follows the staging of one accepted asset.
//
// The metadata callbacks only fire for regions of non-zero length.
type AssetDelegate interface {
	MetaDataTLV(h AssetHandle, typ uint32, value []byte)
	MetaDataComplete(h AssetHandle)

	// AssetReady fires once the SuperBinary header and metadata are in.
	// Select a payload with SetPayloadIndex or finish with FullyStaged.
	AssetReady(h AssetHandle)

	PayloadMetaDataTLV(h AssetHandle, typ uint32, value []byte)
	PayloadMetaDataComplete(h AssetHandle)

	// PayloadReady fires once the selected payload's header and metadata
	// are in. Start the pull with RequestPayloadData.
	PayloadReady(h AssetHandle, header wire.PayloadHeader)

	// PayloadData delivers payload bytes starting at offset within the
	// payload and returns how many of them were consumed. Unconsumed bytes
	// are delivered again, in front of the next chunk.
	PayloadData(h AssetHandle, data []byte, offset uint32) int

	PayloadDataComplete(h AssetHandle)
}
