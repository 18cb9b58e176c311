package log

import (
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Event is a protocol capture event. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the transport session (UUID or port name).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole tells whether the capture was taken on the accessory or the controller.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// AccessoryID is the accessory serial number, when known.
	AccessoryID string `cbor:"8,keyasint,omitempty"`

	// ControllerID is the accessory-local controller number.
	ControllerID uint32 `cbor:"9,keyasint,omitempty"`

	// One of the following is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Transfer    *TransferEvent    `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow relative to the capturing side.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message layer (decoded headers).
	LayerWire Layer = 1
	// LayerEngine is the staging engine.
	LayerEngine Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage  Category = 0
	CategoryTransfer Category = 1
	CategoryState    Category = 2
	CategoryError    Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the local endpoint's role.
type Role uint8

const (
	RoleAccessory  Role = 0
	RoleController Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleAccessory:
		return "ACCESSORY"
	case RoleController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes, including any framing overhead.
	Size int `cbor:"1,keyasint"`

	// Data is the frame, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded message header and its key fields.
type MessageEvent struct {
	Type          wire.MessageType `cbor:"1,keyasint"`
	MessageID     uint16           `cbor:"2,keyasint"`
	PayloadLength uint16           `cbor:"3,keyasint"`

	// Status is set for responses carrying a status and for rejections.
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// AssetID, Offset and Length are set for asset related messages.
	AssetID *uint16 `cbor:"5,keyasint,omitempty"`
	Offset  *uint32 `cbor:"6,keyasint,omitempty"`
	Length  *uint32 `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures controller and asset lifecycle changes.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityController StateEntity = 1
	StateEntityAsset      StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityController:
		return "CONTROLLER"
	case StateEntityAsset:
		return "ASSET"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent records payload progress of an asset.
type TransferEvent struct {
	AssetID       uint16   `cbor:"1,keyasint"`
	PayloadTag    wire.Tag `cbor:"2,keyasint,omitempty"`
	Offset        uint32   `cbor:"3,keyasint"`
	Length        uint32   `cbor:"4,keyasint"`
	BytesReceived uint32   `cbor:"5,keyasint"`
	PayloadLength uint32   `cbor:"6,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the protocol status code, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what was being done.
	Context string `cbor:"4,keyasint,omitempty"`
}
