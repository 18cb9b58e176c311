package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
	"github.com/uarp-protocol/uarp-go/pkg/connection"
	"github.com/uarp-protocol/uarp-go/pkg/discovery"
	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/persistence"
	"github.com/uarp-protocol/uarp-go/pkg/store"
	"github.com/uarp-protocol/uarp-go/pkg/transport"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrSessionClosed  = errors.New("session closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrNoPendingOffer = errors.New("no pending offer")
	ErrNothingStaged  = errors.New("nothing staged")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Identity is what the accessory reports about itself.
type Identity struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
	Hardware     string `yaml:"hardware"`
}

// Decision is an offer policy's answer.
type Decision uint8

const (
	// DecisionAccept starts staging the offered asset.
	DecisionAccept Decision = iota

	// DecisionDeny refuses the asset.
	DecisionDeny

	// DecisionDefer leaves the offer pending until AcceptPending or
	// DenyPending is called.
	DecisionDefer
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "ACCEPT"
	case DecisionDeny:
		return "DENY"
	case DecisionDefer:
		return "DEFER"
	default:
		return "UNKNOWN"
	}
}

// OfferPolicy decides on a firmware offer given the active firmware version.
type OfferPolicy func(core wire.AssetCore, active wire.Version) Decision

// NewerFirmwarePolicy accepts SuperBinaries newer than the active firmware.
// When tags are given, other tags are denied.
func NewerFirmwarePolicy(tags ...wire.Tag) OfferPolicy {
	return func(core wire.AssetCore, active wire.Version) Decision {
		if len(tags) > 0 && !containsTag(tags, core.Tag) {
			return DecisionDeny
		}
		if !core.Version.Newer(active) {
			return DecisionDeny
		}
		return DecisionAccept
	}
}

// ManualPolicy defers every offer to the operator.
func ManualPolicy(wire.AssetCore, wire.Version) Decision { return DecisionDefer }

func containsTag(tags []wire.Tag, tag wire.Tag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Installer moves verified staged payloads onto the device. The service
// calls it from its event loop, so it should not block for long.
type Installer interface {
	Install(ctx context.Context, staged *persistence.StagedAsset, payloads []store.Entry) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, staged *persistence.StagedAsset, payloads []store.Entry) error

// Install calls f.
func (f InstallerFunc) Install(ctx context.Context, staged *persistence.StagedAsset, payloads []store.Entry) error {
	return f(ctx, staged, payloads)
}

// Last-error actions recorded in the accessory state.
const (
	ActionNone uint32 = iota
	ActionStaging
	ActionApply
)

// Config configures an AccessoryService.
type Config struct {
	Identity

	// InitialFirmware is the active firmware version used until a state
	// file records another one.
	InitialFirmware wire.Version

	// DataDir holds the state file and the payload store.
	DataDir string

	// ListenAddress is the TCP address to serve controllers on (e.g. ":7411").
	// Empty disables the TCP transport.
	ListenAddress string

	// TLSConfig enables TLS on the TCP transport.
	TLSConfig *transport.TLSConfig

	// WebSocketAddress serves controllers over WebSocket at /uarp.
	// Empty disables the WebSocket transport.
	WebSocketAddress string

	// SerialPorts are opened at start, one controller link each. A port
	// that closes is reopened with SerialBackoff.
	SerialPorts []transport.SerialConfig

	// SerialBackoff paces serial port reopening (zero fields take the
	// connection package defaults).
	SerialBackoff connection.BackoffConfig

	// Engine configures the protocol engine. AccessoryID, AssetDelegate
	// and the loggers are filled in by the service.
	Engine accessory.Config

	// OfferPolicy decides firmware offers (default: NewerFirmwarePolicy()).
	OfferPolicy OfferPolicy

	// DynamicTags lists the dynamic asset tags the accessory solicits and
	// accepts. Dynamic assets are held in memory.
	DynamicTags []wire.Tag

	// MaxDynamicAssetLength bounds an accepted dynamic asset (default: 1 MiB).
	MaxDynamicAssetLength uint32

	// Installer applies staged firmware. If nil, applying only records the
	// staged version as active.
	Installer Installer

	// ApplyNeedsRestart makes a successful apply report NeedsRestart.
	ApplyNeedsRestart bool

	// AsyncSend writes outbound messages from a per-link writer goroutine
	// instead of the event loop.
	AsyncSend bool

	// SendQueueLength bounds the per-link writer queue (default: 16).
	SendQueueLength int

	// IdleTimeout closes links that have been silent this long. Zero
	// disables the reaper.
	IdleTimeout time.Duration

	// Advertiser announces the accessory over mDNS. Nil disables discovery.
	Advertiser discovery.Advertiser

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:         fmt.Sprintf(":%d", transport.DefaultPort),
		Engine:                accessory.DefaultConfig(),
		MaxDynamicAssetLength: 1 << 20,
		SendQueueLength:       16,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Serial == "":
		return fmt.Errorf("%w: serial number is required", ErrInvalidConfig)
	case c.DataDir == "":
		return fmt.Errorf("%w: data directory is required", ErrInvalidConfig)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: negative idle timeout", ErrInvalidConfig)
	}
	for _, p := range c.SerialPorts {
		if p.Port == "" {
			return fmt.Errorf("%w: serial port name is required", ErrInvalidConfig)
		}
	}
	engine := c.Engine
	if err := engine.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.OfferPolicy == nil {
		c.OfferPolicy = NewerFirmwarePolicy()
	}
	if c.MaxDynamicAssetLength == 0 {
		c.MaxDynamicAssetLength = 1 << 20
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = 16
	}
}

// EventType identifies the type of service event.
type EventType uint8

const (
	// EventConnected - controller link established.
	EventConnected EventType = iota

	// EventDisconnected - controller link gone.
	EventDisconnected

	// EventAssetOffered - a controller offered an asset.
	EventAssetOffered

	// EventAssetAccepted - staging started.
	EventAssetAccepted

	// EventAssetDenied - an offer was refused.
	EventAssetDenied

	// EventAssetStateChanged - the engine reported a staging change.
	EventAssetStateChanged

	// EventPayloadStaged - one payload is complete and stored.
	EventPayloadStaged

	// EventFullyStaged - every payload of a firmware asset is stored.
	EventFullyStaged

	// EventDynamicAsset - a dynamic asset was received.
	EventDynamicAsset

	// EventApplied - staged firmware was applied (or the apply failed).
	EventApplied

	// EventVendorMessage - a controller sent a vendor-specific message.
	EventVendorMessage

	// EventError - a staging or transport failure.
	EventError
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventAssetOffered:
		return "ASSET_OFFERED"
	case EventAssetAccepted:
		return "ASSET_ACCEPTED"
	case EventAssetDenied:
		return "ASSET_DENIED"
	case EventAssetStateChanged:
		return "ASSET_STATE_CHANGED"
	case EventPayloadStaged:
		return "PAYLOAD_STAGED"
	case EventFullyStaged:
		return "FULLY_STAGED"
	case EventDynamicAsset:
		return "DYNAMIC_ASSET"
	case EventApplied:
		return "APPLIED"
	case EventVendorMessage:
		return "VENDOR_MESSAGE"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	// Type is the event type.
	Type EventType

	// ConnectionID identifies the transport link (for link events).
	ConnectionID string

	// Controller is the engine's controller ID.
	Controller accessory.ControllerID

	// Asset is the engine handle of the asset concerned.
	Asset accessory.AssetHandle

	// Core describes the asset.
	Core wire.AssetCore

	// Change is the engine's state change (for EventAssetStateChanged).
	Change accessory.AssetStateChange

	// Payload is the staged payload (for EventPayloadStaged).
	Payload store.Entry

	// Data holds a dynamic asset's payloads, concatenated.
	Data []byte

	// Apply is the apply outcome (for EventApplied).
	Apply wire.ApplyFlags

	// Vendor is the received vendor message (for EventVendorMessage).
	Vendor wire.VendorSpecific

	// Error describes a failure.
	Error error
}

// EventHandler is called for service events.
type EventHandler func(Event)
