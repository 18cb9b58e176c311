package accessory

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/version"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Engine errors. Protocol level failures are reported as wire.Status.
var (
	ErrInvalidConfig        = errors.New("accessory: invalid configuration")
	ErrMissingDelegate      = errors.New("accessory: delegate is required")
	ErrMissingTimers        = errors.New("accessory: timers are required")
	ErrMissingAssetDelegate = errors.New("accessory: no asset delegate for accepted asset")
)

// Config configures an Accessory.
type Config struct {
	// AccessoryID names the accessory in protocol captures (usually the serial number).
	AccessoryID string

	// MaxProtocolVersion is the highest protocol version offered in version discovery.
	MaxProtocolVersion uint16

	// MaxControllers bounds the controller registry.
	MaxControllers int

	// MaxAssets bounds the number of assets tracked at once, offered ones included.
	MaxAssets int

	// PayloadWindowLength is the size of an asset's scratch window and the
	// upper bound of a single data request.
	PayloadWindowLength int

	// WindowBuffers is the number of scratch windows (one per accepted asset).
	WindowBuffers int

	// MaxMetaDataLength bounds a metadata region. Larger regions abandon the asset.
	MaxMetaDataLength int

	// MetaDataBuffers is the number of metadata accumulation buffers.
	MetaDataBuffers int

	// MaxTxPayloadLength bounds outbound message payloads.
	MaxTxPayloadLength int

	// MaxRxPayloadLength bounds inbound message payloads.
	MaxRxPayloadLength int

	// TxBuffers and TxScratchBuffers size the transmit pools.
	TxBuffers        int
	TxScratchBuffers int

	// ReservedTxBuffers is the number of transmit slots kept for the
	// controller that owns the active asset.
	ReservedTxBuffers int

	// DataResponseTimeout is how long a data request may stay unanswered
	// before staging is reported paused. Zero disables the timer.
	DataResponseTimeout time.Duration

	// AssetDelegate is inherited by accepted assets that do not bring their own.
	AssetDelegate AssetDelegate

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxProtocolVersion:  version.ProtocolMax,
		MaxControllers:      4,
		MaxAssets:           4,
		PayloadWindowLength: 1024,
		WindowBuffers:       2,
		MaxMetaDataLength:   2048,
		MetaDataBuffers:     2,
		MaxTxPayloadLength:  1024,
		MaxRxPayloadLength:  1024 + wire.AssetDataResponseSize,
		TxBuffers:           8,
		TxScratchBuffers:    4,
		ReservedTxBuffers:   2,
		DataResponseTimeout: 10 * time.Second,
	}
}

// Validate checks the pool geometry.
func (c *Config) Validate() error {
	switch {
	case !version.Supported(c.MaxProtocolVersion):
		return fmt.Errorf("%w: protocol version %d not supported", ErrInvalidConfig, c.MaxProtocolVersion)
	case c.MaxControllers <= 0 || c.MaxAssets <= 0:
		return fmt.Errorf("%w: controller and asset limits must be positive", ErrInvalidConfig)
	case c.PayloadWindowLength < wire.SuperBinaryHeaderSize:
		return fmt.Errorf("%w: payload window must hold a SuperBinary header", ErrInvalidConfig)
	case c.WindowBuffers <= 0 || c.MetaDataBuffers <= 0 || c.MaxMetaDataLength <= 0:
		return fmt.Errorf("%w: window and metadata pools must not be empty", ErrInvalidConfig)
	case c.MaxTxPayloadLength < wire.AccessoryInformationResponseSize+wire.VersionSize || c.MaxTxPayloadLength > 0xFFFF:
		return fmt.Errorf("%w: transmit payload length out of range", ErrInvalidConfig)
	case c.MaxRxPayloadLength <= wire.AssetDataResponseSize || c.MaxRxPayloadLength > 0xFFFF:
		return fmt.Errorf("%w: receive payload length out of range", ErrInvalidConfig)
	case c.windowLength() < wire.SuperBinaryHeaderSize:
		return fmt.Errorf("%w: a data response must be able to carry a SuperBinary header", ErrInvalidConfig)
	case c.TxBuffers <= 0 || c.TxScratchBuffers <= 0:
		return fmt.Errorf("%w: transmit pools must not be empty", ErrInvalidConfig)
	case c.ReservedTxBuffers < 0 || c.ReservedTxBuffers >= c.TxBuffers:
		return fmt.Errorf("%w: reserved transmit buffers must leave shared slots", ErrInvalidConfig)
	case c.DataResponseTimeout < 0:
		return fmt.Errorf("%w: negative data response timeout", ErrInvalidConfig)
	}
	return nil
}

// windowLength is the largest data request a controller can be asked for:
// bounded by the scratch window and by what fits in one inbound response.
func (c *Config) windowLength() int {
	n := c.PayloadWindowLength
	if m := c.MaxRxPayloadLength - wire.AssetDataResponseSize; m < n {
		n = m
	}
	if n > 0xFFFF {
		n = 0xFFFF
	}
	return n
}
