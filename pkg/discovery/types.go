package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of UARP accessories.
	ServiceType = "_uarp._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default accessory port.
	DefaultPort = 7411
)

// TXT record keys.
const (
	TXTKeySerial          = "sn"
	TXTKeyManufacturer    = "mf"
	TXTKeyModel           = "md"
	TXTKeyHardware        = "hw"
	TXTKeyFirmware        = "fw"
	TXTKeyProtocolVersion = "pv"
	TXTKeyTLS             = "tls"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// AccessoryInfo describes the local accessory for advertising.
type AccessoryInfo struct {
	// Serial is the accessory serial number. Required.
	Serial string

	Manufacturer string
	Model        string
	Hardware     string

	// Firmware is the active firmware version.
	Firmware wire.Version

	// ProtocolVersion is the highest supported UARP protocol version.
	ProtocolVersion uint16

	// TLS tells controllers that the port requires TLS.
	TLS bool

	// Port is the service port. Zero means DefaultPort.
	Port uint16

	// Host is the hostname to advertise. Empty uses the system hostname.
	Host string
}

// InstanceName returns the mDNS instance name of the accessory.
func (i *AccessoryInfo) InstanceName() string {
	name := i.Serial
	if i.Model != "" {
		name = i.Model + "-" + i.Serial
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Validate checks the fields required for advertising.
func (i *AccessoryInfo) Validate() error {
	if i.Serial == "" {
		return ErrMissingRequired
	}
	if size := txtSize(EncodeAccessoryTXT(i)); size > MaxTXTRecordSize {
		return ErrInvalidTXTRecord
	}
	return nil
}

// AccessoryService is an accessory found via mDNS.
type AccessoryService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the hostname.
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses, IPv4 first.
	Addresses []string

	Serial          string
	Manufacturer    string
	Model           string
	Hardware        string
	Firmware        wire.Version
	ProtocolVersion uint16
	TLS             bool
}

// Addr returns a dialable address, preferring the first resolved IP and
// falling back to the hostname.
func (s *AccessoryService) Addr() string {
	port := strconv.Itoa(int(s.Port))
	if len(s.Addresses) > 0 {
		return net.JoinHostPort(s.Addresses[0], port)
	}
	return net.JoinHostPort(s.Host, port)
}
