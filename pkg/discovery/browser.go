package discovery

import (
	"context"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for accessories. Each accessory is emitted once; the
	// channel is closed when ctx is done.
	Browse(ctx context.Context) (<-chan *AccessoryService, error)

	// FindBySerial returns the first accessory with the given serial number.
	FindBySerial(ctx context.Context, serial string) (*AccessoryService, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for browse operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*AccessoryService) bool

// FilterByModel matches accessories of the given model.
func FilterByModel(model string) FilterFunc {
	return func(svc *AccessoryService) bool {
		return svc.Model == model
	}
}

// FilterOlderThan matches accessories whose advertised firmware is older
// than v. Accessories without a firmware record match.
func FilterOlderThan(v wire.Version) FilterFunc {
	return func(svc *AccessoryService) bool {
		return svc.Firmware.Compare(v) < 0
	}
}

// FilterBrowseResults filters a channel of accessories.
func FilterBrowseResults(in <-chan *AccessoryService, filter FilterFunc) <-chan *AccessoryService {
	out := make(chan *AccessoryService)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}

// ServiceEntry is a resolved mDNS entry, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToAccessoryService converts a ServiceEntry to an AccessoryService.
func (e *ServiceEntry) ToAccessoryService() (*AccessoryService, error) {
	info, err := DecodeAccessoryTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}

	return &AccessoryService{
		InstanceName:    e.Instance,
		Host:            e.Host,
		Port:            e.Port,
		Addresses:       e.Addrs,
		Serial:          info.Serial,
		Manufacturer:    info.Manufacturer,
		Model:           info.Model,
		Hardware:        info.Hardware,
		Firmware:        info.Firmware,
		ProtocolVersion: info.ProtocolVersion,
		TLS:             info.TLS,
	}, nil
}
