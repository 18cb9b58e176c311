package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising the accessory, replacing any previous
	// advertisement.
	Advertise(ctx context.Context, info *AccessoryInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *AccessoryInfo) error

	// Stop stops advertising. Stopping an idle advertiser is a no-op.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string `yaml:"interface"`

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// Announcer keeps the advertisement of one accessory in step with its
// firmware state.
type Announcer struct {
	mu         sync.Mutex
	advertiser Advertiser
	info       AccessoryInfo
	active     bool
}

// NewAnnouncer creates an announcer for info.
func NewAnnouncer(advertiser Advertiser, info AccessoryInfo) *Announcer {
	return &Announcer{advertiser: advertiser, info: info}
}

// Start begins advertising.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.info.Validate(); err != nil {
		return err
	}
	info := a.info
	if err := a.advertiser.Advertise(ctx, &info); err != nil {
		return err
	}
	a.active = true
	return nil
}

// SetFirmware records a new active firmware version and refreshes the
// advertisement when running. Unchanged versions are not re-announced.
func (a *Announcer) SetFirmware(v wire.Version) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.Firmware == v {
		return nil
	}
	a.info.Firmware = v
	if !a.active {
		return nil
	}
	info := a.info
	return a.advertiser.Update(&info)
}

// Info returns the advertised information.
func (a *Announcer) Info() AccessoryInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// Active reports whether the advertisement is running.
func (a *Announcer) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Stop stops advertising.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		a.advertiser.Stop()
		a.active = false
	}
}
