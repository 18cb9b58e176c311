package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults.
const (
	// InitialBackoff is the first reopen delay.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the reopen delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// Backoff paces reopen attempts. Safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff with the default parameters.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// BackoffConfig holds backoff parameters. Zero fields take the defaults,
// except Jitter where zero disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// DefaultBackoffConfig returns the default parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// withDefaults fills zero fields. A negative jitter becomes zero.
func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// NewBackoffWithConfig creates a backoff from cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, current: cfg.Initial}
}

// Next returns the delay before the next attempt and grows the base delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.jittered(b.current)
	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.cfg.Multiplier), b.cfg.Max)
	return d
}

// Peek returns a delay for the current step without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jittered(b.current)
}

// Reset goes back to the initial delay. Called after a successful open.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current, b.attempts = b.cfg.Initial, 0
	b.mu.Unlock()
}

// Attempts returns the delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay of the current step.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.cfg.Jitter*rand.Float64())
}

// Sequence returns the base delays (without jitter) of cfg from the
// initial delay up to the first capped one.
func Sequence(cfg BackoffConfig) []time.Duration {
	b := NewBackoffWithConfig(cfg)
	var seq []time.Duration
	for {
		d := b.Current()
		seq = append(seq, d)
		if d >= b.cfg.Max {
			return seq
		}
		b.Next()
	}
}
