// Package pool provides the fixed-capacity storage used by the engine.
//
// A Pool is a single backing array cut into equal slots whose occupancy is
// tracked by a bitset. Request hands out the first free slot, zero-filled,
// and Release takes back the Buffer handle it returned. Nothing is
// allocated after construction.
//
// An Arena holds fixed-capacity typed objects addressed by Handle. Handles
// carry a generation so a handle kept past Free is detected instead of
// silently aliasing a newer object.
//
// Returning a buffer or handle the pool does not recognize is a programming
// error and panics with a *FatalError.
package pool

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrNoResources is returned when every eligible slot is allocated.
	ErrNoResources = errors.New("pool: no free slot")

	// ErrTooLarge is returned when a request exceeds the slot size.
	ErrTooLarge = errors.New("pool: request exceeds slot size")
)

// FatalError reports misuse of a pool: a foreign, stale or double-released
// buffer or handle. It is raised with panic.
type FatalError struct {
	Pool   string
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pool %s: %s", e.Pool, e.Reason)
}

func fatal(pool, format string, args ...any) {
	panic(&FatalError{Pool: pool, Reason: fmt.Sprintf(format, args...)})
}

// Buffer is an allocated slot. Bytes is valid until the buffer is released.
type Buffer struct {
	Bytes []byte

	pool  *Pool
	index int
}

// Valid reports whether b refers to an allocated slot.
func (b Buffer) Valid() bool {
	return b.pool != nil
}

// Cap returns the slot size backing b.
func (b Buffer) Cap() int {
	if b.pool == nil {
		return 0
	}
	return b.pool.slotSize
}

// Slot returns the full slot backing b, regardless of the requested size.
func (b Buffer) Slot() []byte {
	if b.pool == nil {
		return nil
	}
	return b.pool.slot(b.index)
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name     string
	Slots    int
	SlotSize int
	Reserved int
	InUse    int
	Peak     int
	Failures int
}

// Pool is a fixed set of equal sized byte slots.
//
// The first Reserved slots are only handed to privileged requests. The
// remaining slots serve anyone. A Pool is not safe for concurrent use.
type Pool struct {
	name     string
	slotSize int
	slots    int
	reserved int
	storage  []byte
	mask     []uint64

	inUse    int
	peak     int
	failures int
}

// New creates a pool of slots buffers of slotSize bytes, of which the first
// reserved are kept for privileged requests.
func New(name string, slots, slotSize, reserved int) *Pool {
	if slots < 0 || slotSize < 0 || reserved < 0 || reserved > slots {
		panic(fmt.Sprintf("pool %s: invalid geometry slots=%d size=%d reserved=%d", name, slots, slotSize, reserved))
	}
	return &Pool{
		name:     name,
		slotSize: slotSize,
		slots:    slots,
		reserved: reserved,
		storage:  make([]byte, slots*slotSize),
		mask:     make([]uint64, (slots+63)/64),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// SlotSize returns the size of each slot.
func (p *Pool) SlotSize() int { return p.slotSize }

// InUse returns the number of allocated slots.
func (p *Pool) InUse() int { return p.inUse }

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:     p.name,
		Slots:    p.slots,
		SlotSize: p.slotSize,
		Reserved: p.reserved,
		InUse:    p.inUse,
		Peak:     p.peak,
		Failures: p.failures,
	}
}

// Request allocates a slot and returns a zero-filled Buffer of size bytes.
// Unprivileged requests never receive one of the reserved slots.
func (p *Pool) Request(size int, privileged bool) (Buffer, error) {
	if size < 0 || size > p.slotSize {
		p.failures++
		return Buffer{}, ErrTooLarge
	}

	start := p.reserved
	if privileged {
		start = 0
	}
	i := p.firstClear(start)
	if i < 0 {
		p.failures++
		return Buffer{}, ErrNoResources
	}

	p.mask[i/64] |= 1 << (i % 64)
	p.inUse++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}

	s := p.slot(i)
	clear(s)
	return Buffer{Bytes: s[:size], pool: p, index: i}, nil
}

// Release returns b to the pool. Releasing a buffer that this pool did not
// hand out, or releasing it twice, panics with a *FatalError.
func (p *Pool) Release(b Buffer) {
	if b.pool != p {
		fatal(p.name, "release of foreign buffer")
	}
	if b.index < 0 || b.index >= p.slots {
		fatal(p.name, "release of out of range slot %d", b.index)
	}
	bit := uint64(1) << (b.index % 64)
	if p.mask[b.index/64]&bit == 0 {
		fatal(p.name, "release of free slot %d", b.index)
	}
	p.mask[b.index/64] &^= bit
	p.inUse--
}

func (p *Pool) slot(i int) []byte {
	off := i * p.slotSize
	return p.storage[off : off+p.slotSize : off+p.slotSize]
}

// firstClear returns the lowest free slot index >= start, or -1.
func (p *Pool) firstClear(start int) int {
	for w := start / 64; w < len(p.mask); w++ {
		word := ^p.mask[w]
		if w == start/64 {
			word &^= (uint64(1) << (start % 64)) - 1
		}
		if word == 0 {
			continue
		}
		i := w*64 + bits.TrailingZeros64(word)
		if i >= p.slots {
			return -1
		}
		return i
	}
	return -1
}

// Release returns b to whichever pool allocated it.
func Release(b Buffer) {
	if b.pool == nil {
		panic(&FatalError{Pool: "?", Reason: "release of zero buffer"})
	}
	b.pool.Release(b)
}
