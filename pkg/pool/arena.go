package pool

// Handle addresses an object in an Arena. The zero Handle is never valid.
type Handle struct {
	slot uint16
	gen  uint16
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Slot returns the arena slot h refers to.
func (h Handle) Slot() int {
	return int(h.slot)
}

type arenaEntry[T any] struct {
	gen   uint16
	inUse bool
	value T
}

// Arena is a fixed-capacity slot map of T values.
// Pointers returned by Get stay valid until the handle is freed.
type Arena[T any] struct {
	name    string
	entries []arenaEntry[T]
	inUse   int
	peak    int
}

// NewArena creates an arena holding at most capacity values.
func NewArena[T any](name string, capacity int) *Arena[T] {
	if capacity < 0 || capacity > 0xFFFF {
		panic("pool: invalid arena capacity")
	}
	return &Arena[T]{name: name, entries: make([]arenaEntry[T], capacity)}
}

// Alloc reserves a slot and returns its handle together with a pointer to
// the zeroed value.
func (a *Arena[T]) Alloc() (Handle, *T, error) {
	for i := range a.entries {
		e := &a.entries[i]
		if e.inUse {
			continue
		}
		e.gen++
		if e.gen == 0 {
			e.gen = 1
		}
		e.inUse = true
		var zero T
		e.value = zero
		a.inUse++
		if a.inUse > a.peak {
			a.peak = a.inUse
		}
		return Handle{slot: uint16(i), gen: e.gen}, &e.value, nil
	}
	return Handle{}, nil, ErrNoResources
}

// Get returns the value h refers to, or false when h is stale.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if h.IsZero() || int(h.slot) >= len(a.entries) {
		return nil, false
	}
	e := &a.entries[h.slot]
	if !e.inUse || e.gen != h.gen {
		return nil, false
	}
	return &e.value, true
}

// Free releases the slot of h. Freeing a stale handle panics with a *FatalError.
func (a *Arena[T]) Free(h Handle) {
	if _, ok := a.Get(h); !ok {
		fatal(a.name, "free of stale handle %d/%d", h.slot, h.gen)
	}
	e := &a.entries[h.slot]
	e.inUse = false
	var zero T
	e.value = zero
	a.inUse--
}

// Each calls fn for every live value in slot order. fn may free the handle
// it is given but must not allocate.
func (a *Arena[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range a.entries {
		e := &a.entries[i]
		if !e.inUse {
			continue
		}
		if !fn(Handle{slot: uint16(i), gen: e.gen}, &e.value) {
			return
		}
	}
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.inUse }

// Stats reports occupancy in the same shape as Pool.Stats.
func (a *Arena[T]) Stats() Stats {
	return Stats{Name: a.name, Slots: len(a.entries), InUse: a.inUse, Peak: a.peak}
}
