package ecs

// Obj is a handle into an Arena: a slot index plus the generation the slot
// had when the value was inserted. The zero Obj is never valid.
type Obj struct {
	slot uint32
	gen  uint32
}

func (o Obj) IsZero() bool { return o.gen == 0 }

type arenaSlot[T any] struct {
	gen   uint32
	used  bool
	value T
}

// Arena is a generational arena of T. A removed Obj dereferences to nothing
// even after its slot has been reused.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	len   int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

func (a *Arena[T]) Insert(v T) Obj {
	a.len++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.used = true
		s.value = v
		return Obj{slot: idx, gen: s.gen}
	}
	a.slots = append(a.slots, arenaSlot[T]{gen: 1, used: true, value: v})
	return Obj{slot: uint32(len(a.slots) - 1), gen: 1}
}

func (a *Arena[T]) slot(o Obj) *arenaSlot[T] {
	if int(o.slot) >= len(a.slots) {
		return nil
	}
	s := &a.slots[o.slot]
	if !s.used || s.gen != o.gen {
		return nil
	}
	return s
}

// Get returns a copy of the value behind o.
func (a *Arena[T]) Get(o Obj) (T, bool) {
	s := a.slot(o)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

// GetMut returns a pointer to the value behind o. The pointer is invalidated
// by the next Insert.
func (a *Arena[T]) GetMut(o Obj) (*T, bool) {
	s := a.slot(o)
	if s == nil {
		return nil, false
	}
	return &s.value, true
}

func (a *Arena[T]) Contains(o Obj) bool {
	return a.slot(o) != nil
}

// Remove frees the slot behind o and returns its value.
func (a *Arena[T]) Remove(o Obj) (T, bool) {
	var zero T
	s := a.slot(o)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.used = false
	s.gen++
	if s.gen != 0 {
		a.free = append(a.free, o.slot)
	}
	a.len--
	return v, true
}

func (a *Arena[T]) Len() int { return a.len }
