package ecs

// Storage is the single per-world store for component type T. Values are
// boxed so pointers handed out by Of and GetMut stay valid while the
// component is attached.
type Storage[T any] struct {
	id    ComponentID
	arena *Arena[*T]
	objs  []Obj // indexed by entity index
	ents  []EntityID
	hooks []func(EntityID, *T)
}

func newStorage[T any](id ComponentID) *Storage[T] {
	return &Storage[T]{
		id:    id,
		arena: NewArena[*T](),
	}
}

func (s *Storage[T]) ID() ComponentID { return s.id }

func (s *Storage[T]) insert(e EntityID, v T) Obj {
	idx := int(e.Index())
	if idx >= len(s.objs) {
		grow := idx + 1 - len(s.objs)
		s.objs = append(s.objs, make([]Obj, grow)...)
		s.ents = append(s.ents, make([]EntityID, grow)...)
	}
	if o := s.objs[idx]; !o.IsZero() && s.ents[idx] == e {
		p, _ := s.arena.GetMut(o)
		**p = v
		return o
	}
	box := new(T)
	*box = v
	o := s.arena.Insert(box)
	s.objs[idx] = o
	s.ents[idx] = e
	return o
}

// ObjOf returns the handle of e's component, if e has one.
func (s *Storage[T]) ObjOf(e EntityID) (Obj, bool) {
	idx := int(e.Index())
	if idx >= len(s.objs) || s.ents[idx] != e || s.objs[idx].IsZero() {
		return Obj{}, false
	}
	return s.objs[idx], true
}

// Of returns e's component.
func (s *Storage[T]) Of(e EntityID) (*T, bool) {
	o, ok := s.ObjOf(e)
	if !ok {
		return nil, false
	}
	return s.GetMut(o)
}

func (s *Storage[T]) Has(e EntityID) bool {
	_, ok := s.ObjOf(e)
	return ok
}

func (s *Storage[T]) Get(o Obj) (T, bool) {
	p, ok := s.arena.Get(o)
	if !ok {
		var zero T
		return zero, false
	}
	return *p, true
}

func (s *Storage[T]) GetMut(o Obj) (*T, bool) {
	p, ok := s.arena.Get(o)
	if !ok {
		return nil, false
	}
	return p, true
}

func (s *Storage[T]) Len() int { return s.arena.Len() }

// Each visits every attached component in slot order.
func (s *Storage[T]) Each(fn func(EntityID, *T)) {
	for idx, o := range s.objs {
		if o.IsZero() {
			continue
		}
		if p, ok := s.arena.Get(o); ok {
			fn(s.ents[idx], p)
		}
	}
}

// detach is the storage's remove vtable entry: it drops e's component and
// runs the OnRemove hooks with the detached value.
func (s *Storage[T]) detach(e EntityID) bool {
	o, ok := s.ObjOf(e)
	if !ok {
		return false
	}
	p, _ := s.arena.Remove(o)
	idx := e.Index()
	s.objs[idx] = Obj{}
	s.ents[idx] = 0
	for _, h := range s.hooks {
		h(e, p)
	}
	return true
}
