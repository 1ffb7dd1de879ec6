package ecs

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrAccessConflict = errors.New("ecs: storage access conflicts with an open scope")
	ErrAccessAlias    = errors.New("ecs: storage declared twice in one scope")
	ErrScopeClosed    = errors.New("ecs: scope is closed")
)

// Access declares read or write access to one component storage.
type Access struct {
	typ   reflect.Type
	write bool
	reg   func(*World) ComponentID
}

func Read[T any]() Access {
	return Access{typ: typeOf[T](), reg: IDOf[T]}
}

func Write[T any]() Access {
	return Access{typ: typeOf[T](), write: true, reg: IDOf[T]}
}

// Scope is proof of access to a fixed set of storages. Aliasing and
// conflicts with other open scopes are checked once, when the scope opens;
// views acquired through it do no further checking.
type Scope struct {
	w      *World
	reads  map[ComponentID]struct{}
	writes map[ComponentID]struct{}
	closed bool
}

// Access opens a scope over the declared storages.
func (w *World) Access(decl ...Access) (*Scope, error) {
	s := &Scope{
		w:      w,
		reads:  make(map[ComponentID]struct{}, len(decl)),
		writes: make(map[ComponentID]struct{}, len(decl)),
	}
	for _, d := range decl {
		id := d.reg(w)
		_, r := s.reads[id]
		_, wr := s.writes[id]
		if r || wr {
			return nil, fmt.Errorf("%w: %s", ErrAccessAlias, d.typ)
		}
		if d.write {
			s.writes[id] = struct{}{}
		} else {
			s.reads[id] = struct{}{}
		}
	}
	for _, open := range w.scopes {
		for id := range s.writes {
			_, r := open.reads[id]
			_, wr := open.writes[id]
			if r || wr {
				return nil, fmt.Errorf("%w: write %s", ErrAccessConflict, w.registry.Name(id))
			}
		}
		for id := range s.reads {
			if _, wr := open.writes[id]; wr {
				return nil, fmt.Errorf("%w: read %s", ErrAccessConflict, w.registry.Name(id))
			}
		}
	}
	w.scopes = append(w.scopes, s)
	return s, nil
}

// Close releases the scope. Closing twice is a no-op.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for i, open := range s.w.scopes {
		if open == s {
			s.w.scopes = append(s.w.scopes[:i], s.w.scopes[i+1:]...)
			break
		}
	}
}

func (s *Scope) check(id ComponentID, write bool) {
	if s.closed {
		panic(ErrScopeClosed)
	}
	if _, ok := s.writes[id]; ok {
		return
	}
	if _, ok := s.reads[id]; ok && !write {
		return
	}
	mode := "read"
	if write {
		mode = "write"
	}
	panic(fmt.Sprintf("ecs: scope did not declare %s access to %s", mode, s.w.registry.Name(id)))
}

// ReadView is a read-only window onto one storage.
type ReadView[T any] struct {
	s *Storage[T]
}

// View returns a read view of T's storage. Panics unless the scope declared
// read or write access to T.
func View[T any](s *Scope) ReadView[T] {
	st := StorageOf[T](s.w)
	s.check(st.id, false)
	return ReadView[T]{s: st}
}

func (v ReadView[T]) Get(e EntityID) (T, bool) {
	o, ok := v.s.ObjOf(e)
	if !ok {
		var zero T
		return zero, false
	}
	return v.s.Get(o)
}

func (v ReadView[T]) Has(e EntityID) bool { return v.s.Has(e) }

// WriteView is a mutable window onto one storage.
type WriteView[T any] struct {
	s *Storage[T]
}

// ViewMut returns a write view of T's storage. Panics unless the scope
// declared write access to T.
func ViewMut[T any](s *Scope) WriteView[T] {
	st := StorageOf[T](s.w)
	s.check(st.id, true)
	return WriteView[T]{s: st}
}

func (v WriteView[T]) Get(e EntityID) (*T, bool) { return v.s.Of(e) }
func (v WriteView[T]) Has(e EntityID) bool       { return v.s.Has(e) }
