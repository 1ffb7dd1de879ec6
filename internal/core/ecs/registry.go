package ecs

import (
	"reflect"
)

// ComponentID is a world-local stable identity for a component type.
type ComponentID uint32

// Removable is the per-type remove vtable the world dispatches deferred
// removals through.
type Removable interface {
	detach(e EntityID) bool
}

type componentInfo struct {
	id    ComponentID
	typ   reflect.Type
	store Removable
}

// Registry maps Go types to component ids and owns one storage per type.
type Registry struct {
	byType map[reflect.Type]ComponentID
	infos  []componentInfo
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]ComponentID, 16),
		infos:  make([]componentInfo, 0, 16),
	}
}

// Lookup returns the id of typ if it has been registered.
func (r *Registry) Lookup(typ reflect.Type) (ComponentID, bool) {
	id, ok := r.byType[typ]
	return id, ok
}

// Name returns the Go type name behind id, for logs and panics.
func (r *Registry) Name(id ComponentID) string {
	if int(id) >= len(r.infos) {
		return "<unknown>"
	}
	return r.infos[id].typ.String()
}

// Len returns the number of registered component types.
func (r *Registry) Len() int { return len(r.infos) }

func (r *Registry) removable(id ComponentID) Removable {
	return r.infos[id].store
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// StorageOf returns the storage for T in w, registering T on first use.
func StorageOf[T any](w *World) *Storage[T] {
	r := w.registry
	typ := typeOf[T]()
	if id, ok := r.byType[typ]; ok {
		return r.infos[id].store.(*Storage[T])
	}
	id := ComponentID(len(r.infos))
	s := newStorage[T](id)
	r.byType[typ] = id
	r.infos = append(r.infos, componentInfo{id: id, typ: typ, store: s})
	return s
}

// IDOf returns the component id of T in w, registering T on first use.
func IDOf[T any](w *World) ComponentID {
	return StorageOf[T](w).id
}

// OnRemove registers a hook run whenever a T is detached from an entity,
// whether by Remove or by entity destruction. Hooks run during Flush and
// may destroy entities or queue further removals.
func OnRemove[T any](w *World, fn func(e EntityID, v *T)) {
	s := StorageOf[T](w)
	s.hooks = append(s.hooks, fn)
}
