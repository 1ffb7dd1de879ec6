package ecs

import (
	"errors"
	"fmt"
)

var (
	ErrDeadEntity        = errors.New("ecs: entity is dead")
	ErrMutateDuringQuery = errors.New("ecs: archetype index mutated while a query is live")
)

type entityMeta struct {
	arch      ArchetypeID
	row       int
	condemned bool
}

type pendingKey struct {
	comp ComponentID
	e    EntityID
}

// World is the top-level ECS container. It owns the entity pool, the
// component registry, the archetype index and the deferred removal queue
// flushed by CleanupSystem each tick.
type World struct {
	pool     *EntityPool
	registry *Registry
	arches   *ArchetypeStore
	metas    []entityMeta

	destroyQueue []EntityID
	removeQueue  map[ComponentID][]EntityID
	removeOrder  []ComponentID
	pending      map[pendingKey]struct{}
	dying        []EntityID

	iterating int
	flushing  bool
	scopes    []*Scope
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		arches:       NewArchetypeStore(),
		destroyQueue: make([]EntityID, 0, 64),
		removeQueue:  make(map[ComponentID][]EntityID, 16),
		pending:      make(map[pendingKey]struct{}, 64),
	}
}

func (w *World) Pool() *EntityPool           { return w.pool }
func (w *World) Registry() *Registry         { return w.registry }
func (w *World) Archetypes() *ArchetypeStore { return w.arches }
func (w *World) Alive(id EntityID) bool      { return w.pool.Alive(id) }
func (w *World) Len() int                    { return w.pool.Len() }

func (w *World) guardIndex(op string) {
	if w.iterating > 0 {
		panic(fmt.Errorf("%w: %s", ErrMutateDuringQuery, op))
	}
}

// NewEntity allocates a fresh entity in the root archetype.
func (w *World) NewEntity() EntityID {
	e := w.pool.Create()
	idx := int(e.Index())
	for idx >= len(w.metas) {
		w.metas = append(w.metas, entityMeta{})
	}
	w.metas[idx] = entityMeta{arch: RootArchetype, row: w.arches.addMember(RootArchetype, e)}
	return e
}

// Archetype returns the archetype e currently belongs to.
func (w *World) Archetype(e EntityID) (ArchetypeID, bool) {
	if !w.pool.Alive(e) {
		return 0, false
	}
	return w.metas[e.Index()].arch, true
}

// Condemned reports whether e is alive but queued for destruction.
func (w *World) Condemned(e EntityID) bool {
	return w.pool.Alive(e) && w.metas[e.Index()].condemned
}

func (w *World) move(e EntityID, to ArchetypeID) {
	m := &w.metas[e.Index()]
	if m.arch == to {
		return
	}
	if moved, ok := w.arches.removeMember(m.arch, m.row); ok {
		w.metas[moved.Index()].row = m.row
	}
	m.arch = to
	m.row = w.arches.addMember(to, e)
}

// Add attaches v to e, replacing any existing T. A pending removal of T on
// e is cancelled.
func Add[T any](w *World, e EntityID, v T) error {
	if !w.pool.Alive(e) {
		return ErrDeadEntity
	}
	s := StorageOf[T](w)
	delete(w.pending, pendingKey{comp: s.id, e: e})
	if s.Has(e) {
		s.insert(e, v)
		return nil
	}
	w.guardIndex("add component")
	s.insert(e, v)
	w.move(e, w.arches.LookupExtend(w.metas[e.Index()].arch, s.id))
	return nil
}

// Get returns e's T, if any.
func Get[T any](w *World, e EntityID) (*T, bool) {
	if !w.pool.Alive(e) {
		return nil, false
	}
	return StorageOf[T](w).Of(e)
}

func Has[T any](w *World, e EntityID) bool {
	_, ok := Get[T](w, e)
	return ok
}

// Remove queues the removal of e's T. The component stays attached and
// queryable until the next Flush.
func Remove[T any](w *World, e EntityID) error {
	if !w.pool.Alive(e) {
		return ErrDeadEntity
	}
	s := StorageOf[T](w)
	if !s.Has(e) {
		return nil
	}
	w.queueRemove(s.id, e)
	return nil
}

func (w *World) queueRemove(c ComponentID, e EntityID) {
	key := pendingKey{comp: c, e: e}
	if _, ok := w.pending[key]; ok {
		return
	}
	w.pending[key] = struct{}{}
	if _, ok := w.removeQueue[c]; !ok {
		w.removeOrder = append(w.removeOrder, c)
	}
	w.removeQueue[c] = append(w.removeQueue[c], e)
}

// Destroy condemns e. It remains alive and visible to queries until Flush.
// Destroying a dead or already condemned entity is a no-op.
func (w *World) Destroy(e EntityID) {
	if !w.pool.Alive(e) {
		return
	}
	m := &w.metas[e.Index()]
	if m.condemned {
		return
	}
	m.condemned = true
	w.destroyQueue = append(w.destroyQueue, e)
}

// Flush applies every queued removal and destruction. Removal hooks may
// queue more work, which is drained in the same call.
func (w *World) Flush() {
	w.guardIndex("flush")
	if w.flushing {
		return
	}
	w.flushing = true
	defer func() { w.flushing = false }()

	for {
		for len(w.destroyQueue) > 0 {
			batch := w.destroyQueue
			w.destroyQueue = make([]EntityID, 0, 64)
			for _, e := range batch {
				w.dying = append(w.dying, e)
				for _, c := range w.arches.Components(w.metas[e.Index()].arch) {
					w.queueRemove(c, e)
				}
			}
		}

		if len(w.removeOrder) == 0 {
			// A hook may have attached a component to a dying entity.
			requeued := false
			for _, e := range w.dying {
				if a := w.metas[e.Index()].arch; a != RootArchetype {
					for _, c := range w.arches.Components(a) {
						w.queueRemove(c, e)
					}
					requeued = true
				}
			}
			if !requeued {
				break
			}
		}

		order, queue := w.removeOrder, w.removeQueue
		w.removeOrder = nil
		w.removeQueue = make(map[ComponentID][]EntityID, len(queue))
		for _, c := range order {
			vt := w.registry.removable(c)
			for _, e := range queue[c] {
				key := pendingKey{comp: c, e: e}
				if _, ok := w.pending[key]; !ok {
					continue // cancelled by Add
				}
				delete(w.pending, key)
				if !w.pool.Alive(e) {
					continue
				}
				if vt.detach(e) {
					w.move(e, w.arches.LookupRemove(w.metas[e.Index()].arch, c))
				}
			}
		}
	}

	for _, e := range w.dying {
		m := w.metas[e.Index()]
		if moved, ok := w.arches.removeMember(m.arch, m.row); ok {
			w.metas[moved.Index()].row = m.row
		}
		w.metas[e.Index()] = entityMeta{}
		w.pool.Destroy(e)
	}
	w.dying = w.dying[:0]
}
