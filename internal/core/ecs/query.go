package ecs

import "iter"

// Query yields every live entity whose archetype contains all of sig.
// Condemned entities are still yielded until the next Flush. Adding
// components or flushing inside the loop body panics.
func (w *World) Query(sig ...ComponentID) iter.Seq[EntityID] {
	return func(yield func(EntityID) bool) {
		arches := w.arches.Matching(nil, sig)
		w.iterating++
		defer func() { w.iterating-- }()
		for _, a := range arches {
			for _, e := range w.arches.Entities(a) {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Count returns the number of entities matching sig.
func (w *World) Count(sig ...ComponentID) int {
	n := 0
	for _, a := range w.arches.Matching(nil, sig) {
		n += len(w.arches.Entities(a))
	}
	return n
}

type Row2[A, B any] struct {
	Entity EntityID
	C1     *A
	C2     *B
}

type Row3[A, B, C any] struct {
	Entity EntityID
	C1     *A
	C2     *B
	C3     *C
}

// Query1 yields each entity with an A together with its A.
func Query1[A any](w *World) iter.Seq2[EntityID, *A] {
	sa := StorageOf[A](w)
	return func(yield func(EntityID, *A) bool) {
		for e := range w.Query(sa.id) {
			a, _ := sa.Of(e)
			if !yield(e, a) {
				return
			}
		}
	}
}

// Query2 yields each entity with both an A and a B.
func Query2[A, B any](w *World) iter.Seq[Row2[A, B]] {
	sa, sb := StorageOf[A](w), StorageOf[B](w)
	return func(yield func(Row2[A, B]) bool) {
		for e := range w.Query(sa.id, sb.id) {
			a, _ := sa.Of(e)
			b, _ := sb.Of(e)
			if !yield(Row2[A, B]{Entity: e, C1: a, C2: b}) {
				return
			}
		}
	}
}

// Query3 yields each entity with an A, a B and a C.
func Query3[A, B, C any](w *World) iter.Seq[Row3[A, B, C]] {
	sa, sb, sc := StorageOf[A](w), StorageOf[B](w), StorageOf[C](w)
	return func(yield func(Row3[A, B, C]) bool) {
		for e := range w.Query(sa.id, sb.id, sc.id) {
			a, _ := sa.Of(e)
			b, _ := sb.Of(e)
			c, _ := sc.Of(e)
			if !yield(Row3[A, B, C]{Entity: e, C1: a, C2: b, C3: c}) {
				return
			}
		}
	}
}
