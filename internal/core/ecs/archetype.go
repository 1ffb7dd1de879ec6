package ecs

import (
	"encoding/binary"
	"hash/maphash"
	"slices"
	"sort"
)

// ArchetypeID names an interned component set. ID 0 is the empty set.
type ArchetypeID uint32

const RootArchetype ArchetypeID = 0

type archetype struct {
	comps    []ComponentID // sorted, unique
	extend   map[ComponentID]ArchetypeID
	remove   map[ComponentID]ArchetypeID
	entities []EntityID
}

// ArchetypeStore interns component sets and caches the transitions between
// them. For every component it keeps the ids of the archetypes containing
// it in ascending order.
type ArchetypeStore struct {
	seed   maphash.Seed
	arches []*archetype
	byHash map[uint64][]ArchetypeID
	with   [][]ArchetypeID // indexed by ComponentID
	buf    []byte
}

func NewArchetypeStore() *ArchetypeStore {
	s := &ArchetypeStore{
		seed:   maphash.MakeSeed(),
		byHash: make(map[uint64][]ArchetypeID, 64),
	}
	s.intern(nil)
	return s
}

func (s *ArchetypeStore) Len() int { return len(s.arches) }

// Components returns the sorted component set of id. Callers must not
// modify the result.
func (s *ArchetypeStore) Components(id ArchetypeID) []ComponentID {
	return s.arches[id].comps
}

func (s *ArchetypeStore) Has(id ArchetypeID, c ComponentID) bool {
	_, ok := slices.BinarySearch(s.arches[id].comps, c)
	return ok
}

// Entities returns the members of id in row order.
func (s *ArchetypeStore) Entities(id ArchetypeID) []EntityID {
	return s.arches[id].entities
}

// ArchesWith returns the ascending list of archetypes containing c.
func (s *ArchetypeStore) ArchesWith(c ComponentID) []ArchetypeID {
	if int(c) >= len(s.with) {
		return nil
	}
	return s.with[c]
}

func (s *ArchetypeStore) LookupExtend(base ArchetypeID, with ComponentID) ArchetypeID {
	a := s.arches[base]
	if id, ok := a.extend[with]; ok {
		return id
	}
	pos, found := slices.BinarySearch(a.comps, with)
	target := base
	if !found {
		comps := make([]ComponentID, 0, len(a.comps)+1)
		comps = append(comps, a.comps[:pos]...)
		comps = append(comps, with)
		comps = append(comps, a.comps[pos:]...)
		target = s.intern(comps)
	}
	if a.extend == nil {
		a.extend = make(map[ComponentID]ArchetypeID, 4)
	}
	a.extend[with] = target
	return target
}

func (s *ArchetypeStore) LookupRemove(base ArchetypeID, without ComponentID) ArchetypeID {
	a := s.arches[base]
	if id, ok := a.remove[without]; ok {
		return id
	}
	pos, found := slices.BinarySearch(a.comps, without)
	target := base
	if found {
		comps := make([]ComponentID, 0, len(a.comps)-1)
		comps = append(comps, a.comps[:pos]...)
		comps = append(comps, a.comps[pos+1:]...)
		target = s.intern(comps)
	}
	if a.remove == nil {
		a.remove = make(map[ComponentID]ArchetypeID, 4)
	}
	a.remove[without] = target
	return target
}

func (s *ArchetypeStore) hash(comps []ComponentID) uint64 {
	s.buf = s.buf[:0]
	for _, c := range comps {
		s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(c))
	}
	return maphash.Bytes(s.seed, s.buf)
}

// intern returns the archetype for a sorted, unique component set, creating
// it if needed. comps is retained when a new archetype is created.
func (s *ArchetypeStore) intern(comps []ComponentID) ArchetypeID {
	h := s.hash(comps)
	for _, id := range s.byHash[h] {
		if slices.Equal(s.arches[id].comps, comps) {
			return id
		}
	}

	id := ArchetypeID(len(s.arches))
	s.arches = append(s.arches, &archetype{comps: comps})
	s.byHash[h] = append(s.byHash[h], id)
	for _, c := range comps {
		for int(c) >= len(s.with) {
			s.with = append(s.with, nil)
		}
		// id is larger than every existing archetype id, so appending keeps
		// the list sorted.
		s.with[c] = append(s.with[c], id)
	}
	return id
}

// Matching appends to dst every archetype whose set contains all of sig, in
// ascending id order.
func (s *ArchetypeStore) Matching(dst []ArchetypeID, sig []ComponentID) []ArchetypeID {
	if len(sig) == 0 {
		for id := range s.arches {
			dst = append(dst, ArchetypeID(id))
		}
		return dst
	}

	lists := make([][]ArchetypeID, len(sig))
	for i, c := range sig {
		lists[i] = s.ArchesWith(c)
		if len(lists[i]) == 0 {
			return dst
		}
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	cursors := make([]int, len(lists))
outer:
	for _, cand := range lists[0] {
		for i := 1; i < len(lists); i++ {
			l := lists[i]
			cursors[i] = gallop(l, cursors[i], cand)
			if cursors[i] >= len(l) {
				break outer
			}
			if l[cursors[i]] != cand {
				continue outer
			}
		}
		dst = append(dst, cand)
	}
	return dst
}

// gallop returns the first index >= from whose value is >= target.
func gallop(l []ArchetypeID, from int, target ArchetypeID) int {
	if from >= len(l) || l[from] >= target {
		return from
	}
	step := 1
	lo := from
	hi := from + step
	for hi < len(l) && l[hi] < target {
		lo = hi
		step *= 2
		hi = lo + step
	}
	if hi > len(l) {
		hi = len(l)
	}
	// l[lo] < target; answer lies in (lo, hi].
	n, _ := slices.BinarySearch(l[lo+1:hi], target)
	return lo + 1 + n
}

func (s *ArchetypeStore) addMember(id ArchetypeID, e EntityID) int {
	a := s.arches[id]
	a.entities = append(a.entities, e)
	return len(a.entities) - 1
}

// removeMember swap-removes the entity at row and returns the entity that
// moved into row, if any.
func (s *ArchetypeStore) removeMember(id ArchetypeID, row int) (EntityID, bool) {
	a := s.arches[id]
	last := len(a.entities) - 1
	moved := a.entities[last]
	a.entities[row] = moved
	a.entities[last] = 0
	a.entities = a.entities[:last]
	if row == last {
		return 0, false
	}
	return moved, true
}
