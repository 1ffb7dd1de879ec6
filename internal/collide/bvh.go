package collide

import (
	"container/heap"
	"fmt"

	"github.com/heatgun/hg/internal/geom"
)

const nilNode int32 = -1

// LeafID names a leaf of a BVH. It stays valid across rotations and other
// leaves' insertions and removals until the leaf itself is removed.
type LeafID struct {
	idx int32
	gen uint32
}

func (id LeafID) String() string { return fmt.Sprintf("leaf%d.%d", id.idx, id.gen) }

type bvhNode[V any] struct {
	aabb     geom.AABB
	parent   int32
	children [2]int32 // both nilNode for leaves
	value    V
	gen      uint32
	used     bool
}

func (n *bvhNode[V]) isLeaf() bool { return n.children[0] == nilNode }

// BVH is a dynamic bounding volume hierarchy over AABBs, built with the
// surface area heuristic and kept balanced by tree rotations on insertion.
type BVH[V any] struct {
	nodes    []bvhNode[V]
	free     []int32
	root     int32
	leaves   int
	querying int
	stack    []int32
}

func NewBVH[V any]() *BVH[V] {
	return &BVH[V]{root: nilNode}
}

func (b *BVH[V]) Len() int { return b.leaves }

// Root returns the AABB enclosing every leaf.
func (b *BVH[V]) Root() (geom.AABB, bool) {
	if b.root == nilNode {
		return geom.AABB{}, false
	}
	return b.nodes[b.root].aabb, true
}

func (b *BVH[V]) guard(op string) {
	if b.querying > 0 {
		panic("collide: BVH " + op + " during query")
	}
}

func (b *BVH[V]) alloc(n bvhNode[V]) int32 {
	n.used = true
	if k := len(b.free); k > 0 {
		idx := b.free[k-1]
		b.free = b.free[:k-1]
		n.gen = b.nodes[idx].gen + 1
		b.nodes[idx] = n
		return idx
	}
	n.gen = 1
	b.nodes = append(b.nodes, n)
	return int32(len(b.nodes) - 1)
}

func (b *BVH[V]) release(idx int32) {
	gen := b.nodes[idx].gen
	b.nodes[idx] = bvhNode[V]{gen: gen}
	b.free = append(b.free, idx)
}

func (b *BVH[V]) leaf(id LeafID) *bvhNode[V] {
	if id.idx < 0 || int(id.idx) >= len(b.nodes) {
		return nil
	}
	n := &b.nodes[id.idx]
	if !n.used || n.gen != id.gen || !n.isLeaf() {
		return nil
	}
	return n
}

// Leaf returns the AABB and value stored under id.
func (b *BVH[V]) Leaf(id LeafID) (geom.AABB, V, bool) {
	n := b.leaf(id)
	if n == nil {
		var zero V
		return geom.AABB{}, zero, false
	}
	return n.aabb, n.value, true
}

// Insert adds a leaf and returns its handle.
func (b *BVH[V]) Insert(aabb geom.AABB, value V) LeafID {
	b.guard("insert")
	idx := b.alloc(bvhNode[V]{
		aabb:     aabb,
		parent:   nilNode,
		children: [2]int32{nilNode, nilNode},
		value:    value,
	})
	b.leaves++
	b.insertNode(idx)
	return LeafID{idx: idx, gen: b.nodes[idx].gen}
}

func (b *BVH[V]) insertNode(leaf int32) {
	if b.root == nilNode {
		b.root = leaf
		b.nodes[leaf].parent = nilNode
		return
	}

	aabb := b.nodes[leaf].aabb
	sibling := b.findBestSibling(aabb)
	oldParent := b.nodes[sibling].parent

	branch := b.alloc(bvhNode[V]{
		aabb:     aabb.Union(b.nodes[sibling].aabb),
		parent:   oldParent,
		children: [2]int32{sibling, leaf},
	})
	b.nodes[sibling].parent = branch
	b.nodes[leaf].parent = branch

	if oldParent == nilNode {
		b.root = branch
	} else {
		b.replaceChild(oldParent, sibling, branch)
	}

	for n := branch; n != nilNode; n = b.nodes[n].parent {
		b.refit(n)
		b.rotate(n)
	}
}

func (b *BVH[V]) replaceChild(parent, old, with int32) {
	c := &b.nodes[parent].children
	if c[0] == old {
		c[0] = with
	} else {
		c[1] = with
	}
}

func (b *BVH[V]) refit(n int32) {
	c := b.nodes[n].children
	b.nodes[n].aabb = b.nodes[c[0]].aabb.Union(b.nodes[c[1]].aabb)
}

type fbsCandidate struct {
	node      int32
	minCost   float64
	inherited float64
}

// fbsHeap pops the candidate with the lowest lower-bound cost first.
type fbsHeap []fbsCandidate

func (h fbsHeap) Len() int           { return len(h) }
func (h fbsHeap) Less(i, j int) bool { return h[i].minCost < h[j].minCost }
func (h fbsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *fbsHeap) Push(x any)        { *h = append(*h, x.(fbsCandidate)) }
func (h *fbsHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// findBestSibling minimises SA(L ∪ S) plus the growth of every non-root
// strict ancestor of S. The root is excluded because its growth is the same
// for every choice.
func (b *BVH[V]) findBestSibling(aabb geom.AABB) int32 {
	leafSA := aabb.SurfaceArea()
	best := nilNode
	bestCost := 0.0

	q := &fbsHeap{{node: b.root}}
	for q.Len() > 0 {
		c := heap.Pop(q).(fbsCandidate)
		if best != nilNode && c.minCost >= bestCost {
			continue
		}
		n := &b.nodes[c.node]
		direct := n.aabb.Union(aabb).SurfaceArea()
		cost := direct + c.inherited
		if best == nilNode || cost < bestCost {
			best = c.node
			bestCost = cost
		}
		if n.isLeaf() {
			continue
		}

		inherited := 0.0
		if c.node != b.root {
			inherited = c.inherited + direct - n.aabb.SurfaceArea()
		}
		minCost := leafSA + inherited
		if minCost >= bestCost {
			continue
		}
		heap.Push(q, fbsCandidate{node: n.children[0], minCost: minCost, inherited: inherited})
		heap.Push(q, fbsCandidate{node: n.children[1], minCost: minCost, inherited: inherited})
	}
	return best
}

// rotate applies the single grandchild swap under branch that lowers tree
// cost the most, if any lowers it at all. Candidates are ordered
// (main 0, grandchild 0), (0, 1), (1, 0), (1, 1); ties keep the first.
func (b *BVH[V]) rotate(branch int32) {
	children := b.nodes[branch].children
	bestIdx := -1
	bestCost := 0.0
	for mainIdx := 0; mainIdx < 2; mainIdx++ {
		main := &b.nodes[children[mainIdx]]
		if main.isLeaf() {
			continue
		}
		other := b.nodes[children[1-mainIdx]].aabb
		mainSA := main.aabb.SurfaceArea()
		for gcIdx := 0; gcIdx < 2; gcIdx++ {
			sibling := b.nodes[main.children[1-gcIdx]].aabb
			cost := other.Union(sibling).SurfaceArea() - mainSA
			if cost < bestCost {
				bestCost = cost
				bestIdx = mainIdx*2 + gcIdx
			}
		}
	}
	if bestIdx < 0 {
		return
	}

	mainIdx, gcIdx := bestIdx/2, bestIdx%2
	main := children[mainIdx]
	other := children[1-mainIdx]
	grandchild := b.nodes[main].children[gcIdx]

	b.nodes[branch].children[1-mainIdx] = grandchild
	b.nodes[main].children[gcIdx] = other
	b.nodes[other].parent = main
	b.nodes[grandchild].parent = branch
	b.refit(main)
}

// Remove deletes the leaf and returns its value. Nodes are spliced, never
// copied, so every other LeafID stays valid.
func (b *BVH[V]) Remove(id LeafID) (V, bool) {
	b.guard("remove")
	n := b.leaf(id)
	if n == nil {
		var zero V
		return zero, false
	}
	value := n.value
	b.detach(id.idx)
	b.release(id.idx)
	b.leaves--
	return value, true
}

// detach unlinks a leaf from the tree without freeing it.
func (b *BVH[V]) detach(leaf int32) {
	parent := b.nodes[leaf].parent
	b.nodes[leaf].parent = nilNode
	if parent == nilNode {
		b.root = nilNode
		return
	}

	pc := b.nodes[parent].children
	sibling := pc[0]
	if sibling == leaf {
		sibling = pc[1]
	}
	grand := b.nodes[parent].parent
	b.nodes[sibling].parent = grand
	if grand == nilNode {
		b.root = sibling
	} else {
		b.replaceChild(grand, parent, sibling)
		for n := grand; n != nilNode; n = b.nodes[n].parent {
			b.refit(n)
		}
	}
	b.release(parent)
}

// UpdateAABB moves a leaf. When the new box still fits inside the parent's
// box the ancestors are refit in place; otherwise the leaf is reinserted.
func (b *BVH[V]) UpdateAABB(id LeafID, aabb geom.AABB) bool {
	b.guard("update")
	n := b.leaf(id)
	if n == nil {
		return false
	}
	if p := n.parent; p != nilNode && b.nodes[p].aabb.Contains(aabb) {
		n.aabb = aabb
		for ; p != nilNode; p = b.nodes[p].parent {
			b.refit(p)
		}
		return true
	}
	b.detach(id.idx)
	b.nodes[id.idx].aabb = aabb
	b.insertNode(id.idx)
	return true
}

// Query calls visit for every leaf whose AABB intersects aabb, stopping
// early if visit returns false. The tree must not be mutated from visit, but
// visit may run nested queries.
func (b *BVH[V]) Query(aabb geom.AABB, visit func(LeafID, V) bool) {
	if b.root == nilNode {
		return
	}

	// Only the outermost query borrows the cached stack.
	var stack []int32
	if b.querying == 0 {
		stack = append(b.stack[:0], b.root)
		defer func() { b.stack = stack[:0] }()
	} else {
		stack = []int32{b.root}
	}
	b.querying++
	defer func() { b.querying-- }()
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[idx]
		if !n.aabb.Intersects(aabb) {
			continue
		}
		if n.isLeaf() {
			if !visit(LeafID{idx: idx, gen: n.gen}, n.value) {
				return
			}
			continue
		}
		stack = append(stack, n.children[0], n.children[1])
	}
}

// Walk visits every node depth-first, reporting its depth and whether it is a leaf.
func (b *BVH[V]) Walk(visit func(aabb geom.AABB, depth int, leaf bool)) {
	var rec func(idx int32, depth int)
	rec = func(idx int32, depth int) {
		n := &b.nodes[idx]
		visit(n.aabb, depth, n.isLeaf())
		if !n.isLeaf() {
			rec(n.children[0], depth+1)
			rec(n.children[1], depth+1)
		}
	}
	if b.root != nilNode {
		rec(b.root, 0)
	}
}

// check verifies structural invariants. Used by tests.
func (b *BVH[V]) check() error {
	if b.root == nilNode {
		if b.leaves != 0 {
			return fmt.Errorf("empty tree reports %d leaves", b.leaves)
		}
		return nil
	}
	if b.nodes[b.root].parent != nilNode {
		return fmt.Errorf("root has a parent")
	}
	leaves := 0
	var rec func(idx int32) error
	rec = func(idx int32) error {
		n := &b.nodes[idx]
		if n.isLeaf() {
			leaves++
			return nil
		}
		for _, c := range n.children {
			if b.nodes[c].parent != idx {
				return fmt.Errorf("node %d: child %d has parent %d", idx, c, b.nodes[c].parent)
			}
			if err := rec(c); err != nil {
				return err
			}
		}
		want := b.nodes[n.children[0]].aabb.Union(b.nodes[n.children[1]].aabb)
		if n.aabb != want {
			return fmt.Errorf("node %d: aabb %v, union of children %v", idx, n.aabb, want)
		}
		return nil
	}
	if err := rec(b.root); err != nil {
		return err
	}
	if leaves != b.leaves {
		return fmt.Errorf("counted %d leaves, tracking %d", leaves, b.leaves)
	}
	return nil
}
