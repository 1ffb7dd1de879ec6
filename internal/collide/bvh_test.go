package collide

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/heatgun/hg/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(b *BVH[string], q geom.AABB) []string {
	var out []string
	b.Query(q, func(_ LeafID, v string) bool {
		out = append(out, v)
		return true
	})
	sort.Strings(out)
	return out
}

func TestBVHThreeLeaves(t *testing.T) {
	b := NewBVH[string]()
	b.Insert(geom.NewAABB(geom.V(0, 0), geom.V(1, 1)), "L1")
	b.Insert(geom.NewAABB(geom.V(10, 10), geom.V(11, 11)), "L2")
	b.Insert(geom.NewAABB(geom.V(0.5, 0.5), geom.V(1.5, 1.5)), "L3")
	require.NoError(t, b.check())

	root, ok := b.Root()
	require.True(t, ok)
	assert.Equal(t, geom.NewAABB(geom.V(0, 0), geom.V(11, 11)), root)
	assert.Equal(t, []string{"L1", "L3"}, collect(b, geom.NewAABB(geom.V(0, 0), geom.V(2, 2))))
}

func TestBVHFirstInsertIsRoot(t *testing.T) {
	b := NewBVH[int]()
	id := b.Insert(geom.Rect(0, 0, 1, 1), 7)
	root, ok := b.Root()
	require.True(t, ok)
	assert.Equal(t, geom.Rect(0, 0, 1, 1), root)
	_, v, ok := b.Leaf(id)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	got, ok := b.Remove(id)
	require.True(t, ok)
	assert.Equal(t, 7, got)
	_, ok = b.Root()
	assert.False(t, ok)
	_, ok = b.Remove(id)
	assert.False(t, ok, "stale handle")
}

func TestBVHRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := NewBVH[int]()
	live := map[int]LeafID{}
	boxes := map[int]geom.AABB{}

	randBox := func() geom.AABB {
		x, y := rng.Float64()*100, rng.Float64()*100
		return geom.Rect(x, y, 0.5+rng.Float64()*5, 0.5+rng.Float64()*5)
	}

	next := 0
	for step := 0; step < 600; step++ {
		switch op := rng.Intn(4); {
		case op <= 1 || len(live) == 0:
			box := randBox()
			live[next] = b.Insert(box, next)
			boxes[next] = box
			next++
		case op == 2:
			for k, id := range live {
				v, ok := b.Remove(id)
				require.True(t, ok)
				require.Equal(t, k, v)
				delete(live, k)
				delete(boxes, k)
				break
			}
		default:
			for k, id := range live {
				box := randBox()
				require.True(t, b.UpdateAABB(id, box))
				boxes[k] = box
				break
			}
		}
		require.NoError(t, b.check(), "step %d", step)
		require.Equal(t, len(live), b.Len())
	}

	for i := 0; i < 50; i++ {
		q := randBox()
		var want []int
		for k, box := range boxes {
			if box.Intersects(q) {
				want = append(want, k)
			}
		}
		var got []int
		b.Query(q, func(_ LeafID, v int) bool {
			got = append(got, v)
			return true
		})
		assert.ElementsMatch(t, want, got)
	}

	for k, id := range live {
		box, v, ok := b.Leaf(id)
		require.True(t, ok, "leaf handles survive rotations")
		assert.Equal(t, k, v)
		assert.Equal(t, boxes[k], box)
	}
}

func TestBVHQueryStopsAndForbidsMutation(t *testing.T) {
	b := NewBVH[int]()
	for i := 0; i < 8; i++ {
		b.Insert(geom.Rect(float64(i), 0, 1, 1), i)
	}
	n := 0
	b.Query(geom.Rect(0, 0, 10, 1), func(LeafID, int) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)

	assert.Panics(t, func() {
		b.Query(geom.Rect(0, 0, 10, 1), func(LeafID, int) bool {
			b.Insert(geom.Rect(0, 0, 1, 1), 99)
			return true
		})
	})
}

func TestBVHNestedQuery(t *testing.T) {
	b := NewBVH[int]()
	for i := 0; i < 16; i++ {
		b.Insert(geom.Rect(float64(i%4)*2, float64(i/4)*2, 1, 1), i)
	}
	all := geom.Rect(0, 0, 8, 8)
	warm := 0
	b.Query(all, func(LeafID, int) bool {
		warm++
		return true
	})
	require.Equal(t, 16, warm)

	outer, inner := 0, 0
	b.Query(all, func(LeafID, int) bool {
		outer++
		b.Query(geom.Rect(0, 0, 1, 1), func(_ LeafID, v int) bool {
			assert.Equal(t, 0, v)
			inner++
			return true
		})
		return true
	})
	assert.Equal(t, 16, outer)
	assert.Equal(t, 16, inner)

	// The cached stack is usable again once the outer query returns.
	warm = 0
	b.Query(all, func(LeafID, int) bool {
		warm++
		return true
	})
	assert.Equal(t, 16, warm)
}
