package collide

import (
	"fmt"

	"github.com/heatgun/hg/internal/geom"
)

// Mask selects which colliders a query considers.
type Mask uint64

const (
	MaskNone Mask = 0
	MaskAll  Mask = ^Mask(0)
)

func MaskBit(at int) Mask { return 1 << at }

func (m Mask) Intersects(o Mask) bool { return m&o != 0 }
func (m Mask) String() string         { return fmt.Sprintf("%b", uint64(m)) }

// Material is a custom collision shape living inside a collider's bounds,
// such as a tile grid.
type Material interface {
	CastHull(req HullCastRequest) HullResult
	CheckAABB(aabb geom.AABB) bool
}

type MatKind int

const (
	MatSolid MatKind = iota
	MatDisabled
	MatCustom
)

// Collider is one occluder registered with a Bus.
type Collider struct {
	Name   string
	Mask   Mask
	Kind   MatKind
	Custom Material

	bus  *Bus
	leaf LeafID
	aabb geom.AABB
}

func NewCollider(name string, aabb geom.AABB, mask Mask) *Collider {
	return &Collider{Name: name, Mask: mask, aabb: aabb}
}

func (c *Collider) AABB() geom.AABB { return c.aabb }

// SetAABB moves the collider, updating its bus if it is registered.
func (c *Collider) SetAABB(aabb geom.AABB) {
	c.aabb = aabb
	if c.bus != nil {
		c.bus.tree.UpdateAABB(c.leaf, aabb)
	}
}

// Registered reports whether the collider belongs to a bus.
func (c *Collider) Registered() bool { return c.bus != nil }

// Filter decides whether a collider takes part in a query.
type Filter func(c *Collider) bool

// MaskFilter accepts colliders whose mask intersects m.
func MaskFilter(m Mask) Filter {
	return func(c *Collider) bool { return c.Mask.Intersects(m) }
}

// Except wraps f to also reject the given colliders, typically the caster's
// own.
func (f Filter) Except(skip ...*Collider) Filter {
	return func(c *Collider) bool {
		for _, s := range skip {
			if c == s {
				return false
			}
		}
		return f == nil || f(c)
	}
}

// Bus is the broad phase: every registered collider lives in one BVH.
type Bus struct {
	tree *BVH[*Collider]
	Eps  float64
}

func NewBus(eps float64) *Bus {
	if eps <= 0 {
		eps = SafetyThreshold
	}
	return &Bus{tree: NewBVH[*Collider](), Eps: eps}
}

func (b *Bus) Len() int { return b.tree.Len() }

func (b *Bus) Register(c *Collider) {
	if c.bus != nil {
		panic(fmt.Sprintf("collide: collider %q registered twice", c.Name))
	}
	c.bus = b
	c.leaf = b.tree.Insert(c.aabb, c)
}

func (b *Bus) Unregister(c *Collider) {
	if c.bus != b {
		return
	}
	b.tree.Remove(c.leaf)
	c.bus = nil
}

// Lookup visits every collider whose bounds intersect aabb until fn
// returns false.
func (b *Bus) Lookup(aabb geom.AABB, fn func(c *Collider) bool) {
	b.tree.Query(aabb, func(_ LeafID, c *Collider) bool { return fn(c) })
}

// CheckAABB reports whether any accepted collider blocks aabb.
func (b *Bus) CheckAABB(aabb geom.AABB, filter Filter) bool {
	hit := false
	b.Lookup(aabb, func(c *Collider) bool {
		if filter != nil && !filter(c) {
			return true
		}
		switch c.Kind {
		case MatSolid:
			hit = true
		case MatCustom:
			hit = c.Custom.CheckAABB(aabb)
		}
		return !hit
	})
	return hit
}

// CastHull sweeps start by delta against every accepted collider.
func (b *Bus) CastHull(start geom.AABB, delta geom.Vec2, filter Filter) HullResult {
	req := HullCastRequest{Start: start, Delta: delta, Eps: b.Eps}
	result := Clear()
	b.Lookup(req.Candidate(), func(c *Collider) bool {
		if filter != nil && !filter(c) {
			return true
		}
		switch c.Kind {
		case MatSolid:
			result = result.Min(req.Cast(c.aabb))
		case MatCustom:
			result = result.Min(c.Custom.CastHull(req))
		}
		return true
	})
	return result
}
