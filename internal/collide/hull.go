package collide

import (
	"github.com/heatgun/hg/internal/geom"
)

// SafetyThreshold is the default padding applied to occluders so casters
// come to rest slightly short of solid geometry instead of flush with it.
const SafetyThreshold = 1e-3

// HullResult is the outcome of a hull cast: the traversable fraction of the
// requested delta and, on contact, the outward normal of the face hit.
type HullResult struct {
	T      float64
	Normal geom.Vec2
	Hit    bool
	// Corner marks a contact made only at an edge of the padded box.
	Corner bool
}

// Clear is the result of a cast that hit nothing.
func Clear() HullResult { return HullResult{T: 1} }

// Min keeps the earlier of two results. On a tie a face contact beats a
// corner contact, otherwise r is kept.
func (r HullResult) Min(o HullResult) HullResult {
	if o.Hit && (!r.Hit || o.T < r.T || (o.T == r.T && r.Corner && !o.Corner)) {
		return o
	}
	return r
}

// Full reports whether the whole delta is traversable.
func (r HullResult) Full() bool { return !r.Hit }

// HullCastRequest sweeps Start by Delta.
type HullCastRequest struct {
	Start geom.AABB
	Delta geom.Vec2
	Eps   float64
}

func NewHullCast(start geom.AABB, delta geom.Vec2) HullCastRequest {
	return HullCastRequest{Start: start, Delta: delta, Eps: SafetyThreshold}
}

func (r HullCastRequest) End() geom.AABB { return r.Start.Translate(r.Delta) }

// Candidate bounds everything the sweep can touch, padding included.
func (r HullCastRequest) Candidate() geom.AABB {
	return r.Start.Union(r.End()).Grow(r.Eps)
}

// overlapsOpen reports whether [a0, a1] and [b0, b1] share interior points.
func overlapsOpen(a0, a1, b0, b1 float64) bool {
	return a0 < b1 && b0 < a1
}

// entersAcross reports whether [a0, a1], touching [b0, b1] only at an end,
// moves by d into the other range.
func entersAcross(a0, a1, b0, b1, d float64) bool {
	return (a1 == b0 && d > 0) || (a0 == b1 && d < 0)
}

// Cast tests the sweep against one solid occluder. For each axis the face
// of the occluder opposing the motion is padded outward by Eps; the result
// is the earliest contact over both axes. A caster already straddling a
// padded face may only move along or away from its normal.
func (r HullCastRequest) Cast(occluder geom.AABB) HullResult {
	result := Clear()
	padded := occluder.Grow(r.Eps)

	for _, ax := range [2]geom.Axis{geom.AxisX, geom.AxisY} {
		d := r.Delta.Get(ax)
		if d == 0 {
			continue
		}
		perp := ax.Perp()

		var face, near, sign float64
		if d > 0 {
			sign = 1
			face = padded.Min.Get(ax)
			near = r.Start.Max.Get(ax)
		} else {
			sign = -1
			face = padded.Max.Get(ax)
			near = r.Start.Min.Get(ax)
		}
		normal := geom.Unit(ax, -sign)

		lo, hi := r.Start.Range(ax)
		plo, phi := padded.Range(perp)
		if lo <= face && face <= hi {
			// Straddling the face: any motion into it is blocked outright.
			slo, shi := r.Start.Range(perp)
			overlap := overlapsOpen(slo, shi, plo, phi)
			if (overlap || entersAcross(slo, shi, plo, phi, r.Delta.Get(perp))) && r.Delta.Dot(normal) < 0 {
				result = result.Min(HullResult{T: 0, Normal: normal, Hit: true, Corner: !overlap})
			}
			continue
		}
		if sign*(face-near) < 0 {
			continue // already past this face
		}

		t := (face - near) / d
		if t > 1 {
			continue
		}
		if t < 0 {
			t = 0
		}
		at := r.Start.Translate(r.Delta.Scale(t))
		slo, shi := at.Range(perp)
		// Touching on the perpendicular axis is a graze unless the caster
		// is also moving into the box there, which is a corner hit.
		overlap := overlapsOpen(slo, shi, plo, phi)
		if !overlap && !entersAcross(slo, shi, plo, phi, r.Delta.Get(perp)) {
			continue
		}
		result = result.Min(HullResult{T: t, Normal: normal, Hit: true, Corner: !overlap})
	}
	return result
}
