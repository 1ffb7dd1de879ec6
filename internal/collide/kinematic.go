package collide

import "github.com/heatgun/hg/internal/geom"

const (
	DefaultMaxSubSteps = 10
	// slideEpsilon is the squared remaining length below which sliding stops.
	slideEpsilon = 1e-6
)

// CancelNormal removes the part of vel pointing into a surface with the
// given outward normal: v + max(0, -v·n)·n.
func CancelNormal(vel, normal geom.Vec2) geom.Vec2 {
	k := -vel.Dot(normal)
	if k < 0 {
		k = 0
	}
	return vel.Add(normal.Scale(k))
}

// SlideResult is where a move-and-slide ended up.
type SlideResult struct {
	AABB    geom.AABB
	Vel     geom.Vec2
	Steps   int
	Touched bool
}

// MoveAndSlide moves aabb by vel*dt against the bus, sliding along every
// surface it contacts. It takes at most maxSteps hull casts and returns
// the final box and the velocity with blocked components cancelled.
func MoveAndSlide(bus *Bus, aabb geom.AABB, vel geom.Vec2, dt float64, maxSteps int, filter Filter) SlideResult {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSubSteps
	}
	res := SlideResult{AABB: aabb, Vel: vel}
	remaining := vel.Scale(dt)

	for res.Steps < maxSteps && remaining.LenSquared() >= slideEpsilon {
		hit := bus.CastHull(res.AABB, remaining, filter)
		res.Steps++
		res.AABB = res.AABB.Translate(remaining.Scale(hit.T))
		if !hit.Hit {
			break
		}
		res.Touched = true
		remaining = CancelNormal(remaining.Scale(1-hit.T), hit.Normal)
		res.Vel = CancelNormal(res.Vel, hit.Normal)
	}
	return res
}
