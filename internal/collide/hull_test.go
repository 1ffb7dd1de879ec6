package collide

import (
	"testing"

	"github.com/heatgun/hg/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHullCastSingleWall(t *testing.T) {
	wall := geom.NewAABB(geom.V(0, 0), geom.V(100, 100))

	touching := NewHullCast(geom.NewAABB(geom.V(-50, 40), geom.V(0, 60)), geom.V(200, 0))
	res := touching.Cast(wall)
	require.True(t, res.Hit)
	assert.Equal(t, 0.0, res.T)
	assert.Equal(t, geom.V(-1, 0), res.Normal)

	apart := NewHullCast(geom.NewAABB(geom.V(-60, 40), geom.V(-10, 60)), geom.V(200, 0))
	res = apart.Cast(wall)
	require.True(t, res.Hit)
	assert.InDelta(t, 0.05, res.T, 1e-4)
	assert.Equal(t, geom.V(-1, 0), res.Normal)

	// The reported fraction stops the caster outside the padded wall.
	end := apart.Start.Translate(apart.Delta.Scale(res.T))
	assert.LessOrEqual(t, end.Max.X, wall.Min.X-SafetyThreshold+1e-9)
}

func TestHullCastTouchingAllowsSlidingAndLeaving(t *testing.T) {
	wall := geom.NewAABB(geom.V(0, 0), geom.V(100, 100))
	start := geom.NewAABB(geom.V(-50, 40), geom.V(0, 60))

	assert.True(t, NewHullCast(start, geom.V(-20, 0)).Cast(wall).Full(), "moving away")
	assert.True(t, NewHullCast(start, geom.V(0, 15)).Cast(wall).Full(), "sliding along the face")
}

func TestHullCastCornerApproach(t *testing.T) {
	box := geom.Rect(0, 0, 8, 8)
	req := HullCastRequest{Start: geom.Rect(-4, -4, 2, 2), Delta: geom.V(8, 8), Eps: 0.25}
	res := req.Cast(box)
	require.True(t, res.Hit, "diagonal sweep into the corner")
	assert.True(t, res.Corner)
	assert.Equal(t, 0.21875, res.T)
	end := req.Start.Translate(req.Delta.Scale(res.T))
	assert.Equal(t, geom.V(-0.25, -0.25), end.Max)

	// Resting on the corner: diagonal motion inward is blocked, motion that
	// only grazes the corner is not.
	rest := geom.Rect(-2.25, -2.25, 2, 2)
	inward := HullCastRequest{Start: rest, Delta: geom.V(4, 4), Eps: 0.25}.Cast(box)
	require.True(t, inward.Hit)
	assert.Equal(t, 0.0, inward.T)
	assert.True(t, HullCastRequest{Start: rest, Delta: geom.V(4, -4), Eps: 0.25}.Cast(box).Full())
	assert.True(t, HullCastRequest{Start: rest, Delta: geom.V(-4, 4), Eps: 0.25}.Cast(box).Full())
}

func TestSlideAcrossTileSeamCorner(t *testing.T) {
	bus := NewBus(0.25)
	bus.Register(NewCollider("a", geom.Rect(0, 10, 10, 5), MaskAll))
	bus.Register(NewCollider("b", geom.Rect(10, 10, 10, 5), MaskAll))

	// Flush with the floor and with the seam: the face of a wins the tie
	// against the corner of b, so only the downward push is cancelled.
	res := MoveAndSlide(bus, geom.Rect(7.75, 7.75, 2, 2), geom.V(4, 4), 1, DefaultMaxSubSteps, nil)
	assert.Equal(t, geom.V(4, 0), res.Vel)
	assert.InDelta(t, 11.75, res.AABB.Min.X, 1e-9)
	assert.InDelta(t, 7.75, res.AABB.Min.Y, 1e-9)
}

func TestHullCastMisses(t *testing.T) {
	wall := geom.Rect(0, 0, 10, 10)
	above := geom.Rect(-20, -30, 5, 5)
	assert.True(t, NewHullCast(above, geom.V(100, 0)).Cast(wall).Full())
	assert.True(t, NewHullCast(geom.Rect(-20, 0, 5, 5), geom.V(10, 0)).Cast(wall).Full(), "too short")

	// Diagonal approach reaching the top face first.
	res := NewHullCast(geom.Rect(2, -10, 2, 2), geom.V(0, 20)).Cast(wall)
	require.True(t, res.Hit)
	assert.Equal(t, geom.V(0, -1), res.Normal)
	assert.InDelta(t, (8-SafetyThreshold)/20, res.T, 1e-9)
}

func TestBusCastAndCheck(t *testing.T) {
	bus := NewBus(SafetyThreshold)
	floor := NewCollider("floor", geom.Rect(0, 10, 100, 5), MaskBit(0))
	ghost := NewCollider("ghost", geom.Rect(20, 0, 5, 10), MaskBit(1))
	off := NewCollider("off", geom.Rect(40, 0, 5, 10), MaskBit(0))
	off.Kind = MatDisabled
	bus.Register(floor)
	bus.Register(ghost)
	bus.Register(off)
	assert.Equal(t, 3, bus.Len())

	box := geom.Rect(10, 0, 2, 2)
	res := bus.CastHull(box, geom.V(0, 20), MaskFilter(MaskBit(0)))
	require.True(t, res.Hit)
	assert.Equal(t, geom.V(0, -1), res.Normal)

	assert.True(t, bus.CastHull(box, geom.V(50, 0), MaskFilter(MaskBit(0))).Full(), "ghost and disabled walls are ignored")
	assert.True(t, bus.CastHull(box, geom.V(50, 0), MaskFilter(MaskAll)).Hit)

	assert.True(t, bus.CheckAABB(geom.Rect(50, 9, 2, 2), nil))
	assert.False(t, bus.CheckAABB(geom.Rect(41, 0, 2, 2), nil))

	self := NewCollider("self", box, MaskAll)
	bus.Register(self)
	assert.False(t, bus.CheckAABB(box, MaskFilter(MaskAll).Except(self)))
	bus.Unregister(self)
	assert.False(t, self.Registered())

	floor.SetAABB(geom.Rect(0, 50, 100, 5))
	assert.True(t, bus.CastHull(box, geom.V(0, 20), MaskFilter(MaskBit(0))).Full())
}

func TestTileGridMaterial(t *testing.T) {
	grid := NewTileGrid(geom.V(0, 0), 1, 10, 10)
	for x := 0; x < 10; x++ {
		grid.Set(x, 9, true)
	}
	grid.Set(5, 8, true)

	bus := NewBus(SafetyThreshold)
	c := NewCollider("tiles", grid.Bounds(), MaskAll)
	c.Kind = MatCustom
	c.Custom = grid
	bus.Register(c)

	box := geom.Rect(1, 7, 0.5, 0.5)
	res := bus.CastHull(box, geom.V(0, 5), nil)
	require.True(t, res.Hit)
	assert.Equal(t, geom.V(0, -1), res.Normal)
	assert.InDelta(t, (9-7.5-SafetyThreshold)/5, res.T, 1e-9)

	res = bus.CastHull(geom.Rect(1, 8.2, 0.5, 0.5), geom.V(8, 0), nil)
	require.True(t, res.Hit, "bump into the raised tile")
	assert.Equal(t, geom.V(-1, 0), res.Normal)

	assert.True(t, grid.CheckAABB(geom.Rect(5.2, 8.2, 0.2, 0.2)))
	assert.False(t, grid.CheckAABB(geom.Rect(2.2, 2.2, 0.2, 0.2)))
}

func TestMoveAndSlideAlongFloor(t *testing.T) {
	bus := NewBus(SafetyThreshold)
	bus.Register(NewCollider("floor", geom.Rect(-100, 10, 200, 5), MaskAll))

	box := geom.Rect(0, 0, 2, 2)
	res := MoveAndSlide(bus, box, geom.V(10, 20), 1, DefaultMaxSubSteps, nil)
	assert.True(t, res.Touched)
	assert.InDelta(t, 10-SafetyThreshold, res.AABB.Max.Y, 1e-6, "rests just above the floor")
	assert.InDelta(t, 10, res.AABB.Min.X, 1e-6, "horizontal motion is preserved")
	assert.Equal(t, 0.0, res.Vel.Y)
	assert.Equal(t, 10.0, res.Vel.X)
	assert.LessOrEqual(t, res.Steps, DefaultMaxSubSteps)

	// Resting on the floor, sideways motion is not blocked.
	again := MoveAndSlide(bus, res.AABB, geom.V(5, 0), 1, DefaultMaxSubSteps, nil)
	assert.False(t, again.Touched)
	assert.InDelta(t, res.AABB.Min.X+5, again.AABB.Min.X, 1e-9)
}

func TestCancelNormal(t *testing.T) {
	n := geom.V(0, -1)
	assert.Equal(t, geom.V(3, 0), CancelNormal(geom.V(3, 4), n))
	assert.Equal(t, geom.V(3, -4), CancelNormal(geom.V(3, -4), n), "moving away is untouched")
}
