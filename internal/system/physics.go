package system

import (
	"math"
	"time"

	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/component"
	"github.com/heatgun/hg/internal/core/ecs"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/data"
)

// PhysicsSystem slides every body by its velocity against the collider bus.
// Phase 3 (Physics).
type PhysicsSystem struct {
	world    *ecs.World
	bus      *collide.Bus
	maxSteps int
}

// NewPhysicsSystem also unregisters a body's collider when the body leaves
// the world.
func NewPhysicsSystem(world *ecs.World, bus *collide.Bus, maxSteps int) *PhysicsSystem {
	ecs.OnRemove(world, func(_ ecs.EntityID, b *component.Body) {
		if b.Collider != nil {
			bus.Unregister(b.Collider)
		}
	})
	return &PhysicsSystem{world: world, bus: bus, maxSteps: maxSteps}
}

func (s *PhysicsSystem) Phase() coresys.Phase { return coresys.PhasePhysics }

func (s *PhysicsSystem) Update(dt time.Duration) {
	secs := dt.Seconds()
	for e, body := range ecs.Query1[component.Body](s.world) {
		if n, ok := ecs.Get[component.Nudge](s.world, e); ok {
			body.Vel = n.Vel
			_ = ecs.Remove[component.Nudge](s.world, e)
		}
		if body.Vel.IsZero() || !finite(body.Vel.X) || !finite(body.Vel.Y) {
			continue
		}

		filter := collide.MaskFilter(data.MaskWorld | MaskActor)
		if body.Collider != nil {
			filter = filter.Except(body.Collider)
		}
		res := collide.MoveAndSlide(s.bus, body.AABB, body.Vel, secs, s.maxSteps, filter)
		body.Vel = res.Vel
		if res.AABB == body.AABB {
			continue
		}
		body.AABB = res.AABB
		body.Moved = true
		if body.Collider != nil {
			body.Collider.SetAABB(res.AABB)
		}
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
