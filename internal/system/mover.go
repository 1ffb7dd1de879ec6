package system

import (
	"time"

	"github.com/heatgun/hg/internal/component"
	"github.com/heatgun/hg/internal/core/ecs"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/geom"
	"github.com/heatgun/hg/internal/scripting"
	"go.uber.org/zap"
)

// MoverSystem asks each scripted actor's Lua mover for this tick's velocity.
// Phase 2 (Update).
type MoverSystem struct {
	world   *ecs.World
	scripts *scripting.Engine
	log     *zap.Logger

	elapsed time.Duration
	failed  map[ecs.EntityID]struct{} // actors whose mover already errored
}

func NewMoverSystem(world *ecs.World, scripts *scripting.Engine, log *zap.Logger) *MoverSystem {
	return &MoverSystem{
		world:   world,
		scripts: scripts,
		log:     log,
		failed:  make(map[ecs.EntityID]struct{}),
	}
}

func (s *MoverSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *MoverSystem) Update(dt time.Duration) {
	s.elapsed += dt
	t := s.elapsed.Seconds()

	for row := range ecs.Query2[component.Actor, component.Body](s.world) {
		actor, body := row.C1, row.C2
		if actor.Script == "" || s.world.Condemned(row.Entity) {
			continue
		}
		if _, bad := s.failed[row.Entity]; bad {
			continue
		}
		vx, vy, err := s.scripts.Step(actor.Script, uint64(row.Entity), t, body.AABB.Min.X, body.AABB.Min.Y)
		if err != nil {
			s.failed[row.Entity] = struct{}{}
			body.Vel = geom.Vec2{}
			s.log.Warn("移動腳本執行失敗，角色停止",
				zap.String("角色", actor.Name),
				zap.String("腳本", actor.Script),
				zap.Error(err))
			continue
		}
		body.Vel.X, body.Vel.Y = vx, vy
	}

	for e := range s.failed {
		if !s.world.Alive(e) {
			delete(s.failed, e)
		}
	}
}
