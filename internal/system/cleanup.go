package system

import (
	"time"

	"github.com/heatgun/hg/internal/core/ecs"
	coresys "github.com/heatgun/hg/internal/core/system"
)

// CleanupSystem applies deferred component removals and entity destruction
// at tick end. Phase 5 (Cleanup).
type CleanupSystem struct {
	world *ecs.World
}

func NewCleanupSystem(world *ecs.World) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.world.Flush()
}
