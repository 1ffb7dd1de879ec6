package system

import (
	"time"

	"github.com/heatgun/hg/internal/component"
	"github.com/heatgun/hg/internal/core/ecs"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/rpc"
)

// ReplicateSystem broadcasts the new position of every body that moved this
// tick. The frames go out on the next Net phase flush. Phase 4 (Replicate).
type ReplicateSystem struct {
	world *ecs.World
	rpc   *rpc.Server
}

func NewReplicateSystem(world *ecs.World, rpcSrv *rpc.Server) *ReplicateSystem {
	return &ReplicateSystem{world: world, rpc: rpcSrv}
}

func (s *ReplicateSystem) Phase() coresys.Phase { return coresys.PhaseReplicate }

func (s *ReplicateSystem) Update(_ time.Duration) {
	for e, body := range ecs.Query1[component.Body](s.world) {
		if !body.Moved {
			continue
		}
		body.Moved = false
		if n, ok := s.rpc.NodeOf(e); ok {
			n.Broadcast(posOf(body))
		}
	}
}
