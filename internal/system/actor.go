package system

import (
	"fmt"
	"math"

	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/component"
	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/data"
	"github.com/heatgun/hg/internal/geom"
	"github.com/heatgun/hg/internal/net/packet"
	"github.com/heatgun/hg/internal/rpc"
)

// ActorKind is the replicated kind name of actors.
const ActorKind = "actor"

// MaskActor is the collider mask bit of actor bodies.
const MaskActor = collide.Mask(2)

// MaxNudgeSpeed caps client-requested velocities.
const MaxNudgeSpeed = 200.0

// ActorCatchup is the state a peer needs to create an actor mirror.
type ActorCatchup struct {
	Name string
	X, Y float32
}

func (c ActorCatchup) Encode(w *packet.Writer) {
	w.WriteS(c.Name)
	w.WriteF32(c.X)
	w.WriteF32(c.Y)
}

func (c *ActorCatchup) Decode(r *packet.Reader) error {
	c.Name = r.ReadS()
	c.X = r.ReadF32()
	c.Y = r.ReadF32()
	return r.Err()
}

// SetPos is broadcast whenever an actor moves.
type SetPos struct {
	X, Y float32
}

func (m SetPos) Encode(w *packet.Writer) {
	w.WriteF32(m.X)
	w.WriteF32(m.Y)
}

func (m *SetPos) Decode(r *packet.Reader) error {
	m.X = r.ReadF32()
	m.Y = r.ReadF32()
	return r.Err()
}

// NudgeMsg is sent by clients to push an actor for one tick.
type NudgeMsg struct {
	VX, VY float32
}

func (m NudgeMsg) Encode(w *packet.Writer) {
	w.WriteF32(m.VX)
	w.WriteF32(m.VY)
}

func (m *NudgeMsg) Decode(r *packet.Reader) error {
	m.VX = r.ReadF32()
	m.VY = r.ReadF32()
	return r.Err()
}

func posOf(b *component.Body) SetPos {
	return SetPos{X: float32(b.AABB.Min.X), Y: float32(b.AABB.Min.Y)}
}

// NewActorServerKind builds the server half of the actor kind.
func NewActorServerKind(world *ecs.World) *rpc.ServerKind {
	return &rpc.ServerKind{
		Name: ActorKind,
		Catchup: func(n *rpc.Node, _ *rpc.Peer) packet.Encoder {
			var c ActorCatchup
			if a, ok := ecs.Get[component.Actor](world, n.Entity()); ok {
				c.Name = a.Name
			}
			if b, ok := ecs.Get[component.Body](world, n.Entity()); ok {
				p := posOf(b)
				c.X, c.Y = p.X, p.Y
			}
			return c
		},
		Process: func(n *rpc.Node, _ *rpc.Peer, r *packet.Reader) error {
			var m NudgeMsg
			if err := m.Decode(r); err != nil {
				return err
			}
			vel := geom.V(float64(m.VX), float64(m.VY))
			if math.IsNaN(vel.X) || math.IsNaN(vel.Y) {
				return fmt.Errorf("nudge: NaN velocity")
			}
			if l := vel.Len(); l > MaxNudgeSpeed {
				vel = vel.Scale(MaxNudgeSpeed / l)
			}
			return ecs.Add(world, n.Entity(), component.Nudge{Vel: vel})
		},
	}
}

// NewActorClientKind builds the client half of the actor kind. Mirrors are
// plain entities carrying a component.Mirror.
func NewActorClientKind() *rpc.ClientKind {
	return &rpc.ClientKind{
		Name: ActorKind,
		Create: func(c *rpc.Client, id rpc.NodeID, r *packet.Reader) (ecs.EntityID, error) {
			var cu ActorCatchup
			if err := cu.Decode(r); err != nil {
				return 0, err
			}
			e := c.World().NewEntity()
			m := component.Mirror{Node: uint64(id), Name: cu.Name, Pos: geom.V(float64(cu.X), float64(cu.Y))}
			return e, ecs.Add(c.World(), e, m)
		},
		Process: func(n *rpc.ClientNode, r *packet.Reader) error {
			var m SetPos
			if err := m.Decode(r); err != nil {
				return err
			}
			if mir, ok := ecs.Get[component.Mirror](n.Client().World(), n.Entity()); ok {
				mir.Pos = geom.V(float64(m.X), float64(m.Y))
			}
			return nil
		},
	}
}

// SpawnActor creates an actor entity from a level spawn, registers its body
// with the collider bus and replicates it through group.
func SpawnActor(world *ecs.World, bus *collide.Bus, srv *rpc.Server, kind *rpc.ServerKind, group *rpc.Group, sp data.Spawn) (ecs.EntityID, error) {
	e := world.NewEntity()
	col := collide.NewCollider(sp.Name, sp.AABB(), MaskActor)
	if err := ecs.Add(world, e, component.Actor{Name: sp.Name, Script: sp.Script}); err != nil {
		return 0, err
	}
	if err := ecs.Add(world, e, component.Body{AABB: sp.AABB(), Collider: col}); err != nil {
		return 0, err
	}
	bus.Register(col)

	n, err := srv.RegisterNode(e, kind)
	if err != nil {
		world.Destroy(e)
		return 0, fmt.Errorf("spawn %s: %w", sp.Name, err)
	}
	group.AddNode(n, nil)
	return e, nil
}
