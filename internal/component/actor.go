package component

import (
	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/geom"
)

// Actor is a named, optionally scripted mover.
// Pure data, zero methods: all mutations happen in system functions.
type Actor struct {
	Name   string
	Script string // mover name; empty means the actor only moves when nudged
}

// Body is an actor's physical state. Collider mirrors AABB in the collider
// bus so other actors collide with it.
type Body struct {
	AABB     geom.AABB
	Vel      geom.Vec2
	Collider *collide.Collider
	Moved    bool // set by physics, cleared once the move is replicated
}

// Nudge is a velocity override requested by a client. Physics consumes it
// on the next tick.
type Nudge struct {
	Vel geom.Vec2
}

// Mirror is the client-side copy of a replicated actor.
type Mirror struct {
	Node uint64 // rpc node id on the server
	Name string
	Pos  geom.Vec2
}
