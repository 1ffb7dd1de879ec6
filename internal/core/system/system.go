package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseNet       Phase = iota // 0: flush replication, drain transport events
	PhaseEvents                 // 1: dispatch last tick's join/quit events
	PhaseUpdate                 // 2: scripted movers, game logic
	PhasePhysics                // 3: move-and-slide against the collider bus
	PhaseReplicate              // 4: broadcast state changes to visible peers
	PhaseCleanup                // 5: flush deferred removals and destruction
)

func (p Phase) String() string {
	switch p {
	case PhaseNet:
		return "net"
	case PhaseEvents:
		return "events"
	case PhaseUpdate:
		return "update"
	case PhasePhysics:
		return "physics"
	case PhaseReplicate:
		return "replicate"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every ECS system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Func adapts a plain function to System.
type Func struct {
	P  Phase
	Fn func(dt time.Duration)
}

func (f Func) Phase() Phase            { return f.P }
func (f Func) Update(dt time.Duration) { f.Fn(dt) }
