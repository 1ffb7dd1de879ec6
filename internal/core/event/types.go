package event

import "github.com/heatgun/hg/internal/core/ecs"

// SessionJoined fires once a session has completed its hello and owns an
// rpc peer.
type SessionJoined struct {
	Session  ecs.EntityID
	PeerID   uint64
	Username string
}

// SessionQuit fires when a joined session's transport peer disconnects.
type SessionQuit struct {
	Session ecs.EntityID
	PeerID  uint64
	Cause   error
}
