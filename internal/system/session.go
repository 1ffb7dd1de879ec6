package system

import (
	"time"

	"github.com/heatgun/hg/internal/core/event"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/rpc"
	"go.uber.org/zap"
)

// SessionSystem rotates the event bus and puts joining peers into the world
// group so they receive every actor. Phase 1 (Events).
type SessionSystem struct {
	bus   *event.Bus
	rpc   *rpc.Server
	group *rpc.Group
	log   *zap.Logger
}

func NewSessionSystem(bus *event.Bus, rpcSrv *rpc.Server, group *rpc.Group, log *zap.Logger) *SessionSystem {
	s := &SessionSystem{bus: bus, rpc: rpcSrv, group: group, log: log}
	event.Subscribe(bus, s.joined)
	event.Subscribe(bus, s.quit)
	return s
}

func (s *SessionSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *SessionSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

func (s *SessionSystem) joined(ev event.SessionJoined) {
	p, ok := s.rpc.PeerOf(ev.Session)
	if !ok {
		// Disconnected within the same tick it logged in.
		return
	}
	s.group.AddPeer(p)
	s.log.Info("玩家進入世界",
		zap.String("帳號", ev.Username),
		zap.Uint64("peer", ev.PeerID),
		zap.Int("在線", s.group.PeerCount()))
}

func (s *SessionSystem) quit(ev event.SessionQuit) {
	if p, ok := s.rpc.PeerOf(ev.Session); ok {
		s.group.RemovePeer(p)
	}
	s.log.Info("玩家離開世界", zap.Uint64("peer", ev.PeerID), zap.Error(ev.Cause))
}
