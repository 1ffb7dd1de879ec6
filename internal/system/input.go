package system

import (
	"time"

	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/mp"
)

// InputSystem flushes last tick's replication and drains transport events
// into sessions. Phase 0 (Net).
type InputSystem struct {
	mp *mp.Server
}

func NewInputSystem(srv *mp.Server) *InputSystem {
	return &InputSystem{mp: srv}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseNet }

func (s *InputSystem) Update(_ time.Duration) {
	s.mp.Process()
}

// ClientInputSystem pumps the client connection. Phase 0 (Net).
type ClientInputSystem struct {
	mp *mp.Client
}

func NewClientInputSystem(c *mp.Client) *ClientInputSystem {
	return &ClientInputSystem{mp: c}
}

func (s *ClientInputSystem) Phase() coresys.Phase { return coresys.PhaseNet }

func (s *ClientInputSystem) Update(_ time.Duration) {
	s.mp.Process()
}
