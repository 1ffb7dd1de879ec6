package mp

import (
	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/core/event"
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/rpc"
	"go.uber.org/zap"
)

type SessionState uint8

const (
	StateLogin SessionState = iota
	StatePlay
)

func (s SessionState) String() string {
	if s == StatePlay {
		return "play"
	}
	return "login"
}

// Session is attached to the entity that represents one connected peer.
type Session struct {
	Peer     hgnet.PeerID
	State    SessionState
	Username string
	Style    uint8
}

// Server binds a server transport to a replication graph. Each session is an
// entity; it owns an rpc peer once its hello has been accepted.
type Server struct {
	world    *ecs.World
	tr       *hgnet.ServerTransport
	rpc      *rpc.Server
	bus      *event.Bus
	log      *zap.Logger
	sessions map[hgnet.PeerID]ecs.EntityID

	onShutdown func(cause error)
}

func NewServer(world *ecs.World, tr *hgnet.ServerTransport, rpcSrv *rpc.Server, bus *event.Bus, log *zap.Logger) *Server {
	return &Server{
		world:    world,
		tr:       tr,
		rpc:      rpcSrv,
		bus:      bus,
		log:      log.Named("mp"),
		sessions: make(map[hgnet.PeerID]ecs.EntityID),
	}
}

// OnShutdown sets the callback run when the listener stops.
func (s *Server) OnShutdown(fn func(cause error)) { s.onShutdown = fn }

func (s *Server) SessionCount() int { return len(s.sessions) }

// Session returns the session entity of a transport peer.
func (s *Server) Session(id hgnet.PeerID) (ecs.EntityID, bool) {
	e, ok := s.sessions[id]
	return e, ok
}

// Process flushes queued replication, then drains transport events. Call it
// once per tick from the game loop.
func (s *Server) Process() {
	s.rpc.Flush(rpc.SenderFunc(s.sendTo))

	for ev := range s.tr.Process() {
		switch e := ev.(type) {
		case hgnet.PeerConnected:
			s.connected(e.Peer)
			e.Permit.Release()

		case hgnet.PeerDisconnected:
			s.disconnected(e.Peer, e.Cause)

		case hgnet.PeerData:
			s.recv(e.Peer, e.Packet)
			e.Permit.Release()

		case hgnet.Shutdown:
			s.log.Info("傳輸層已關閉", zap.Error(e.Cause))
			if s.onShutdown != nil {
				s.onShutdown(e.Cause)
			}
		}
	}
}

func (s *Server) sendTo(p *rpc.Peer, frame []byte) {
	sess, ok := ecs.Get[Session](s.world, p.Entity())
	if !ok {
		return
	}
	s.tr.PeerSend(sess.Peer, frame, hgnet.NopPermit())
}

func (s *Server) connected(id hgnet.PeerID) {
	e := s.world.NewEntity()
	_ = ecs.Add(s.world, e, Session{Peer: id, State: StateLogin})
	s.sessions[id] = e
	s.log.Info("玩家連線",
		zap.Uint64("peer", uint64(id)),
		zap.String("ip", hgnet.AddrString(s.tr.PeerRemoteAddr(id))),
	)
}

func (s *Server) disconnected(id hgnet.PeerID, cause error) {
	e, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)

	fields := []zap.Field{zap.Uint64("peer", uint64(id)), zap.Error(cause)}
	if sess, ok := ecs.Get[Session](s.world, e); ok && sess.State == StatePlay {
		if p, ok := s.rpc.PeerOf(e); ok {
			p.Disconnect()
		}
		event.Emit(s.bus, event.SessionQuit{Session: e, PeerID: uint64(id), Cause: cause})
		fields = append(fields, zap.String("username", sess.Username))
	}
	if hgnet.IsGraceful(cause) {
		s.log.Info("玩家斷線", fields...)
	} else {
		s.log.Warn("玩家異常斷線", fields...)
	}
	s.world.Destroy(e)
}

func (s *Server) recv(id hgnet.PeerID, pkt []byte) {
	e, ok := s.sessions[id]
	if !ok {
		return
	}
	sess, ok := ecs.Get[Session](s.world, e)
	if !ok {
		return
	}

	switch sess.State {
	case StateLogin:
		hello, err := DecodeHello(pkt)
		if err != nil {
			s.log.Error("登入封包錯誤", zap.Uint64("peer", uint64(id)), zap.Error(err))
			s.tr.PeerKick(id, ProtocolErrorGoodbye)
			return
		}
		sess.State = StatePlay
		sess.Username = hello.Username
		sess.Style = hello.Style
		if _, err := s.rpc.RegisterPeer(e); err != nil {
			s.log.Error("註冊連線失敗", zap.Uint64("peer", uint64(id)), zap.Error(err))
			s.tr.PeerKick(id, ProtocolErrorGoodbye)
			return
		}
		s.log.Info("玩家登入",
			zap.Uint64("peer", uint64(id)),
			zap.String("username", hello.Username),
			zap.Uint8("style", hello.Style),
		)
		event.Emit(s.bus, event.SessionJoined{Session: e, PeerID: uint64(id), Username: hello.Username})

	case StatePlay:
		p, ok := s.rpc.PeerOf(e)
		if !ok {
			return
		}
		if err := s.rpc.RecvPacket(p, pkt); err != nil {
			s.log.Warn("封包處理失敗", zap.Uint64("peer", uint64(id)), zap.Error(err))
		}
	}
}

// Kick closes a session's connection with goodbye.
func (s *Server) Kick(session ecs.EntityID, goodbye string) {
	sess, ok := ecs.Get[Session](s.world, session)
	if !ok {
		return
	}
	s.tr.PeerKick(sess.Peer, []byte(goodbye))
}
