package net

import (
	"context"
	"fmt"
	"iter"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PeerID names one accepted connection. Ids are issued from 1.
type PeerID uint64

// ServerEvent is one of PeerConnected, PeerDisconnected, PeerData, Shutdown.
type ServerEvent interface{ isServerEvent() }

// PeerConnected carries the listen back-pressure permit; releasing it lets the
// listener accept another connection.
type PeerConnected struct {
	Peer   PeerID
	Permit *Permit
}

// PeerDisconnected is emitted exactly once per peer. A nil Cause means the
// server closed the connection gracefully.
type PeerDisconnected struct {
	Peer  PeerID
	Cause error
}

// PeerData carries one frame payload. Releasing Permit returns its bytes to
// the peer's receive credit.
type PeerData struct {
	Peer   PeerID
	Packet []byte
	Permit *Permit
}

// Shutdown is emitted once when the listener stops.
type Shutdown struct {
	Cause error
}

func (PeerConnected) isServerEvent()    {}
func (PeerDisconnected) isServerEvent() {}
func (PeerData) isServerEvent()         {}
func (Shutdown) isServerEvent()         {}

type ServerConfig struct {
	MaxPacketSize      int
	ListenBackPressure int // in-flight accepts
	PeerRxCapacity     int // bytes per peer awaiting release
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxPacketSize:      DefaultMaxPacketSize,
		ListenBackPressure: 64,
		PeerRxCapacity:     1024,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = d.MaxPacketSize
	}
	if c.ListenBackPressure <= 0 {
		c.ListenBackPressure = d.ListenBackPressure
	}
	if c.PeerRxCapacity <= 0 {
		c.PeerRxCapacity = d.PeerRxCapacity
	}
	return c
}

type serverPeer struct {
	id   PeerID
	addr net.Addr
	link *link
}

// ServerTransport turns a Listener into an event stream polled by the game
// loop. Network I/O runs in dedicated goroutines; Process, PeerSend and
// PeerKick are called from the game loop only.
type ServerTransport struct {
	cfg    ServerConfig
	ln     Listener
	log    *zap.Logger
	events *eventQueue[ServerEvent]
	nextID atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu    sync.Mutex
	peers map[PeerID]*serverPeer

	kicked map[PeerID]bool // game loop only
}

// NewServerTransport starts accepting on ln immediately.
func NewServerTransport(ln Listener, cfg ServerConfig, log *zap.Logger) *ServerTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &ServerTransport{
		cfg:    cfg.withDefaults(),
		ln:     ln,
		log:    log.Named("transport"),
		events: newEventQueue[ServerEvent](),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[PeerID]*serverPeer),
		kicked: make(map[PeerID]bool),
	}
	t.wg.Add(1)
	go t.listen()
	return t
}

func (t *ServerTransport) Addr() net.Addr {
	return t.ln.Addr()
}

func (t *ServerTransport) listen() {
	defer t.wg.Done()

	err := recoverWorker(t.log, "listen", t.acceptLoop)
	if t.ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		t.log.Error("監聽中止", zap.Error(err))
	}
	t.events.Enqueue(Shutdown{Cause: err})
}

func (t *ServerTransport) acceptLoop() error {
	bp := NewAsyncBackPressure(t.cfg.ListenBackPressure)
	for {
		if err := bp.Wait(t.ctx); err != nil {
			return nil
		}
		conn, err := t.ln.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		permit, err := bp.Start(1)
		if err != nil {
			_ = conn.Close(CloseCrash, nil)
			return err
		}
		t.startPeer(conn, permit)
	}
}

func (t *ServerTransport) startPeer(conn Conn, permit *Permit) {
	id := PeerID(t.nextID.Add(1))
	p := &serverPeer{id: id, addr: conn.RemoteAddr()}
	p.link = newLink(t.log.With(zap.Uint64("peer", uint64(id))), t.cfg.MaxPacketSize, t.cfg.PeerRxCapacity,
		func(pkt []byte, rx *Permit) {
			if !t.events.Enqueue(PeerData{Peer: id, Packet: pkt, Permit: rx}) {
				rx.Release()
			}
		})
	p.link.attach(conn)

	t.mu.Lock()
	t.peers[id] = p
	t.mu.Unlock()

	p.link.log.Info("玩家連線")
	t.events.Enqueue(PeerConnected{Peer: id, Permit: permit})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		cause := p.link.run(t.ctx)
		if IsGraceful(cause) {
			p.link.log.Info("玩家斷線", zap.Error(cause))
		} else {
			p.link.log.Warn("玩家異常斷線", zap.Error(cause))
		}
		t.events.Enqueue(PeerDisconnected{Peer: id, Cause: cause})
	}()
}

func (t *ServerTransport) peer(id PeerID) *serverPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[id]
}

// Process yields queued events without blocking. Data from kicked peers is
// dropped and its permit released.
func (t *ServerTransport) Process() iter.Seq[ServerEvent] {
	return func(yield func(ServerEvent) bool) {
		for {
			ev, ok := t.events.TryDequeue()
			if !ok {
				return
			}
			switch e := ev.(type) {
			case PeerData:
				if t.kicked[e.Peer] {
					e.Permit.Release()
					continue
				}
			case PeerDisconnected:
				delete(t.kicked, e.Peer)
				t.mu.Lock()
				delete(t.peers, e.Peer)
				t.mu.Unlock()
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// PeerAlive reports whether id is connected and not kicked.
func (t *ServerTransport) PeerAlive(id PeerID) bool {
	p := t.peer(id)
	return p != nil && !t.kicked[id] && p.link.alive()
}

func (t *ServerTransport) PeerRemoteAddr(id PeerID) net.Addr {
	if p := t.peer(id); p != nil {
		return p.addr
	}
	return nil
}

// PeerSend queues one frame. Sends to a kicked or vanished peer are absorbed
// and their permit released.
func (t *ServerTransport) PeerSend(id PeerID, frame []byte, permit *Permit) {
	p := t.peer(id)
	if p == nil || t.kicked[id] {
		permit.Release()
		return
	}
	p.link.send(frame, permit)
}

// PeerKick queues a graceful close carrying goodbye. Frames queued before the
// kick are written first. Stream carriers (pipe, WebSocket) deliver them ahead
// of the close; QUIC may discard stream data still in flight when the
// connection closes, so only the goodbye itself is guaranteed there.
func (t *ServerTransport) PeerKick(id PeerID, goodbye []byte) {
	if t.kicked[id] {
		t.log.Warn("重複踢除連線", zap.Uint64("peer", uint64(id)))
		return
	}
	p := t.peer(id)
	if p == nil {
		t.log.Debug("踢除不存在的連線", zap.Uint64("peer", uint64(id)))
		return
	}
	t.kicked[id] = true
	p.link.kick(goodbye)
}

// Close stops the listener, closes every peer gracefully and waits for the
// workers. Events already queued remain available to Process.
func (t *ServerTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.cancel()
		err = t.ln.Close()
		t.wg.Wait()
		t.events.Close()
	})
	return err
}

// AddrString formats a possibly nil address for logs.
func AddrString(a net.Addr) string {
	if a == nil {
		return "<nil>"
	}
	return a.String()
}
