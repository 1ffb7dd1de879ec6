package rpc

import (
	"errors"
	"fmt"

	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/net/packet"
	"go.uber.org/zap"
)

// ErrNoHandler is returned when a node kind has no Process callback.
var ErrNoHandler = errors.New("rpc: kind has no message handler")

// ErrUnknownKind is wrapped in the protocol error for a CreateNode naming a
// kind the client never registered.
var ErrUnknownKind = errors.New("rpc: unknown kind")

// Sender delivers framed packets to peers. Sends to peers that are already
// gone must be absorbed.
type Sender interface {
	SendTo(p *Peer, frame []byte)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(p *Peer, frame []byte)

func (f SenderFunc) SendTo(p *Peer, frame []byte) { f(p, frame) }

type actionKind uint8

const (
	actReplicateTo actionKind = iota
	actDestroyRemotely
	actBroadcast
)

type action struct {
	kind  actionKind
	peer  *Peer
	frame []byte
}

// actionQueue outlives its node until the final delete has been flushed.
// It keeps its own live set: the peers that have actually been sent the
// catchup, as opposed to the node's visibleTo which changes immediately.
type actionQueue struct {
	entity    ecs.EntityID
	node      NodeID
	live      map[*Peer]struct{}
	actions   []action
	dirty     bool
	destroyed bool
}

type queueRef struct{ q *actionQueue }
type nodeRef struct{ n *Node }
type peerRef struct{ p *Peer }

// Node is one replicated object, owned by an entity.
type Node struct {
	srv       *Server
	id        NodeID
	entity    ecs.EntityID
	kind      *ServerKind
	kindName  string
	visibleTo map[*Peer]struct{}
	queue     *actionQueue
	destroyed bool

	// Userdata is free for the kind's callbacks.
	Userdata any
}

func (n *Node) ID() NodeID           { return n.id }
func (n *Node) Entity() ecs.EntityID { return n.entity }
func (n *Node) Kind() *ServerKind    { return n.kind }
func (n *Node) Destroyed() bool      { return n.destroyed }
func (n *Node) VisibleCount() int    { return len(n.visibleTo) }

func (n *Node) VisibleTo(p *Peer) bool {
	_, ok := n.visibleTo[p]
	return ok
}

// Peer is one remote client, owned by an entity.
type Peer struct {
	srv       *Server
	entity    ecs.EntityID
	connected bool
	vis       map[*Node]struct{}
}

func (p *Peer) Entity() ecs.EntityID { return p.entity }
func (p *Peer) Connected() bool      { return p.connected }

func (p *Peer) Sees(n *Node) bool {
	_, ok := p.vis[n]
	return ok
}

// Server is the authoritative replication graph. It is not safe for
// concurrent use.
type Server struct {
	world  *ecs.World
	log    *zap.Logger
	nextID NodeID
	nodes  map[NodeID]*Node
	dirty  []*actionQueue
}

// NewServer binds a replication graph to world. Destroying an entity that
// owns a node or peer unregisters or disconnects it during world.Flush.
func NewServer(world *ecs.World, log *zap.Logger) *Server {
	s := &Server{
		world: world,
		log:   log.Named("rpc"),
		nodes: make(map[NodeID]*Node),
	}
	ecs.OnRemove(world, func(_ ecs.EntityID, r *nodeRef) {
		if r.n.srv == s {
			r.n.Unregister()
		}
	})
	ecs.OnRemove(world, func(_ ecs.EntityID, r *peerRef) {
		if r.p.srv == s {
			r.p.Disconnect()
		}
	})
	ecs.OnRemove(world, func(_ ecs.EntityID, f *followerSet) {
		for _, fl := range f.list {
			if fl.group.srv == s {
				fl.Unregister()
			}
		}
	})
	return s
}

// RegisterNode makes e a replicated node of the given kind. The node starts
// visible to nobody.
func (s *Server) RegisterNode(e ecs.EntityID, kind *ServerKind) (*Node, error) {
	if kind == nil {
		return nil, errors.New("rpc: nil kind")
	}
	if _, ok := ecs.Get[nodeRef](s.world, e); ok {
		return nil, fmt.Errorf("rpc: entity %s already owns a node", e)
	}

	s.nextID++
	n := &Node{
		srv:       s,
		id:        s.nextID,
		entity:    e,
		kind:      kind,
		kindName:  kindName(kind.Name),
		visibleTo: make(map[*Peer]struct{}),
	}
	if err := ecs.Add(s.world, e, nodeRef{n: n}); err != nil {
		s.nextID--
		return nil, err
	}

	n.queue = &actionQueue{
		entity: s.world.NewEntity(),
		node:   n.id,
		live:   make(map[*Peer]struct{}),
	}
	_ = ecs.Add(s.world, n.queue.entity, queueRef{q: n.queue})
	s.nodes[n.id] = n
	return n, nil
}

// RegisterPeer makes e a connected peer.
func (s *Server) RegisterPeer(e ecs.EntityID) (*Peer, error) {
	if _, ok := ecs.Get[peerRef](s.world, e); ok {
		return nil, fmt.Errorf("rpc: entity %s already owns a peer", e)
	}
	p := &Peer{srv: s, entity: e, connected: true, vis: make(map[*Node]struct{})}
	if err := ecs.Add(s.world, e, peerRef{p: p}); err != nil {
		return nil, err
	}
	return p, nil
}

// Node looks up a live node by id.
func (s *Server) Node(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// NodeOf returns the node owned by e.
func (s *Server) NodeOf(e ecs.EntityID) (*Node, bool) {
	r, ok := ecs.Get[nodeRef](s.world, e)
	if !ok || r.n.srv != s || r.n.destroyed {
		return nil, false
	}
	return r.n, true
}

// PeerOf returns the peer owned by e.
func (s *Server) PeerOf(e ecs.EntityID) (*Peer, bool) {
	r, ok := ecs.Get[peerRef](s.world, e)
	if !ok || r.p.srv != s {
		return nil, false
	}
	return r.p, true
}

func (s *Server) markDirty(q *actionQueue) {
	if !q.dirty {
		q.dirty = true
		s.dirty = append(s.dirty, q)
	}
}

// Unregister destroys the node. Peers that were sent the node receive a
// DeleteNode on the next Flush. Unregistering twice is a no-op.
func (n *Node) Unregister() {
	if n.destroyed {
		return
	}
	n.destroyed = true
	n.queue.destroyed = true
	n.srv.markDirty(n.queue)
	delete(n.srv.nodes, n.id)
	for p := range n.visibleTo {
		delete(p.vis, n)
	}
	clear(n.visibleTo)
}

// Disconnect marks the peer as gone and drops it from every node's
// visibility set. Queued sends to it are skipped at flush.
func (p *Peer) Disconnect() {
	if !p.connected {
		return
	}
	p.connected = false
	for n := range p.vis {
		delete(n.visibleTo, p)
	}
	clear(p.vis)
}

// Replicate makes the node visible to p. It is a no-op when the node is
// already visible, p is disconnected or the node is destroyed.
func (n *Node) Replicate(p *Peer) {
	if n.destroyed || !p.connected {
		return
	}
	if _, ok := n.visibleTo[p]; ok {
		return
	}
	n.visibleTo[p] = struct{}{}
	p.vis[n] = struct{}{}

	var body packet.Encoder
	if n.kind.Catchup != nil {
		body = n.kind.Catchup(n, p)
	}
	pkt := frame(body, cbHeader{tag: cbCreateNode, id: n.id, kind: n.kindName})
	n.queue.actions = append(n.queue.actions, action{kind: actReplicateTo, peer: p, frame: pkt})
	n.srv.markDirty(n.queue)
}

// DeReplicate hides the node from p. It is a no-op when p cannot see it.
func (n *Node) DeReplicate(p *Peer) {
	if _, ok := n.visibleTo[p]; !ok {
		return
	}
	delete(n.visibleTo, p)
	delete(p.vis, n)
	n.queue.actions = append(n.queue.actions, action{kind: actDestroyRemotely, peer: p})
	n.srv.markDirty(n.queue)
}

// Broadcast queues msg for every peer the node is live on at flush time.
func (n *Node) Broadcast(msg packet.Encoder) {
	if n.destroyed {
		return
	}
	pkt := frame(msg, cbHeader{tag: cbSendMessage, id: n.id})
	n.queue.actions = append(n.queue.actions, action{kind: actBroadcast, frame: pkt})
	n.srv.markDirty(n.queue)
}

// Flush drains every dirty action queue into tr, in enqueue order per queue.
func (s *Server) Flush(tr Sender) {
	dirty := s.dirty
	s.dirty = nil
	for _, q := range dirty {
		q.dirty = false
		for p := range q.live {
			if !p.connected {
				delete(q.live, p)
			}
		}

		var deleteFrame []byte
		deletePacket := func() []byte {
			if deleteFrame == nil {
				deleteFrame = frame(nil, cbHeader{tag: cbDeleteNode, id: q.node})
			}
			return deleteFrame
		}

		for _, a := range q.actions {
			switch a.kind {
			case actReplicateTo:
				if !a.peer.connected {
					continue
				}
				tr.SendTo(a.peer, a.frame)
				q.live[a.peer] = struct{}{}
			case actDestroyRemotely:
				if !a.peer.connected {
					continue
				}
				if _, ok := q.live[a.peer]; !ok {
					continue
				}
				tr.SendTo(a.peer, deletePacket())
				delete(q.live, a.peer)
			case actBroadcast:
				for p := range q.live {
					tr.SendTo(p, a.frame)
				}
			}
		}
		clear(q.actions)
		q.actions = q.actions[:0]

		if q.destroyed {
			for p := range q.live {
				tr.SendTo(p, deletePacket())
			}
			clear(q.live)
			s.world.Destroy(q.entity)
		}
	}
}

// RecvPacket routes one server-bound packet from p. Messages for unknown
// nodes or nodes p cannot see are logged and dropped with a nil error.
func (s *Server) RecvPacket(p *Peer, payload []byte) error {
	head, body, err := split(payload)
	if err != nil {
		return err
	}
	h, err := decodeSBHeader(head)
	if err != nil {
		return err
	}

	n, ok := s.nodes[h.id]
	if !ok {
		s.log.Warn("訊息目標節點不存在", zap.Uint64("node", uint64(h.id)), zap.Stringer("peer", p.entity))
		return nil
	}
	if _, ok := n.visibleTo[p]; !ok {
		s.log.Warn("節點對此連線不可見", zap.Uint64("node", uint64(h.id)), zap.Stringer("peer", p.entity))
		return nil
	}
	if n.kind.Process == nil {
		return fmt.Errorf("node %d (%s): %w", n.id, n.kindName, ErrNoHandler)
	}
	return s.safeProcess(n, p, packet.NewReader(body))
}

func (s *Server) safeProcess(n *Node, p *Peer, r *packet.Reader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("節點處理 panic 已恢復",
				zap.Uint64("node", uint64(n.id)),
				zap.String("kind", n.kindName),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("node %d (%s): panic: %v", n.id, n.kindName, rec)
		}
	}()
	if err := n.kind.Process(n, p, r); err != nil {
		return fmt.Errorf("node %d (%s): %w", n.id, n.kindName, err)
	}
	if err := r.Err(); err != nil {
		return protocolErr(err, "node %d (%s) message", n.id, n.kindName)
	}
	return nil
}
