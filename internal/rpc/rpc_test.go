package rpc

import (
	"errors"
	"testing"

	"github.com/heatgun/hg/internal/core/ecs"
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type actorState struct {
	name string
	x, y float32
}

func (s actorState) Encode(w *packet.Writer) {
	w.WriteS(s.name)
	w.WriteF32(s.x)
	w.WriteF32(s.y)
}

type setPos struct{ x, y float32 }

func (m setPos) Encode(w *packet.Writer) {
	w.WriteF32(m.x)
	w.WriteF32(m.y)
}

type sent struct {
	peer  *Peer
	frame []byte
}

type recorder struct {
	out []sent
}

func (r *recorder) SendTo(p *Peer, frame []byte) {
	r.out = append(r.out, sent{peer: p, frame: frame})
}

// to returns the payloads sent to p, in order, and forgets everything sent.
func (r *recorder) to(t *testing.T, p *Peer) [][]byte {
	t.Helper()
	var out [][]byte
	for _, s := range r.out {
		if s.peer == p {
			out = append(out, unframe(t, s.frame))
		}
	}
	return out
}

func (r *recorder) reset() { r.out = nil }

func unframe(t *testing.T, frame []byte) []byte {
	t.Helper()
	dec := hgnet.NewFrameDecoder(0)
	dec.Feed(frame)
	pkt, err := dec.Next()
	require.NoError(t, err)
	require.Zero(t, dec.Buffered())
	return pkt
}

func header(t *testing.T, payload []byte) (cbHeader, []byte) {
	t.Helper()
	head, body, err := split(payload)
	require.NoError(t, err)
	h, err := decodeCBHeader(head)
	require.NoError(t, err)
	return h, body
}

type fixture struct {
	world *ecs.World
	srv   *Server
	group *Group
	rec   *recorder
	kind  *ServerKind
}

func newFixture() *fixture {
	w := ecs.NewWorld()
	srv := NewServer(w, zap.NewNop())
	return &fixture{
		world: w,
		srv:   srv,
		group: srv.NewGroup(),
		rec:   &recorder{},
		kind: &ServerKind{
			Name: "K",
			Catchup: func(n *Node, p *Peer) packet.Encoder {
				return actorState{name: "alice"}
			},
		},
	}
}

func (f *fixture) peer(t *testing.T) *Peer {
	t.Helper()
	p, err := f.srv.RegisterPeer(f.world.NewEntity())
	require.NoError(t, err)
	return p
}

func (f *fixture) node(t *testing.T) *Node {
	t.Helper()
	n, err := f.srv.RegisterNode(f.world.NewEntity(), f.kind)
	require.NoError(t, err)
	return n
}

func TestSpawnAndCatchup(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	f.group.AddNode(n, nil)

	f.srv.Flush(f.rec)
	pkts := f.rec.to(t, p)
	require.Len(t, pkts, 1)

	h, body := header(t, pkts[0])
	assert.Equal(t, cbHeader{tag: cbCreateNode, id: 1, kind: "K"}, h)
	r := packet.NewReader(body)
	assert.Equal(t, "alice", r.ReadS())
	assert.Equal(t, float32(0), r.ReadF32())
	assert.Equal(t, float32(0), r.ReadF32())
	require.NoError(t, r.Finish())

	assert.True(t, n.VisibleTo(p))
	assert.True(t, p.Sees(n))
}

func TestBroadcastAfterCreate(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	f.group.AddNode(n, nil)

	// Same tick: the catchup is drained before the broadcast.
	n.Broadcast(setPos{10, 20})
	f.srv.Flush(f.rec)
	pkts := f.rec.to(t, p)
	require.Len(t, pkts, 2)

	h, _ := header(t, pkts[0])
	assert.Equal(t, cbCreateNode, h.tag)
	h, body := header(t, pkts[1])
	assert.Equal(t, cbHeader{tag: cbSendMessage, id: 1}, h)
	r := packet.NewReader(body)
	assert.Equal(t, float32(10), r.ReadF32())
	assert.Equal(t, float32(20), r.ReadF32())
	require.NoError(t, r.Finish())

	f.rec.reset()
	n.Broadcast(setPos{1, 2})
	f.srv.Flush(f.rec)
	pkts = f.rec.to(t, p)
	require.Len(t, pkts, 1)
	h, _ = header(t, pkts[0])
	assert.Equal(t, cbSendMessage, h.tag)
}

func TestLateJoinerSkipsHistory(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	f.group.AddNode(n, nil)
	f.srv.Flush(f.rec)

	n.Broadcast(setPos{1, 1})
	n.Broadcast(setPos{2, 2})
	q := f.peer(t)
	f.group.AddPeer(q)
	f.srv.Flush(f.rec)

	pkts := f.rec.to(t, q)
	require.Len(t, pkts, 1)
	h, _ := header(t, pkts[0])
	assert.Equal(t, cbCreateNode, h.tag)

	assert.Len(t, f.rec.to(t, p), 3, "catchup plus both broadcasts")
}

func TestReplicateIsIdempotent(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	n := f.node(t)

	n.Replicate(p)
	n.Replicate(p)
	n.DeReplicate(p)
	n.DeReplicate(p)
	f.srv.Flush(f.rec)

	pkts := f.rec.to(t, p)
	require.Len(t, pkts, 2)
	h, _ := header(t, pkts[0])
	assert.Equal(t, cbCreateNode, h.tag)
	h, _ = header(t, pkts[1])
	assert.Equal(t, cbHeader{tag: cbDeleteNode, id: n.ID()}, h)
	assert.Zero(t, n.VisibleCount())
}

func TestUnregisterSendsDelete(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	f.group.AddNode(n, nil)
	f.srv.Flush(f.rec)
	f.rec.reset()
	queue := n.queue.entity

	// Destroying the owning entity unregisters the node on world flush.
	f.world.Destroy(n.Entity())
	f.world.Flush()
	assert.True(t, n.Destroyed())
	_, ok := f.srv.Node(n.ID())
	assert.False(t, ok)
	assert.False(t, p.Sees(n))
	assert.Zero(t, f.group.Len())

	n.Broadcast(setPos{})
	f.srv.Flush(f.rec)
	pkts := f.rec.to(t, p)
	require.Len(t, pkts, 1)
	h, _ := header(t, pkts[0])
	assert.Equal(t, cbHeader{tag: cbDeleteNode, id: n.ID()}, h)

	f.world.Flush()
	assert.False(t, f.world.Alive(queue))

	f.rec.reset()
	f.srv.Flush(f.rec)
	assert.Empty(t, f.rec.out)
}

func TestDisconnectedPeerIsPruned(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	q := f.peer(t)
	f.group.AddPeer(p)
	f.group.AddPeer(q)
	n := f.node(t)
	f.group.AddNode(n, nil)

	// q drops before the catchup is flushed.
	f.world.Destroy(q.Entity())
	f.world.Flush()
	assert.False(t, q.Connected())
	n.Broadcast(setPos{})
	f.srv.Flush(f.rec)

	assert.Len(t, f.rec.to(t, p), 2)
	assert.Empty(t, f.rec.to(t, q))

	f.group.AddPeer(q)
	n.Replicate(q)
	assert.False(t, n.VisibleTo(q))

	f.group.AddNode(f.node(t), nil)
	assert.Equal(t, 1, f.group.PeerCount())
}

func TestGroupExclusionAndRemoval(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	q := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	fl := f.group.AddNode(n, p)
	f.group.AddPeer(q)
	assert.False(t, n.VisibleTo(p))
	assert.True(t, n.VisibleTo(q))

	f.group.RemovePeer(q)
	assert.False(t, n.VisibleTo(q))
	f.group.AddPeer(q)
	f.srv.Flush(f.rec)
	assert.Empty(t, f.rec.to(t, p))
	assert.Len(t, f.rec.to(t, q), 3, "create, delete, create")

	f.rec.reset()
	fl.Unregister()
	fl.Unregister()
	f.srv.Flush(f.rec)
	pkts := f.rec.to(t, q)
	require.Len(t, pkts, 1)
	h, _ := header(t, pkts[0])
	assert.Equal(t, cbDeleteNode, h.tag)
	assert.False(t, n.Destroyed())
}

func TestRegisterTwiceFails(t *testing.T) {
	f := newFixture()
	n := f.node(t)
	_, err := f.srv.RegisterNode(n.Entity(), f.kind)
	assert.Error(t, err)

	p := f.peer(t)
	_, err = f.srv.RegisterPeer(p.Entity())
	assert.Error(t, err)

	got, ok := f.srv.NodeOf(n.Entity())
	require.True(t, ok)
	assert.Same(t, n, got)
	gp, ok := f.srv.PeerOf(p.Entity())
	require.True(t, ok)
	assert.Same(t, p, gp)
}

type mirrored struct {
	name string
	x, y float32
}

func mirrorKind(destroyed *[]NodeID) *ClientKind {
	return &ClientKind{
		Name: "K",
		Create: func(c *Client, id NodeID, r *packet.Reader) (ecs.EntityID, error) {
			e := c.World().NewEntity()
			m := mirrored{name: r.ReadS(), x: r.ReadF32(), y: r.ReadF32()}
			return e, ecs.Add(c.World(), e, m)
		},
		Process: func(n *ClientNode, r *packet.Reader) error {
			m, ok := ecs.Get[mirrored](n.Client().World(), n.Entity())
			if !ok {
				return errors.New("mirror missing")
			}
			m.x, m.y = r.ReadF32(), r.ReadF32()
			return nil
		},
		Destroy: func(n *ClientNode) {
			*destroyed = append(*destroyed, n.ID())
			n.Client().World().Destroy(n.Entity())
		},
	}
}

func TestClientMirrorsServer(t *testing.T) {
	f := newFixture()
	p := f.peer(t)
	f.group.AddPeer(p)
	n := f.node(t)
	f.group.AddNode(n, nil)
	n.Broadcast(setPos{10, 20})

	var destroyed []NodeID
	cw := ecs.NewWorld()
	cli := NewClient(cw, zap.NewNop())
	cli.RegisterKind(mirrorKind(&destroyed))

	f.srv.Flush(f.rec)
	for _, pkt := range f.rec.to(t, p) {
		require.NoError(t, cli.RecvPacket(pkt))
	}
	cn, ok := cli.Node(n.ID())
	require.True(t, ok)
	m, ok := ecs.Get[mirrored](cw, cn.Entity())
	require.True(t, ok)
	assert.Equal(t, mirrored{name: "alice", x: 10, y: 20}, *m)

	f.rec.reset()
	n.Unregister()
	f.srv.Flush(f.rec)
	for _, pkt := range f.rec.to(t, p) {
		require.NoError(t, cli.RecvPacket(pkt))
	}
	assert.Equal(t, []NodeID{n.ID()}, destroyed)
	assert.Zero(t, cli.Len())
}

func TestClientProtocolErrors(t *testing.T) {
	cli := NewClient(ecs.NewWorld(), zap.NewNop())
	var destroyed []NodeID
	cli.RegisterKind(mirrorKind(&destroyed))
	assert.Panics(t, func() { cli.RegisterKind(mirrorKind(&destroyed)) })

	payload := func(body packet.Encoder, h cbHeader) []byte {
		return unframe(t, frame(body, h))
	}
	var pe *ProtocolError

	err := cli.RecvPacket(payload(nil, cbHeader{tag: cbSendMessage, id: 7}))
	assert.ErrorAs(t, err, &pe)
	err = cli.RecvPacket(payload(nil, cbHeader{tag: cbDeleteNode, id: 7}))
	assert.ErrorAs(t, err, &pe)
	err = cli.RecvPacket(payload(actorState{name: "x"}, cbHeader{tag: cbCreateNode, id: 7, kind: "nope"}))
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrUnknownKind)

	create := payload(actorState{name: "x"}, cbHeader{tag: cbCreateNode, id: 7, kind: "K"})
	require.NoError(t, cli.RecvPacket(create))
	err = cli.RecvPacket(create)
	assert.ErrorAs(t, err, &pe)

	// Catchup body too short for the kind's decoder.
	err = cli.RecvPacket(payload(nil, cbHeader{tag: cbCreateNode, id: 8, kind: "K"}))
	assert.ErrorAs(t, err, &pe)
	_, ok := cli.Node(8)
	assert.False(t, ok)

	assert.ErrorAs(t, cli.RecvPacket(nil), &pe)
	assert.ErrorAs(t, cli.RecvPacket([]byte{0xFF}), &pe)
}

func TestServerInbound(t *testing.T) {
	f := newFixture()
	var got []float32
	f.kind.Process = func(n *Node, p *Peer, r *packet.Reader) error {
		got = append(got, r.ReadF32(), r.ReadF32())
		return nil
	}
	p := f.peer(t)
	stranger := f.peer(t)
	n := f.node(t)
	n.Replicate(p)

	cli := NewClient(ecs.NewWorld(), zap.NewNop())
	cn := &ClientNode{client: cli, id: n.ID()}
	cn.Send(setPos{3, 4})
	out := cli.DrainOutgoing()
	require.Len(t, out, 1)
	assert.Empty(t, cli.DrainOutgoing())
	msg := unframe(t, out[0])

	require.NoError(t, f.srv.RecvPacket(p, msg))
	assert.Equal(t, []float32{3, 4}, got)

	// Invisible sender and unknown node are dropped without an error.
	require.NoError(t, f.srv.RecvPacket(stranger, msg))
	cli.Send(&ClientNode{client: cli, id: 99}, setPos{})
	require.NoError(t, f.srv.RecvPacket(p, unframe(t, cli.DrainOutgoing()[0])))
	assert.Len(t, got, 2)

	var pe *ProtocolError
	assert.ErrorAs(t, f.srv.RecvPacket(p, []byte{1, 2, 3}), &pe)

	f.kind.Process = func(n *Node, p *Peer, r *packet.Reader) error {
		panic("boom")
	}
	assert.Error(t, f.srv.RecvPacket(p, msg))

	f.kind.Process = nil
	assert.ErrorIs(t, f.srv.RecvPacket(p, msg), ErrNoHandler)
}
