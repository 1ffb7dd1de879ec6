package mp

import (
	"testing"
	"time"

	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/core/event"
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/net/packet"
	"github.com/heatgun/hg/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	world  *ecs.World
	bus    *event.Bus
	rpc    *rpc.Server
	srv    *Server
	group  *rpc.Group
	ln     *hgnet.PipeListener
	joined []event.SessionJoined
	quit   []event.SessionQuit
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{world: ecs.NewWorld(), bus: event.NewBus(), ln: hgnet.NewPipeListener()}
	tr := hgnet.NewServerTransport(h.ln, hgnet.DefaultServerConfig(), log)
	t.Cleanup(func() { tr.Close() })
	h.rpc = rpc.NewServer(h.world, log)
	h.srv = NewServer(h.world, tr, h.rpc, h.bus, log)
	h.group = h.rpc.NewGroup()
	return h
}

func (h *harness) tick(t *testing.T) {
	h.srv.Process()
	h.bus.SwapBuffers()
	for _, ev := range event.Pending[event.SessionJoined](h.bus) {
		p, ok := h.rpc.PeerOf(ev.Session)
		require.True(t, ok)
		h.group.AddPeer(p)
		h.joined = append(h.joined, ev)
	}
	h.quit = append(h.quit, event.Pending[event.SessionQuit](h.bus)...)
	h.world.Flush()
}

func until(t *testing.T, step func(), cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		step()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

type pos struct{ x, y float32 }

func (p pos) Encode(w *packet.Writer) {
	w.WriteF32(p.x)
	w.WriteF32(p.y)
}

func TestSessionEndToEnd(t *testing.T) {
	h := newHarness(t)

	var inbound []pos
	kind := &rpc.ServerKind{
		Name: "actor",
		Catchup: func(n *rpc.Node, p *rpc.Peer) packet.Encoder {
			return packet.EncoderFunc(func(w *packet.Writer) { w.WriteS("alice") })
		},
		Process: func(n *rpc.Node, p *rpc.Peer, r *packet.Reader) error {
			inbound = append(inbound, pos{r.ReadF32(), r.ReadF32()})
			return nil
		},
	}
	n, err := h.rpc.RegisterNode(h.world.NewEntity(), kind)
	require.NoError(t, err)
	h.group.AddNode(n, nil)

	log := zaptest.NewLogger(t)
	cw := ecs.NewWorld()
	rc := rpc.NewClient(cw, log)
	var names []string
	var moves []pos
	rc.RegisterKind(&rpc.ClientKind{
		Name: "actor",
		Create: func(c *rpc.Client, id rpc.NodeID, r *packet.Reader) (ecs.EntityID, error) {
			names = append(names, r.ReadS())
			return c.World().NewEntity(), nil
		},
		Process: func(n *rpc.ClientNode, r *packet.Reader) error {
			moves = append(moves, pos{r.ReadF32(), r.ReadF32()})
			return nil
		},
	})
	ctr := hgnet.DialClient(h.ln.Dial, hgnet.DefaultClientConfig(), log)
	t.Cleanup(ctr.Close)
	cli := NewClient(ctr, rc, Hello{Username: "alice", Style: 2}, log)

	step := func() {
		h.tick(t)
		cli.Process()
	}
	until(t, step, func() bool { return rc.Len() == 1 })
	assert.Equal(t, []string{"alice"}, names)
	require.Len(t, h.joined, 1)
	assert.Equal(t, "alice", h.joined[0].Username)
	sess, ok := ecs.Get[Session](h.world, h.joined[0].Session)
	require.True(t, ok)
	assert.Equal(t, StatePlay, sess.State)
	assert.Equal(t, uint8(2), sess.Style)

	n.Broadcast(pos{10, 20})
	until(t, step, func() bool { return len(moves) == 1 })
	assert.Equal(t, pos{10, 20}, moves[0])

	cn, ok := rc.Node(n.ID())
	require.True(t, ok)
	cn.Send(pos{3, 4})
	until(t, step, func() bool { return len(inbound) == 1 })
	assert.Equal(t, pos{3, 4}, inbound[0])

	h.srv.Kick(h.joined[0].Session, "bye")
	until(t, step, func() bool {
		done, _ := cli.Done()
		return done && len(h.quit) == 1
	})
	_, cause := cli.Done()
	var ce *hgnet.CloseError
	require.ErrorAs(t, cause, &ce)
	assert.Equal(t, "bye", string(ce.Reason))
	assert.NoError(t, h.quit[0].Cause)
	assert.Zero(t, h.srv.SessionCount())
	assert.False(t, h.world.Alive(h.joined[0].Session))
	assert.Zero(t, n.VisibleCount())
}

func TestMalformedHelloKicks(t *testing.T) {
	h := newHarness(t)
	ctr := hgnet.DialClient(h.ln.Dial, hgnet.DefaultClientConfig(), zaptest.NewLogger(t))
	t.Cleanup(ctr.Close)
	ctr.Send(hgnet.EncodeFrame([]byte{0xFF}), hgnet.NopPermit())

	var cause error
	var done bool
	until(t, func() {
		h.tick(t)
		for ev := range ctr.Process() {
			if d, ok := ev.(hgnet.Disconnected); ok {
				done, cause = true, d.Cause
			}
		}
	}, func() bool { return done })

	var ce *hgnet.CloseError
	require.ErrorAs(t, cause, &ce)
	assert.Equal(t, string(ProtocolErrorGoodbye), string(ce.Reason))
	assert.Empty(t, h.joined)
	assert.Empty(t, h.quit)
}

func TestDecodeHello(t *testing.T) {
	b := packet.Encode(Hello{Username: "e\u0301ve", Style: 1})
	hello, err := DecodeHello(b)
	require.NoError(t, err)
	assert.Equal(t, "\u00e9ve", hello.Username, "usernames are NFC normalized")
	assert.Equal(t, uint8(1), hello.Style)

	_, err = DecodeHello(packet.Encode(Hello{}))
	assert.ErrorIs(t, err, ErrBadHello)
	_, err = DecodeHello(append(b, 0))
	assert.ErrorIs(t, err, ErrBadHello)
}
