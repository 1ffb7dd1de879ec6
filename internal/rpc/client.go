package rpc

import (
	"fmt"

	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/net/packet"
	"go.uber.org/zap"
)

// ClientNode is the local mirror of a server node.
type ClientNode struct {
	client *Client
	id     NodeID
	kind   *ClientKind
	entity ecs.EntityID
}

func (n *ClientNode) ID() NodeID           { return n.id }
func (n *ClientNode) Entity() ecs.EntityID { return n.entity }
func (n *ClientNode) Kind() *ClientKind    { return n.kind }
func (n *ClientNode) Client() *Client      { return n.client }

// Send queues msg for the server node this mirrors.
func (n *ClientNode) Send(msg packet.Encoder) {
	n.client.Send(n, msg)
}

// Client mirrors the nodes a server replicates to it. It is not safe for
// concurrent use.
type Client struct {
	world    *ecs.World
	log      *zap.Logger
	kinds    map[string]*ClientKind
	nodes    map[NodeID]*ClientNode
	outgoing [][]byte
}

func NewClient(world *ecs.World, log *zap.Logger) *Client {
	return &Client{
		world: world,
		log:   log.Named("rpc"),
		kinds: make(map[string]*ClientKind),
		nodes: make(map[NodeID]*ClientNode),
	}
}

func (c *Client) World() *ecs.World { return c.world }

// RegisterKind makes kind creatable by CreateNode headers. Registering a
// name twice is a programming error and panics.
func (c *Client) RegisterKind(kind *ClientKind) {
	name := kindName(kind.Name)
	if _, dup := c.kinds[name]; dup {
		panic(fmt.Sprintf("rpc: kind %q registered twice", name))
	}
	if kind.Create == nil {
		panic(fmt.Sprintf("rpc: kind %q has no Create", name))
	}
	c.kinds[name] = kind
}

// Node looks up a mirrored node.
func (c *Client) Node(id NodeID) (*ClientNode, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

func (c *Client) Len() int { return len(c.nodes) }

// RecvPacket applies one client-bound packet. Any error is a *ProtocolError
// or comes from a kind callback; either way the connection should be
// dropped.
func (c *Client) RecvPacket(payload []byte) error {
	head, body, err := split(payload)
	if err != nil {
		return err
	}
	h, err := decodeCBHeader(head)
	if err != nil {
		return err
	}

	switch h.tag {
	case cbSendMessage:
		n, ok := c.nodes[h.id]
		if !ok {
			return protocolErr(nil, "message for unknown node %d", h.id)
		}
		if n.kind.Process == nil {
			return fmt.Errorf("node %d (%s): %w", h.id, n.kind.Name, ErrNoHandler)
		}
		r := packet.NewReader(body)
		if err := n.kind.Process(n, r); err != nil {
			return fmt.Errorf("node %d (%s): %w", h.id, n.kind.Name, err)
		}
		if err := r.Err(); err != nil {
			return protocolErr(err, "node %d message", h.id)
		}

	case cbCreateNode:
		if _, dup := c.nodes[h.id]; dup {
			return protocolErr(nil, "node %d created twice", h.id)
		}
		kind, ok := c.kinds[kindName(h.kind)]
		if !ok {
			return protocolErr(ErrUnknownKind, "create node %d as %q", h.id, h.kind)
		}
		r := packet.NewReader(body)
		e, err := kind.Create(c, h.id, r)
		if err != nil {
			return fmt.Errorf("create node %d (%s): %w", h.id, h.kind, err)
		}
		if err := r.Err(); err != nil {
			return protocolErr(err, "node %d catchup", h.id)
		}
		c.nodes[h.id] = &ClientNode{client: c, id: h.id, kind: kind, entity: e}
		c.log.Debug("建立節點", zap.Uint64("node", uint64(h.id)), zap.String("kind", h.kind))

	case cbDeleteNode:
		n, ok := c.nodes[h.id]
		if !ok {
			return protocolErr(nil, "delete of unknown node %d", h.id)
		}
		delete(c.nodes, h.id)
		if n.kind.Destroy != nil {
			n.kind.Destroy(n)
		} else {
			c.world.Destroy(n.entity)
		}
		c.log.Debug("刪除節點", zap.Uint64("node", uint64(h.id)))
	}
	return nil
}

// Send queues msg for node n. Queued packets are taken by DrainOutgoing.
func (c *Client) Send(n *ClientNode, msg packet.Encoder) {
	c.outgoing = append(c.outgoing, frame(msg, sbHeader{id: n.id}))
}

// DrainOutgoing returns the framed packets queued since the last call.
func (c *Client) DrainOutgoing() [][]byte {
	out := c.outgoing
	c.outgoing = nil
	return out
}
