package rpc

import (
	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/net/packet"
	"golang.org/x/text/unicode/norm"
)

// ServerKind is the server half of a node kind. Name travels in CreateNode
// headers and must match a ClientKind registered on the other side.
type ServerKind struct {
	Name string

	// Catchup encodes the state a peer needs to create the node. Nil sends
	// an empty body.
	Catchup func(n *Node, p *Peer) packet.Encoder

	// Process handles one server-bound message from a peer the node is
	// visible to. Nil rejects every message.
	Process func(n *Node, p *Peer, r *packet.Reader) error
}

// ClientKind is the client half of a node kind.
type ClientKind struct {
	Name string

	// Create decodes the catchup body and returns the entity the new node is
	// bound to.
	Create func(c *Client, id NodeID, r *packet.Reader) (ecs.EntityID, error)

	// Process handles one client-bound message. Nil rejects every message.
	Process func(n *ClientNode, r *packet.Reader) error

	// Destroy runs on DeleteNode. Nil destroys the bound entity.
	Destroy func(n *ClientNode)
}

func kindName(s string) string {
	return norm.NFC.String(s)
}
