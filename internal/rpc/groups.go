package rpc

import "github.com/heatgun/hg/internal/core/ecs"

// Group replicates every node it follows to every peer it holds.
type Group struct {
	srv       *Server
	followers map[*Follower]struct{}
	peers     map[*Peer]struct{}
}

// Follower is a node's membership in one group.
type Follower struct {
	group    *Group
	node     *Node
	excluded *Peer
	gone     bool
}

// followerSet is attached to a node's entity so the node leaves its groups
// when the entity dies.
type followerSet struct {
	list []*Follower
}

func (s *Server) NewGroup() *Group {
	return &Group{
		srv:       s,
		followers: make(map[*Follower]struct{}),
		peers:     make(map[*Peer]struct{}),
	}
}

func (g *Group) Len() int       { return len(g.followers) }
func (g *Group) PeerCount() int { return len(g.peers) }

// connectedPeers drops disconnected peers from the group and yields the rest.
func (g *Group) connectedPeers(fn func(p *Peer)) {
	for p := range g.peers {
		if !p.connected {
			delete(g.peers, p)
			continue
		}
		fn(p)
	}
}

// AddNode makes n follow the group and replicates it to every connected
// peer except excluded, which may be nil.
func (g *Group) AddNode(n *Node, excluded *Peer) *Follower {
	f := &Follower{group: g, node: n, excluded: excluded}
	g.followers[f] = struct{}{}

	if set, ok := ecs.Get[followerSet](g.srv.world, n.entity); ok {
		set.list = append(set.list, f)
	} else {
		_ = ecs.Add(g.srv.world, n.entity, followerSet{list: []*Follower{f}})
	}

	g.connectedPeers(func(p *Peer) {
		if p != excluded {
			n.Replicate(p)
		}
	})
	return f
}

// AddPeer replicates every followed node to p. Disconnected peers are
// ignored.
func (g *Group) AddPeer(p *Peer) {
	if !p.connected {
		return
	}
	g.peers[p] = struct{}{}
	for f := range g.followers {
		if f.excluded != p {
			f.node.Replicate(p)
		}
	}
}

// RemovePeer hides every followed node from p.
func (g *Group) RemovePeer(p *Peer) {
	delete(g.peers, p)
	if !p.connected {
		return
	}
	for f := range g.followers {
		f.node.DeReplicate(p)
	}
}

func (g *Group) HasPeer(p *Peer) bool {
	_, ok := g.peers[p]
	return ok
}

func (f *Follower) Node() *Node { return f.node }

// Unregister removes the node from the group and hides it from the group's
// peers.
func (f *Follower) Unregister() {
	if f.gone {
		return
	}
	f.gone = true
	g := f.group
	delete(g.followers, f)

	if set, ok := ecs.Get[followerSet](g.srv.world, f.node.entity); ok {
		for i, other := range set.list {
			if other == f {
				set.list = append(set.list[:i], set.list[i+1:]...)
				break
			}
		}
	}

	g.connectedPeers(func(p *Peer) {
		f.node.DeReplicate(p)
	})
}
