// Package simnet is an in-memory modules.Configuration test double: every
// registered node's eventloop.EventLoop is reachable directly, so a
// broadcast or unicast is just an AddEvent call rather than a real
// connection. Trimmed from the corpus's twins-network.go down to its
// core send/broadcast/Fetch machinery (no partition-schedule or
// byzantine-twin scenario DSL — this package exists for deterministic
// unit tests of single modules, not for consensus-level fault-injection
// experiments, which spec.md places out of scope for this exercise).
package simnet

import (
	"context"
	"sync"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/modules"
)

// Network is a shared registry of simulated replicas.
type Network struct {
	mut   sync.RWMutex
	nodes map[hotshot.ID]*node

	// blocked, if set, reports whether a message from sender to receiver
	// should be dropped, for tests exercising partial-connectivity
	// behavior without a full partition-schedule DSL.
	blocked func(sender, receiver hotshot.ID) bool
}

type node struct {
	id         hotshot.ID
	loop       *eventloop.EventLoop
	blockChain modules.BlockChain
}

// NewNetwork returns an empty simulated network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[hotshot.ID]*node)}
}

// SetBlocked installs a predicate used to drop messages between specific
// sender/receiver pairs, e.g. to simulate one replica being partitioned
// away from another.
func (n *Network) SetBlocked(blocked func(sender, receiver hotshot.ID) bool) {
	n.mut.Lock()
	defer n.mut.Unlock()
	n.blocked = blocked
}

// Join registers id's event loop and block chain with the network and
// returns a modules.Configuration bound to id, for wiring into that
// replica's modules.Core.
func (n *Network) Join(id hotshot.ID, loop *eventloop.EventLoop, blockChain modules.BlockChain) modules.Configuration {
	n.mut.Lock()
	n.nodes[id] = &node{id: id, loop: loop, blockChain: blockChain}
	n.mut.Unlock()
	return &Configuration{network: n, self: id}
}

func (n *Network) isBlocked(sender, receiver hotshot.ID) bool {
	n.mut.RLock()
	defer n.mut.RUnlock()
	return n.blocked != nil && n.blocked(sender, receiver)
}

func (n *Network) peers(self hotshot.ID) []*node {
	n.mut.RLock()
	defer n.mut.RUnlock()
	out := make([]*node, 0, len(n.nodes))
	for id, nd := range n.nodes {
		if id != self {
			out = append(out, nd)
		}
	}
	return out
}

func (n *Network) get(id hotshot.ID) (*node, bool) {
	n.mut.RLock()
	defer n.mut.RUnlock()
	nd, ok := n.nodes[id]
	return nd, ok
}

// Configuration is the modules.Configuration seen by one simulated
// replica (self), delivering every send as a direct AddEvent call on the
// recipient's own event loop.
type Configuration struct {
	network *Network
	self    hotshot.ID
}

func (c *Configuration) broadcast(msg any) {
	for _, peer := range c.network.peers(c.self) {
		if c.network.isBlocked(c.self, peer.id) {
			continue
		}
		peer.loop.AddEvent(msg)
	}
}

// Replicas returns a modules.Replica handle for every other node.
func (c *Configuration) Replicas() map[hotshot.ID]modules.Replica {
	out := make(map[hotshot.ID]modules.Replica)
	for _, peer := range c.network.peers(c.self) {
		out[peer.id] = &replicaHandle{config: c, id: peer.id}
	}
	return out
}

// Replica returns a handle to one other node, if registered.
func (c *Configuration) Replica(id hotshot.ID) (modules.Replica, bool) {
	if _, ok := c.network.get(id); ok {
		return &replicaHandle{config: c, id: id}, true
	}
	return nil, false
}

// Len returns the number of registered nodes, including self.
func (c *Configuration) Len() int {
	c.network.mut.RLock()
	defer c.network.mut.RUnlock()
	return len(c.network.nodes)
}

// QuorumSize returns a replica-count approximation of Q = ceil(2n/3)+1.
func (c *Configuration) QuorumSize() int {
	n := c.Len()
	return (2*n+2)/3 + 1
}

func (c *Configuration) Propose(proposal hotshot.ProposeMsg)   { c.broadcast(proposal) }
func (c *Configuration) Timeout(msg hotshot.TimeoutMsg)        { c.broadcast(msg) }
func (c *Configuration) DAProposal(msg hotshot.DAProposalMsg)  { c.broadcast(msg) }
func (c *Configuration) DAVote(msg hotshot.DAVoteMsg)          { c.broadcast(msg) }

// Fetch asks every other node's local block chain for hash, returning the
// first hit.
func (c *Configuration) Fetch(ctx context.Context, hash hotshot.Hash) (*hotshot.Block, bool) {
	for _, peer := range c.network.peers(c.self) {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
		if c.network.isBlocked(c.self, peer.id) || peer.blockChain == nil {
			continue
		}
		if b, ok := peer.blockChain.LocalGet(hash); ok {
			return b, true
		}
	}
	return nil, false
}

var _ modules.Configuration = (*Configuration)(nil)

// replicaHandle implements modules.Replica by delivering straight to the
// target node's event loop, same as a broadcast but addressed to one
// peer.
type replicaHandle struct {
	config *Configuration
	id     hotshot.ID
}

func (r *replicaHandle) ID() hotshot.ID { return r.id }

func (r *replicaHandle) deliver(msg any) {
	if r.config.network.isBlocked(r.config.self, r.id) {
		return
	}
	peer, ok := r.config.network.get(r.id)
	if !ok {
		return
	}
	peer.loop.AddEvent(msg)
}

func (r *replicaHandle) Vote(cert hotshot.PartialCert) {
	r.deliver(hotshot.VoteMsg{ID: r.config.self, PartialCert: cert})
}

func (r *replicaHandle) NewView(si hotshot.SyncInfo) {
	r.deliver(hotshot.NewViewMsg{ID: r.config.self, SyncInfo: si})
}

var _ modules.Replica = (*replicaHandle)(nil)
