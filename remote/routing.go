package remote

import (
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/troupe/actor"
)

// Route is the answer to "which connection reaches node N": either the
// node's own connection or the connection of the first viable hop.
type Route struct {
	// Peer is the connection to write frames to.
	Peer *Peer

	// Hop is the intermediary node, equal to the destination for direct
	// routes.
	Hop actor.NodeID
}

// RoutingTable answers node reachability questions. It keeps a bijection of
// directly connected nodes and a map from destinations to candidate hop
// nodes. Every lookup and mutation is serialized behind one mutex.
//
// Invariants: a node never appears in both maps; every hop referenced by an
// indirect entry has a direct entry; removing a direct entry atomically
// invalidates indirect entries it was the last hop of.
type RoutingTable struct {
	mu sync.Mutex

	// direct maps a connected node to its peer, and back.
	direct   map[actor.NodeID]*Peer
	byPeer   map[*Peer]actor.NodeID
	indirect map[actor.NodeID]fn.Set[actor.NodeID]
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		direct:   make(map[actor.NodeID]*Peer),
		byPeer:   make(map[*Peer]actor.NodeID),
		indirect: make(map[actor.NodeID]fn.Set[actor.NodeID]),
	}
}

// AddDirect records a fresh connection to node. Any indirect entry for the
// node is dropped, keeping the two maps disjoint.
func (rt *RoutingTable) AddDirect(node actor.NodeID, p *Peer) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.direct[node]; ok {
		return fmt.Errorf("node %s already has a direct route", node)
	}

	rt.direct[node] = p
	rt.byPeer[p] = node
	delete(rt.indirect, node)

	return nil
}

// AddIndirect records that dest is reachable through hop. The entry is
// refused when dest already has a direct route or hop has none.
func (rt *RoutingTable) AddIndirect(dest, hop actor.NodeID) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.direct[dest]; ok {
		return fmt.Errorf("node %s already has a direct route", dest)
	}
	if _, ok := rt.direct[hop]; !ok {
		return fmt.Errorf("hop %s has no direct route", hop)
	}

	hops, ok := rt.indirect[dest]
	if !ok {
		hops = fn.NewSet[actor.NodeID]()
		rt.indirect[dest] = hops
	}
	hops.Add(hop)

	return nil
}

// RemoveDirect erases the direct entry for node. Indirect destinations whose
// last hop vanished are invalidated in the same critical section; their node
// ids are returned so the caller can synthesize node-down events.
func (rt *RoutingTable) RemoveDirect(node actor.NodeID) []actor.NodeID {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.removeDirectLocked(node)
}

func (rt *RoutingTable) removeDirectLocked(node actor.NodeID) []actor.NodeID {
	p, ok := rt.direct[node]
	if !ok {
		return nil
	}
	delete(rt.direct, node)
	delete(rt.byPeer, p)

	var lost []actor.NodeID
	for dest, hops := range rt.indirect {
		hops.Remove(node)
		if len(hops) == 0 {
			delete(rt.indirect, dest)
			lost = append(lost, dest)
		}
	}

	return lost
}

// RemovePeer erases the direct entry owned by the given connection.
func (rt *RoutingTable) RemovePeer(p *Peer) (actor.NodeID, []actor.NodeID, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	node, ok := rt.byPeer[p]
	if !ok {
		return actor.NodeID{}, nil, false
	}

	return node, rt.removeDirectLocked(node), true
}

// Lookup resolves the connection reaching the target node: direct first,
// then the first hop that still has a direct entry. Stale hops discovered
// along the way are evicted lazily.
func (rt *RoutingTable) Lookup(target actor.NodeID) fn.Option[Route] {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if p, ok := rt.direct[target]; ok {
		return fn.Some(Route{Peer: p, Hop: target})
	}

	hops, ok := rt.indirect[target]
	if !ok {
		return fn.None[Route]()
	}

	var route fn.Option[Route]
	var stale []actor.NodeID
	for hop := range hops {
		if route.IsSome() {
			break
		}
		if p, ok := rt.direct[hop]; ok {
			route = fn.Some(Route{Peer: p, Hop: hop})
		} else {
			stale = append(stale, hop)
		}
	}

	for _, hop := range stale {
		hops.Remove(hop)
	}
	if len(hops) == 0 {
		delete(rt.indirect, target)
	}

	return route
}

// DirectNode returns the node a connection serves.
func (rt *RoutingTable) DirectNode(p *Peer) (actor.NodeID, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	node, ok := rt.byPeer[p]

	return node, ok
}

// HasDirect reports whether node has a direct route.
func (rt *RoutingTable) HasDirect(node actor.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	_, ok := rt.direct[node]

	return ok
}

// Nodes returns all nodes with a direct route.
func (rt *RoutingTable) Nodes() []actor.NodeID {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	nodes := make([]actor.NodeID, 0, len(rt.direct))
	for node := range rt.direct {
		nodes = append(nodes, node)
	}

	return nodes
}
