package remote

import (
	"sync"

	"github.com/roasbeef/troupe/actor"
)

// proxyKey identifies one remote actor.
type proxyKey struct {
	node actor.NodeID
	aid  actor.ActorID
}

// ActorNamespace de-duplicates remote proxies: at most one live proxy exists
// per (node, actor-id) pair. The namespace holds weak handles so it never
// keeps a proxy alive on its own; entries whose proxies expired are replaced
// on the next lookup.
type ActorNamespace struct {
	mu      sync.Mutex
	entries map[proxyKey]*actor.WeakRef
}

// NewActorNamespace returns an empty namespace.
func NewActorNamespace() *ActorNamespace {
	return &ActorNamespace{
		entries: make(map[proxyKey]*actor.WeakRef),
	}
}

// GetOrPut returns a strong handle to the proxy for (node, aid), upgrading
// the existing entry or constructing a fresh proxy through factory. The
// caller owns the returned handle.
func (ns *ActorNamespace) GetOrPut(node actor.NodeID, aid actor.ActorID,
	factory func() *actor.StrongRef) *actor.StrongRef {

	ns.mu.Lock()
	defer ns.mu.Unlock()

	key := proxyKey{node: node, aid: aid}

	if weak, ok := ns.entries[key]; ok {
		strong := weak.Upgrade()
		if ref := strong.UnwrapOr(nil); ref != nil {
			return ref
		}

		// The proxy expired between lookups; drop the stale entry.
		weak.Release()
		delete(ns.entries, key)
	}

	ref := factory()
	if ref == nil {
		return nil
	}
	ns.entries[key] = ref.Downgrade()

	return ref
}

// Get returns a strong handle for an existing live proxy, or nil.
func (ns *ActorNamespace) Get(node actor.NodeID,
	aid actor.ActorID) *actor.StrongRef {

	ns.mu.Lock()
	defer ns.mu.Unlock()

	weak, ok := ns.entries[proxyKey{node: node, aid: aid}]
	if !ok {
		return nil
	}

	return weak.Upgrade().UnwrapOr(nil)
}

// CountProxies returns the number of live proxies owned by node.
func (ns *ActorNamespace) CountProxies(node actor.NodeID) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	count := 0
	for key, weak := range ns.entries {
		if key.node != node {
			continue
		}
		strong := weak.Upgrade()
		if ref := strong.UnwrapOr(nil); ref != nil {
			ref.Release()
			count++
		}
	}

	return count
}

// EraseOne removes the entry for a single remote actor and returns a strong
// handle to the evicted proxy when it is still alive. The caller owns the
// handle.
func (ns *ActorNamespace) EraseOne(node actor.NodeID,
	aid actor.ActorID) *actor.StrongRef {

	ns.mu.Lock()
	defer ns.mu.Unlock()

	key := proxyKey{node: node, aid: aid}
	weak, ok := ns.entries[key]
	if !ok {
		return nil
	}
	delete(ns.entries, key)

	strong := weak.Upgrade().UnwrapOr(nil)
	weak.Release()

	return strong
}

// Erase removes every entry owned by node, returning strong handles to the
// proxies that were still alive so the caller can tombstone them. The caller
// owns the handles.
func (ns *ActorNamespace) Erase(node actor.NodeID) []*actor.StrongRef {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	var evicted []*actor.StrongRef
	for key, weak := range ns.entries {
		if key.node != node {
			continue
		}
		delete(ns.entries, key)

		if strong := weak.Upgrade().UnwrapOr(nil); strong != nil {
			evicted = append(evicted, strong)
		}
		weak.Release()
	}

	return evicted
}
