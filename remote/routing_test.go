package remote

import (
	"testing"

	"github.com/roasbeef/troupe/actor"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func nid(b byte) actor.NodeID {
	var id actor.NodeID
	id.Hash[0] = b
	id.PID = uint32(b)

	return id
}

// TestRoutingDirectLookup checks the direct map resolves and removes.
func TestRoutingDirectLookup(t *testing.T) {
	t.Parallel()

	rt := NewRoutingTable()
	pB := &Peer{}

	b := nid(1)
	require.NoError(t, rt.AddDirect(b, pB))
	require.Error(t, rt.AddDirect(b, pB), "direct map is a bijection")

	route := rt.Lookup(b)
	require.True(t, route.IsSome())
	r, err := route.UnwrapOrErr(actor.ErrUnreachable)
	require.NoError(t, err)
	require.Equal(t, pB, r.Peer)
	require.Equal(t, b, r.Hop)

	rt.RemoveDirect(b)
	require.True(t, rt.Lookup(b).IsNone())
}

// TestRoutingIndirectRules checks the refusal rules: no indirect entry for
// a directly reachable node, no hop without a direct route.
func TestRoutingIndirectRules(t *testing.T) {
	t.Parallel()

	rt := NewRoutingTable()
	b, c, d := nid(1), nid(2), nid(3)

	require.NoError(t, rt.AddDirect(b, &Peer{}))

	// Hop without direct route: refused.
	require.Error(t, rt.AddIndirect(c, d))

	// Destination with direct route: refused.
	require.Error(t, rt.AddIndirect(b, b))

	require.NoError(t, rt.AddIndirect(c, b))

	route := rt.Lookup(c)
	require.True(t, route.IsSome())
	r, _ := route.UnwrapOrErr(actor.ErrUnreachable)
	require.Equal(t, b, r.Hop)

	// Adding a direct route to c drops the indirect entry.
	require.NoError(t, rt.AddDirect(c, &Peer{}))
	r2, _ := rt.Lookup(c).UnwrapOrErr(actor.ErrUnreachable)
	require.Equal(t, c, r2.Hop)
}

// TestRoutingFailover mirrors the failover scenario: A connects to B and C
// directly and learns C is also reachable via B. Closing A-B must leave the
// direct A-C route intact with no false positive through B.
func TestRoutingFailover(t *testing.T) {
	t.Parallel()

	rt := NewRoutingTable()
	b, c := nid(1), nid(2)
	pB, pC := &Peer{}, &Peer{}

	require.NoError(t, rt.AddDirect(b, pB))
	require.NoError(t, rt.AddDirect(c, pC))

	// C already has a direct route, so the indirect hint is refused and
	// the lookup must keep answering with the direct connection.
	require.Error(t, rt.AddIndirect(c, b))

	node, lost, ok := rt.RemovePeer(pB)
	require.True(t, ok)
	require.Equal(t, b, node)
	require.Empty(t, lost)

	route := rt.Lookup(c)
	require.True(t, route.IsSome())
	r, _ := route.UnwrapOrErr(actor.ErrUnreachable)
	require.Equal(t, pC, r.Peer, "A->C lookup must use the direct route")
	require.True(t, rt.Lookup(b).IsNone())
}

// TestRoutingLastHopInvalidation checks removing a direct entry atomically
// invalidates indirect destinations it was the last hop of.
func TestRoutingLastHopInvalidation(t *testing.T) {
	t.Parallel()

	rt := NewRoutingTable()
	b, c, d := nid(1), nid(2), nid(3)

	require.NoError(t, rt.AddDirect(b, &Peer{}))
	require.NoError(t, rt.AddDirect(d, &Peer{}))
	require.NoError(t, rt.AddIndirect(c, b))
	require.NoError(t, rt.AddIndirect(c, d))

	// Removing one hop keeps the destination reachable via the other.
	lost := rt.RemoveDirect(b)
	require.Empty(t, lost)
	require.True(t, rt.Lookup(c).IsSome())

	// Removing the last hop invalidates the destination.
	lost = rt.RemoveDirect(d)
	require.Equal(t, []actor.NodeID{c}, lost)
	require.True(t, rt.Lookup(c).IsNone())
}

// TestRoutingSoundnessProperty drives random mutations and checks the
// invariant: every hop referenced by an indirect entry has a direct entry,
// and no node appears in both maps.
func TestRoutingSoundnessProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		rt := NewRoutingTable()
		nodes := make([]actor.NodeID, 8)
		for i := range nodes {
			nodes[i] = nid(byte(i + 1))
		}

		pick := rapid.IntRange(0, len(nodes)-1)

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				rt.AddDirect(nodes[pick.Draw(t, "n")], &Peer{})
			case 1:
				rt.AddIndirect(
					nodes[pick.Draw(t, "dest")],
					nodes[pick.Draw(t, "hop")],
				)
			case 2:
				rt.RemoveDirect(nodes[pick.Draw(t, "n")])
			}
		}

		rt.mu.Lock()
		defer rt.mu.Unlock()

		for dest, hops := range rt.indirect {
			_, direct := rt.direct[dest]
			require.False(t, direct,
				"node in both direct and indirect maps")
			require.NotEmpty(t, hops)
			for hop := range hops {
				_, ok := rt.direct[hop]
				require.True(t, ok,
					"indirect hop without direct entry")
			}
		}
	})
}
