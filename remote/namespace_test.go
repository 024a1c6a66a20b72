package remote

import (
	"testing"

	"github.com/roasbeef/troupe/actor"
	"github.com/stretchr/testify/require"
)

// fakeTransport records forwarded elements and can refuse service.
type fakeTransport struct {
	forwarded []*actor.MailboxElement
	err       error
}

func (f *fakeTransport) ForwardDirect(p *Proxy,
	el *actor.MailboxElement) error {

	if f.err != nil {
		return f.err
	}
	f.forwarded = append(f.forwarded, el)

	return nil
}

// newTestProxy builds a proxy with the fake transport.
func newTestProxy(node actor.NodeID, aid actor.ActorID,
	tr *fakeTransport) (*Proxy, *actor.StrongRef) {

	return NewProxy(nil, node, aid, tr)
}

// TestNamespaceDedup checks get-or-put returns the same proxy while it is
// alive and a fresh one after it expired.
func TestNamespaceDedup(t *testing.T) {
	t.Parallel()

	ns := NewActorNamespace()
	node := actor.GenerateNodeID()
	tr := &fakeTransport{}

	built := 0
	factory := func() *actor.StrongRef {
		built++
		_, ref := newTestProxy(node, 7, tr)

		return ref
	}

	ref1 := ns.GetOrPut(node, 7, factory)
	require.NotNil(t, ref1)
	require.Equal(t, 1, built)

	ref2 := ns.GetOrPut(node, 7, factory)
	require.Equal(t, 1, built, "live proxy must be reused")
	require.Equal(t, ref1.Block(), ref2.Block())
	ref2.Release()

	require.Equal(t, 1, ns.CountProxies(node))

	// Dropping all strong handles expires the entry; the next lookup
	// constructs a fresh proxy.
	ref1.Release()
	require.Equal(t, 0, ns.CountProxies(node))

	ref3 := ns.GetOrPut(node, 7, factory)
	require.Equal(t, 2, built)
	ref3.Release()
}

// TestNamespaceErase checks wholesale eviction returns only live proxies of
// the given node.
func TestNamespaceErase(t *testing.T) {
	t.Parallel()

	ns := NewActorNamespace()
	nodeA := actor.GenerateNodeID()
	nodeB := actor.GenerateNodeID()
	tr := &fakeTransport{}

	refA := ns.GetOrPut(nodeA, 1, func() *actor.StrongRef {
		_, ref := newTestProxy(nodeA, 1, tr)

		return ref
	})
	refB := ns.GetOrPut(nodeB, 2, func() *actor.StrongRef {
		_, ref := newTestProxy(nodeB, 2, tr)

		return ref
	})
	defer refB.Release()

	evicted := ns.Erase(nodeA)
	require.Len(t, evicted, 1)
	require.Equal(t, refA.Block(), evicted[0].Block())
	evicted[0].Release()
	refA.Release()

	require.Equal(t, 0, ns.CountProxies(nodeA))
	require.Equal(t, 1, ns.CountProxies(nodeB))
	require.Nil(t, ns.Get(nodeA, 1))
}

// TestProxyKillBouncesPending checks in-flight requests through a proxy are
// bounced into their requesters' response slots when the proxy dies.
func TestProxyKillBouncesPending(t *testing.T) {
	t.Parallel()

	node := actor.GenerateNodeID()
	tr := &fakeTransport{}
	proxy, ref := newTestProxy(node, 9, tr)
	defer ref.Release()

	// A local requester waits on mid.
	mid := actor.MakeMessageID(77)
	rcv, future := actor.NewResponseReceiver(nil, mid)
	defer rcv.Release()

	el := actor.NewMailboxElement(rcv.Downgrade(), mid, &seqMsg{n: 1})
	require.True(t, ref.Enqueue(el, nil))
	require.Len(t, tr.forwarded, 1)

	require.True(t, proxy.Kill(actor.ErrConnectionClosed, nil))
	require.False(t, proxy.Kill(actor.ErrConnectionClosed, nil),
		"kill must be idempotent")

	res := future.Await(timeoutCtx(t))
	require.ErrorIs(t, res.Err(), actor.ErrReceiverDown)

	// A terminated proxy refuses further elements.
	require.False(t, ref.Enqueue(
		actor.NewMailboxElement(nil, actor.InvalidMessageID,
			&seqMsg{n: 2}),
		nil,
	))
}

// TestProxyAttachAfterKill checks attaching to a dead proxy fires the
// observer immediately.
func TestProxyAttachAfterKill(t *testing.T) {
	t.Parallel()

	node := actor.GenerateNodeID()
	proxy, ref := newTestProxy(node, 3, &fakeTransport{})
	defer ref.Release()

	proxy.Kill(actor.ErrConnectionClosed, nil)

	fired := make(chan error, 1)
	ok := proxy.Attach(actor.NewExitCallback(func(reason error) {
		fired <- reason
	}), nil)
	require.False(t, ok)

	select {
	case reason := <-fired:
		require.ErrorIs(t, reason, actor.ErrConnectionClosed)
	default:
		t.Fatal("attachable did not fire immediately")
	}
}
