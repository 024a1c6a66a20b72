package remote

import (
	"sync"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/sched"
)

// proxyTransport is the slice of the middleman a proxy needs: serializing
// and routing one mailbox element to the owning node.
type proxyTransport interface {
	// ForwardDirect writes el as a direct message to the proxy's owner.
	ForwardDirect(p *Proxy, el *actor.MailboxElement) error
}

// Proxy is the local handle for a remote actor. It satisfies the same
// enqueue contract as any actor: elements pushed into it are serialized and
// routed through the owning peer's write buffer. A dedicated set of
// outstanding request ids is kept so terminating the proxy bounces every
// in-flight requester.
type Proxy struct {
	// cb carries the remote actor's identity: the owning node's id and
	// the actor id on that node.
	cb *actor.ControlBlock

	// transport forwards serialized elements.
	transport proxyTransport

	// mu guards the fields below.
	mu sync.Mutex

	// attachables are the local lifecycle observers (monitors, links).
	attachables []actor.Attachable

	// pending maps outstanding request ids to their local requesters.
	pending map[actor.MessageID]*actor.WeakRef

	// terminated flips once Kill ran; failState records the reason.
	terminated bool
	failState  error
}

// NewProxy constructs a proxy for the remote actor (node, aid) and returns
// the owning strong handle.
func NewProxy(sys actor.System, node actor.NodeID, aid actor.ActorID,
	transport proxyTransport) (*Proxy, *actor.StrongRef) {

	p := &Proxy{
		transport: transport,
		pending:   make(map[actor.MessageID]*actor.WeakRef),
	}
	p.cb = actor.NewControlBlock(aid, node, sys, p, nil, nil)

	return p, actor.NewStrongRef(p.cb)
}

// Node returns the owning node's id.
func (p *Proxy) Node() actor.NodeID {
	return p.cb.Node()
}

// ID returns the actor id on the owning node.
func (p *Proxy) ID() actor.ActorID {
	return p.cb.ID()
}

// Address returns the remote actor's address.
func (p *Proxy) Address() actor.Addr {
	return p.cb.Address()
}

// Enqueue serializes the element and routes it to the owning peer. Requests
// are tracked so a later Kill can bounce them. Returns false once the proxy
// is terminated.
func (p *Proxy) Enqueue(el *actor.MailboxElement, unit sched.ExecUnit) bool {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()

		return false
	}
	if el.MID.IsRequest() && el.Sender != nil {
		p.pending[el.MID] = el.Sender.Clone()
	}
	p.mu.Unlock()

	if err := p.transport.ForwardDirect(p, el); err != nil {
		log.DebugS(ctxb, "Proxy forward failed",
			"proxy", p.Address(), "err", err)
		p.Kill(actor.ErrUnreachable, unit)

		return false
	}

	return true
}

// CompleteRequest drops the pending entry for a request whose response
// arrived, so a later Kill does not bounce it twice.
func (p *Proxy) CompleteRequest(mid actor.MessageID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if weak, ok := p.pending[mid]; ok {
		weak.Release()
		delete(p.pending, mid)
	}
}

// Cleanup satisfies the AbstractActor contract; for proxies it is Kill.
func (p *Proxy) Cleanup(reason error, unit sched.ExecUnit) bool {
	return p.Kill(reason, unit)
}

// Kill terminates the proxy: local attachables observe the exit exactly
// once and every outstanding requester receives a bounce in its response-id
// slot. Idempotent.
func (p *Proxy) Kill(reason error, unit sched.ExecUnit) bool {
	if reason == nil {
		reason = actor.ErrNormal
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()

		return false
	}
	p.terminated = true
	p.failState = reason
	attached := p.attachables
	p.attachables = nil
	pending := p.pending
	p.pending = make(map[actor.MessageID]*actor.WeakRef)
	p.mu.Unlock()

	log.DebugS(ctxb, "Remote proxy terminated",
		"proxy", p.Address(), "reason", reason)

	addr := p.Address()
	for _, at := range attached {
		at.ActorExited(addr, reason, unit)
	}

	for mid, weak := range pending {
		strong := weak.Upgrade()
		strong.WhenSome(func(ref *actor.StrongRef) {
			defer ref.Release()

			resp := actor.NewMailboxElement(
				nil, mid.ResponseID(),
				&actor.ErrorMsg{Err: actor.ErrReceiverDown},
			)
			ref.Enqueue(resp, unit)
		})
		weak.Release()
	}

	return true
}

// FailState returns the reason the proxy was killed with.
func (p *Proxy) FailState() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.failState
}

// IsTerminated reports whether Kill ran.
func (p *Proxy) IsTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.terminated
}

// Attach installs a lifecycle observer. On a terminated proxy the observer
// fires immediately and Attach returns false.
func (p *Proxy) Attach(a actor.Attachable, unit sched.ExecUnit) bool {
	p.mu.Lock()
	if p.terminated {
		reason := p.failState
		p.mu.Unlock()

		a.ActorExited(p.Address(), reason, unit)

		return false
	}
	p.attachables = append(p.attachables, a)
	p.mu.Unlock()

	return true
}

// Detach removes the first attachable matching token.
func (p *Proxy) Detach(token any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, at := range p.attachables {
		if at.Matches(token) {
			p.attachables = append(
				p.attachables[:i], p.attachables[i+1:]...,
			)

			return true
		}
	}

	return false
}
