package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/troupe/sched"
)

// Future represents the result of an asynchronous request. Consumers wait
// for the result (Await) or register a callback (OnComplete).
type Future interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[Message]

	// OnComplete registers a function invoked once the result is ready.
	// If the context is cancelled first, the callback receives the
	// context's error.
	OnComplete(ctx context.Context, cb func(fn.Result[Message]))
}

// Promise is the producer side of a Future.
type Promise interface {
	// Future returns the Future associated with this Promise.
	Future() Future

	// Complete attempts to set the result. It returns true if this call
	// was the first to complete the promise.
	Complete(result fn.Result[Message]) bool
}

// promiseImpl implements both sides over a closed-once channel.
type promiseImpl struct {
	done   chan struct{}
	once   sync.Once
	result fn.Result[Message]
}

// NewPromise creates an unresolved promise.
func NewPromise() Promise {
	return &promiseImpl{done: make(chan struct{})}
}

func (p *promiseImpl) Future() Future {
	return p
}

func (p *promiseImpl) Complete(result fn.Result[Message]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

func (p *promiseImpl) Await(ctx context.Context) fn.Result[Message] {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return fn.Err[Message](ctx.Err())
	}
}

func (p *promiseImpl) OnComplete(ctx context.Context,
	cb func(fn.Result[Message])) {

	go func() {
		select {
		case <-p.done:
			cb(p.result)
		case <-ctx.Done():
			cb(fn.Err[Message](ctx.Err()))
		}
	}()
}

// responseReceiver is a minimal actor body whose only job is to complete a
// promise with the first response it receives. The runtime spawns one per
// outside-world request.
type responseReceiver struct {
	cb      *ControlBlock
	promise Promise
	mid     MessageID
}

// NewResponseReceiver spawns a receiver for the given request id and returns
// its handle together with the future the response resolves. A nil system
// yields an anonymous receiver that cannot be addressed remotely.
func NewResponseReceiver(sys System, mid MessageID) (*StrongRef, Future) {
	rr := &responseReceiver{
		promise: NewPromise(),
		mid:     mid,
	}

	var (
		aid ActorID
		nid NodeID
	)
	if sys != nil {
		aid = sys.Registry().NextID()
		nid = sys.NodeID()
	}
	rr.cb = NewControlBlock(aid, nid, sys, rr, nil, nil)

	return NewStrongRef(rr.cb), rr.promise.Future()
}

// Enqueue resolves the promise with the first matching response. The
// receiver never schedules; delivery happens on the producer's goroutine.
func (rr *responseReceiver) Enqueue(el *MailboxElement,
	_ sched.ExecUnit) bool {

	if el.Sender != nil {
		el.Sender.Release()
		el.Sender = nil
	}

	if !el.MID.IsResponse() || el.MID.RequestID() != rr.mid {
		return true
	}

	if errMsg, ok := el.Content.(*ErrorMsg); ok {
		rr.promise.Complete(fn.Err[Message](errMsg.Err))
	} else {
		rr.promise.Complete(fn.Ok(el.Content))
	}

	return true
}

// Cleanup completes the promise with a bounce if it is still pending.
func (rr *responseReceiver) Cleanup(reason error, _ sched.ExecUnit) bool {
	return rr.promise.Complete(fn.Err[Message](ErrBounced))
}

// Attach fires immediately: the receiver has no lifecycle of its own.
func (rr *responseReceiver) Attach(a Attachable, unit sched.ExecUnit) bool {
	a.ActorExited(Addr{Node: rr.cb.Node(), ID: rr.cb.ID()}, ErrNormal, unit)

	return false
}

// Detach is a no-op for response receivers.
func (rr *responseReceiver) Detach(any) bool {
	return false
}
