package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/troupe/sched"
)

// Actor state flags.
const (
	// flagInitialized is set once the init hook ran.
	flagInitialized uint32 = 1 << iota

	// flagBlocked mirrors the mailbox's parked state.
	flagBlocked

	// flagTerminated is set exactly once by the cleanup winner.
	flagTerminated

	// flagRegistered is set while the actor is visible in the registry.
	flagRegistered

	// flagCollectsMetrics enables the mailbox-time histogram.
	flagCollectsMetrics

	// flagTrapExit turns exit messages into ordinary messages instead of
	// propagating the reason.
	flagTrapExit

	// flagHidden excludes the actor from the registry's running count.
	flagHidden
)

// Config bundles the knobs for constructing an actor.
type Config struct {
	// Behavior is the initial bottom of the behavior stack.
	Behavior Behavior

	// InitHook, when set, runs on the actor's own context before the
	// first message is processed (lazy initialization).
	InitHook func(ctx *Context)

	// DefaultHandler runs for ordinary messages the behavior stack does
	// not match. Defaults to log-and-drop.
	DefaultHandler func(ctx *Context, el *MailboxElement)

	// ExceptionHandler converts a recovered panic value into the actor's
	// fail state. Returning nil swallows the panic. Defaults to wrapping
	// into ErrUnhandledException.
	ExceptionHandler func(recovered any) error

	// OnCleanup runs at the tail of the cleanup protocol.
	OnCleanup func(reason error)

	// TrapExit makes the actor observe ExitMsg as a regular message.
	TrapExit bool

	// Hidden excludes the actor from the registry's running count, for
	// runtime-internal helpers that should not delay system shutdown.
	Hidden bool

	// MailboxHisto observes mailbox residency time per message. None
	// disables the measurement.
	MailboxHisto fn.Option[prometheus.Observer]
}

// Actor is a local actor body: a behavior stack, the pending-response
// bookkeeping, the mailbox and the attachable list. It implements both
// AbstractActor (for handles) and sched.Resumable (for workers).
type Actor struct {
	// cb is the control block holding identity and refcounts.
	cb *ControlBlock

	// system is the owning runtime.
	system System

	// mailbox is the actor's inbox. Only the driving worker touches the
	// consumer side.
	mailbox *Mailbox

	// behaviors is the behavior stack; the top entry is active.
	behaviors []Behavior

	// awaited is the ordered pending-response list; the head entry has
	// priority and later responses are skipped until it resolves.
	awaited []awaitEntry

	// multiplexed is the unordered pending-response map.
	multiplexed map[MessageID]ResponseHandler

	// pendingTimeouts maps request ids to their clock disposables so a
	// resolved request cancels its timeout.
	pendingTimeouts map[MessageID]sched.Disposable

	// openStreams counts installed stream slots; it feeds aliveness.
	openStreams int

	// mu is the actor's exclusive lock. It guards the attachable list
	// and link handshakes.
	mu sync.Mutex

	// attachables is the intrusive observer list head, guarded by mu.
	attachables *attachNode

	// flags is the atomic state bit-set.
	flags atomic.Uint32

	// failState is the exit reason recorded at cleanup time, guarded by
	// mu until flagTerminated is visible.
	failState error

	// quitReason is set by Quit and consumed as the default exit reason.
	quitReason fn.Option[error]

	// unit is the execution context currently driving the actor.
	unit sched.ExecUnit

	// detached, when non-nil, re-schedules the actor on its private
	// goroutine instead of the shared pool.
	detached *sched.DetachedUnit

	cfg Config
}

// ctxb is the background context threaded into structured log calls.
var ctxb = context.Background()

// New constructs an actor, registers it and returns the owning strong
// handle. The actor is not scheduled until its first message arrives or the
// caller schedules it explicitly.
func New(sys System, cfg Config) *StrongRef {
	if cfg.DefaultHandler == nil {
		cfg.DefaultHandler = func(ctx *Context, el *MailboxElement) {
			log.DebugS(ctxb, "Dropping unhandled message",
				"actor_id", ctx.ID(),
				"msg_type", el.Content.MessageType())
		}
	}
	if cfg.ExceptionHandler == nil {
		cfg.ExceptionHandler = func(recovered any) error {
			return fmt.Errorf("%w: %v",
				ErrUnhandledException, recovered)
		}
	}

	a := &Actor{
		system:          sys,
		mailbox:         NewMailbox(),
		multiplexed:     make(map[MessageID]ResponseHandler),
		pendingTimeouts: make(map[MessageID]sched.Disposable),
		cfg:             cfg,
	}
	if cfg.Behavior != nil {
		a.behaviors = append(a.behaviors, cfg.Behavior)
	}
	if cfg.TrapExit {
		a.setFlag(flagTrapExit)
	}
	if cfg.MailboxHisto.IsSome() {
		a.setFlag(flagCollectsMetrics)
	}

	reg := sys.Registry()
	aid := reg.NextID()

	// The data destructor runs when the last strong handle drops. An
	// actor that was never cleaned up still runs its exit path here so
	// monitors fire and the registry count stays honest.
	dtor := func(body AbstractActor) {
		body.Cleanup(ErrUnreachable, nil)
	}

	a.cb = NewControlBlock(aid, sys.NodeID(), sys, a, dtor, nil)
	ref := NewStrongRef(a.cb)

	weak := ref.Downgrade()
	reg.Put(aid, weak)
	weak.Release()
	if cfg.Hidden {
		a.setFlag(flagHidden)
	} else {
		reg.Inc()
	}
	a.setFlag(flagRegistered)

	log.DebugS(ctxb, "Actor spawned", "actor_id", aid)

	return ref
}

// ID returns the actor's id.
func (a *Actor) ID() ActorID {
	return a.cb.ID()
}

// Address returns the actor's cluster-wide address.
func (a *Actor) Address() Addr {
	return a.cb.Address()
}

// System returns the owning runtime.
func (a *Actor) System() System {
	return a.system
}

// SetDetachedUnit pins the actor to a private execution unit. Must be set
// before the first message is enqueued.
func (a *Actor) SetDetachedUnit(u *sched.DetachedUnit) {
	a.detached = u
}

// Park blocks the empty mailbox so the first enqueue (rather than the
// spawner) schedules the actor. Used for lazy-init spawns.
func (a *Actor) Park() {
	if a.mailbox.TryBlock() {
		a.setFlag(flagBlocked)
	}
}

// setFlag sets the given bits.
func (a *Actor) setFlag(bit uint32) {
	for {
		old := a.flags.Load()
		if a.flags.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// clearFlag clears the given bits.
func (a *Actor) clearFlag(bit uint32) {
	for {
		old := a.flags.Load()
		if a.flags.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

func (a *Actor) hasFlag(bit uint32) bool {
	return a.flags.Load()&bit != 0
}

// IsTerminated reports whether cleanup ran (or is running).
func (a *Actor) IsTerminated() bool {
	return a.hasFlag(flagTerminated)
}

// FailState returns the exit reason once the actor terminated.
func (a *Actor) FailState() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.failState
}

// -- AbstractActor -----------------------------------------------------------

// Enqueue places an element into the mailbox. A push that unblocks the
// mailbox transfers the scheduling duty to this caller: it acquires the
// scheduler reference and hands the actor to the pool (or its detached
// unit). Returns false when the actor terminated; callers must bounce
// requests then.
func (a *Actor) Enqueue(el *MailboxElement, unit sched.ExecUnit) bool {
	switch a.mailbox.Push(el) {
	case PushClosed:
		return false

	case PushUnblocked:
		a.clearFlag(flagBlocked)
		a.ScheduleRef()
		if a.detached != nil {
			a.detached.Schedule(a)
		} else if unit != nil {
			unit.Schedule(a)
		} else {
			a.system.Schedule(a)
		}
	}

	return true
}

// -- sched.Resumable ---------------------------------------------------------

// ScheduleRef acquires the scheduler's strong reference.
func (a *Actor) ScheduleRef() {
	a.cb.incStrong()
}

// ReleaseRef drops the scheduler's strong reference.
func (a *Actor) ReleaseRef() {
	a.cb.decStrong()
}

// CleanupAndRelease runs the exit path for a job stranded in a scheduler
// queue and drops the scheduler's reference.
func (a *Actor) CleanupAndRelease(reason error) {
	a.Cleanup(reason, nil)
	a.ReleaseRef()
}

// Resume drives the actor: up to maxThroughput messages are consumed, then
// the verdict tells the worker what to do next. An empty mailbox parks the
// actor: the mailbox blocks, the scheduler's reference is transferred out,
// and the next producer that unblocks the mailbox re-schedules us.
func (a *Actor) Resume(unit sched.ExecUnit, maxThroughput int) sched.ResumeResult {
	a.unit = unit

	if a.IsTerminated() {
		return sched.Done
	}

	if !a.hasFlag(flagInitialized) {
		a.setFlag(flagInitialized)
		if a.cfg.InitHook != nil {
			a.runProtected(func() {
				a.cfg.InitHook(a.contextFor(nil, unit))
			}, unit)
			if a.IsTerminated() {
				return sched.Done
			}
		}

		// An actor that comes out of init with nothing to live for
		// leaves right away.
		if !a.alive() && !a.mailbox.HasPending() {
			a.Cleanup(a.defaultExitReason(), unit)

			return sched.Done
		}
	}

	for handled := 0; handled < maxThroughput; handled++ {
		if a.IsTerminated() {
			return sched.Done
		}

		el := a.mailbox.Pop()
		if el == nil {
			if a.mailbox.FetchMore() {
				continue
			}

			// Nothing anywhere: park. A failed block means a
			// producer snuck in, so spin around.
			if a.mailbox.TryBlock() {
				a.setFlag(flagBlocked)
				a.cb.decStrong()

				return sched.AwaitingMessage
			}

			continue
		}

		a.consume(el, unit)

		if a.IsTerminated() {
			return sched.Done
		}

		// Aliveness: behavior stack, pending responses or open
		// streams keep the actor around. Once none remain and the
		// mailbox is drained, the actor leaves through cleanup.
		if !a.alive() && !a.mailbox.HasPending() {
			a.Cleanup(a.defaultExitReason(), unit)

			return sched.Done
		}
	}

	return sched.ResumeLater
}

// alive reports whether anything keeps the actor from terminating.
func (a *Actor) alive() bool {
	return len(a.behaviors) > 0 || len(a.awaited) > 0 ||
		len(a.multiplexed) > 0 || a.openStreams > 0
}

// defaultExitReason is the reason used when the actor winds down on its own.
func (a *Actor) defaultExitReason() error {
	return a.quitReason.UnwrapOr(error(ErrNormal))
}

// runProtected invokes fn, converting panics through the exception handler
// into the actor's fail state.
func (a *Actor) runProtected(fn func(), unit sched.ExecUnit) {
	defer func() {
		if r := recover(); r != nil {
			err := a.cfg.ExceptionHandler(r)
			if err != nil {
				a.Cleanup(err, unit)
			}
		}
	}()

	fn()
}

// consume dispatches one mailbox element: responses resolve pending
// requests, internal messages run their type-specific hooks, everything
// else goes through the behavior stack.
func (a *Actor) consume(el *MailboxElement, unit sched.ExecUnit) {
	skipped := false

	a.runProtected(func() {
		switch {
		case el.MID.IsResponse():
			skipped = a.consumeResponse(el, unit)

		case isSystemMessage(el.Content):
			skipped = a.consumeSystem(el, unit)

		default:
			skipped = a.consumeOrdinary(el, unit)
		}
	}, unit)

	if skipped {
		a.mailbox.CacheSkipped(el)
		return
	}

	if a.hasFlag(flagCollectsMetrics) {
		a.cfg.MailboxHisto.WhenSome(func(o prometheus.Observer) {
			o.Observe(time.Since(el.EnqueuedAt).Seconds())
		})
	}
}

// consumeResponse resolves a pending request. Ordered (awaited) entries are
// strictly head-first: a response for a non-head entry is skipped and
// retried once the head resolved. Multiplexed entries resolve in any order.
func (a *Actor) consumeResponse(el *MailboxElement, unit sched.ExecUnit) bool {
	reqID := el.MID.RequestID()

	result := fn.Ok(el.Content)
	if errMsg, ok := el.Content.(*ErrorMsg); ok {
		result = fn.Err[Message](errMsg.Err)
	}

	// Ordered list: only the head may resolve.
	if len(a.awaited) > 0 {
		if a.awaited[0].mid == reqID {
			entry := a.awaited[0]
			a.awaited = a.awaited[1:]
			a.cancelTimeout(reqID)
			entry.handler(a.contextFor(el, unit), result)

			return false
		}
		for _, e := range a.awaited[1:] {
			if e.mid == reqID {
				// Present but not at the head: skip.
				return true
			}
		}
	}

	if handler, ok := a.multiplexed[reqID]; ok {
		delete(a.multiplexed, reqID)
		a.cancelTimeout(reqID)
		handler(a.contextFor(el, unit), result)

		return false
	}

	log.TraceS(ctxb, "Dropping stale response",
		"actor_id", a.ID(), "msg_id", el.MID)

	return false
}

// consumeSystem runs the type-specific hook for an internal message and
// reports whether the behavior stack skipped it.
func (a *Actor) consumeSystem(el *MailboxElement, unit sched.ExecUnit) bool {
	switch msg := el.Content.(type) {
	case *ExitMsg:
		if a.hasFlag(flagTrapExit) {
			// Trapped exits demote to ordinary messages.
			return a.consumeOrdinary(el, unit)
		}
		if !IsNormalExit(msg.Reason) {
			a.Cleanup(msg.Reason, unit)
		}

	case *DownMsg:
		// Delegate to the behavior stack; monitors typically install
		// a matching case. Unmatched down messages fall through to
		// the default handler.
		return a.consumeOrdinary(el, unit)

	case *NodeDownMsg:
		return a.consumeOrdinary(el, unit)

	case *LinkMsg:
		if el.Sender != nil {
			a.addLinkHalf(el.Sender.Clone())
		}

	case *UnlinkMsg:
		if el.Sender != nil {
			a.removeLinkHalf(el.Sender.Address())
		}

	case *OpenStreamMsg:
		a.openStreams++
	}

	return false
}

// consumeOrdinary feeds the element through the top of the behavior stack,
// falling back to the default handler. Returns true when the behavior
// skipped the message.
func (a *Actor) consumeOrdinary(el *MailboxElement, unit sched.ExecUnit) bool {
	ctx := a.contextFor(el, unit)

	if len(a.behaviors) == 0 {
		a.cfg.DefaultHandler(ctx, el)
		return false
	}

	top := a.behaviors[len(a.behaviors)-1]
	result := top.Receive(ctx, el.Content)

	err := result.Err()
	switch {
	case err == nil:
		reply, _ := result.Unpack()
		if reply != nil && el.MID.IsRequest() {
			a.replyTo(el, reply, unit)
		}

		return false

	case errors.Is(err, ErrSkipped):
		return true

	default:
		// A handler error is an unhandled failure: it becomes the
		// actor's fail state.
		a.Cleanup(err, unit)

		return false
	}
}

// replyTo sends the response for a request element back to its sender.
func (a *Actor) replyTo(el *MailboxElement, reply Message,
	unit sched.ExecUnit) {

	if el.Sender == nil {
		return
	}

	strong := el.Sender.Upgrade()
	strong.WhenSome(func(ref *StrongRef) {
		defer ref.Release()

		self := a.weakSelf()
		resp := NewMailboxElement(self, el.MID.ResponseID(), reply)
		if !ref.Enqueue(resp, unit) {
			self.Release()
		}
	})
}

// weakSelf returns a fresh weak handle to this actor.
func (a *Actor) weakSelf() *WeakRef {
	a.cb.incWeak()

	return &WeakRef{cb: a.cb}
}

// contextFor assembles the per-message context handed to behaviors.
func (a *Actor) contextFor(el *MailboxElement, unit sched.ExecUnit) *Context {
	return &Context{actor: a, el: el, unit: unit}
}

// -- behavior stack ----------------------------------------------------------

// Become pushes a behavior on the stack (keep == true) or replaces the top
// (keep == false).
func (a *Actor) Become(b Behavior, keep bool) {
	if keep || len(a.behaviors) == 0 {
		a.behaviors = append(a.behaviors, b)
		return
	}

	a.behaviors[len(a.behaviors)-1] = b
}

// UnBecome pops the top of the behavior stack.
func (a *Actor) UnBecome() {
	if n := len(a.behaviors); n > 0 {
		a.behaviors[n-1] = nil
		a.behaviors = a.behaviors[:n-1]
	}
}

// Quit drains the behavior stack so the actor leaves through cleanup with
// the given reason once the current handler returns.
func (a *Actor) Quit(reason error) {
	a.quitReason = fn.Some(reason)
	a.behaviors = nil

	// Pending requests die with the actor; their handlers never run.
	a.awaited = nil
	for mid := range a.multiplexed {
		delete(a.multiplexed, mid)
	}
	a.openStreams = 0
}

// -- request plumbing --------------------------------------------------------

// sendRequest enqueues a request to target and registers its response
// handler. Ordered requests join the awaited list (head priority); the rest
// go to the multiplexed map.
func (a *Actor) sendRequest(target *StrongRef, timeout time.Duration,
	msg Message, ordered bool, handler ResponseHandler,
	unit sched.ExecUnit) MessageID {

	mid := a.system.Registry().NextMessageID()

	if ordered {
		a.awaited = append(a.awaited, awaitEntry{
			mid:     mid,
			handler: handler,
		})
	} else {
		a.multiplexed[mid] = handler
	}

	if timeout > 0 {
		a.RequestResponseTimeout(timeout, mid)
	}

	el := NewMailboxElement(a.weakSelf(), mid, msg)
	if !target.Enqueue(el, unit) {
		// Receiver already terminated: bounce to self so the handler
		// resolves through the regular response path.
		a.enqueueSelfError(mid, ErrReceiverDown, unit)
	}

	return mid
}

// RequestResponseTimeout asks the clock to deliver a timeout error for the
// given request id at now + d.
func (a *Actor) RequestResponseTimeout(d time.Duration, mid MessageID) {
	self := a.weakSelf()

	disp := a.system.Clock().ScheduleAfter(d, func() {
		defer self.Release()

		strong := self.Upgrade()
		strong.WhenSome(func(ref *StrongRef) {
			defer ref.Release()

			el := NewMailboxElement(
				nil, mid.ResponseID(),
				&ErrorMsg{Err: ErrTimeout},
			)
			ref.Enqueue(el, nil)
		})
	})

	a.pendingTimeouts[mid] = disp
}

// cancelTimeout disposes the pending timeout for a resolved request.
func (a *Actor) cancelTimeout(mid MessageID) {
	if disp, ok := a.pendingTimeouts[mid]; ok {
		disp.Dispose()
		delete(a.pendingTimeouts, mid)
	}
}

// enqueueSelfError loops an error response back into our own mailbox.
func (a *Actor) enqueueSelfError(mid MessageID, err *Error,
	unit sched.ExecUnit) {

	el := NewMailboxElement(nil, mid.ResponseID(), &ErrorMsg{Err: err})
	a.Enqueue(el, unit)
}

// -- attachables and links ---------------------------------------------------

// Attach installs a lifecycle observer. When the actor already terminated
// the observer fires immediately on the caller's context and Attach returns
// false.
func (a *Actor) Attach(at Attachable, unit sched.ExecUnit) bool {
	a.mu.Lock()
	if a.hasFlag(flagTerminated) {
		reason := a.failState
		a.mu.Unlock()

		at.ActorExited(a.Address(), reason, unit)

		return false
	}

	a.attachables = &attachNode{next: a.attachables, attachable: at}
	a.mu.Unlock()

	return true
}

// Detach removes the first attachable matching token.
func (a *Actor) Detach(token any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for pp := &a.attachables; *pp != nil; pp = &(*pp).next {
		if (*pp).attachable.Matches(token) {
			*pp = (*pp).next

			return true
		}
	}

	return false
}

// addLinkHalf installs our half of a link to peer. Takes ownership of the
// weak handle.
func (a *Actor) addLinkHalf(peer *WeakRef) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasFlag(flagTerminated) {
		peer.Release()

		return false
	}

	a.attachables = &attachNode{
		next:       a.attachables,
		attachable: NewLink(peer),
	}

	return true
}

// removeLinkHalf removes our half of a link to the peer address.
func (a *Actor) removeLinkHalf(peer Addr) bool {
	return a.Detach(linkToken{peer: peer})
}

// LinkTo installs a bidirectional link between this actor and other. Both
// sides' locks are taken in canonical address order so concurrent link
// handshakes cannot deadlock. Linking against a terminated actor
// synthesizes an immediate exit message to self.
func (a *Actor) LinkTo(other *StrongRef, unit sched.ExecUnit) {
	body := other.Actor()
	if body == nil {
		a.synthesizeExit(other.Address(), ErrReceiverDown, unit)

		return
	}

	peerBody, ok := body.(*Actor)
	if !ok {
		// Non-local peer (e.g. a remote proxy): install our half and
		// attach the mirroring half through the interface. Attaching
		// to a terminated peer fires the exit notification
		// immediately, which is exactly the synthesized exit the
		// contract asks for.
		if a.addLinkHalf(other.Downgrade()) {
			body.Attach(NewLink(a.weakSelf()), unit)
		}

		return
	}

	if peerBody == a {
		return
	}

	// Joined exclusive critical section: lock both actors in canonical
	// address order.
	first, second := a, peerBody
	if addrBefore(second.Address(), first.Address()) {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()

	if peerBody.hasFlag(flagTerminated) {
		reason := peerBody.failState
		second.mu.Unlock()
		first.mu.Unlock()

		a.synthesizeExit(peerBody.Address(), reason, unit)

		return
	}
	if a.hasFlag(flagTerminated) {
		second.mu.Unlock()
		first.mu.Unlock()

		return
	}

	a.attachables = &attachNode{
		next:       a.attachables,
		attachable: NewLink(peerBody.weakSelf()),
	}
	peerBody.attachables = &attachNode{
		next:       peerBody.attachables,
		attachable: NewLink(a.weakSelf()),
	}

	second.mu.Unlock()
	first.mu.Unlock()
}

// UnlinkFrom removes a bidirectional link between this actor and other.
func (a *Actor) UnlinkFrom(other *StrongRef, unit sched.ExecUnit) {
	a.removeLinkHalf(other.Address())

	if peerBody, ok := other.Actor().(*Actor); ok && peerBody != nil {
		peerBody.removeLinkHalf(a.Address())
		return
	}

	// Remote peer: ask the other side to drop its half.
	el := NewMailboxElement(a.weakSelf(), InvalidMessageID, &UnlinkMsg{})
	other.Enqueue(el, unit)
}

// addrBefore orders two actor addresses canonically: node id first, actor
// id second.
func addrBefore(x, y Addr) bool {
	if x.Node != y.Node {
		return x.Node.Less(y.Node)
	}

	return x.ID < y.ID
}

// synthesizeExit loops an exit message into our own mailbox.
func (a *Actor) synthesizeExit(source Addr, reason error,
	unit sched.ExecUnit) {

	el := NewMailboxElement(nil, InvalidMessageID, &ExitMsg{
		Source: source,
		Reason: reason,
	})
	a.Enqueue(el, unit)
}

// -- cleanup -----------------------------------------------------------------

// Cleanup runs the termination protocol. It is idempotent: only the caller
// that flips the terminated flag runs the body, every other caller gets
// false. Ordering: record the fail state and swap out the attachable list
// under the lock, bounce the mailbox, deliver each attachable's exit
// notification on the caller's execution context, unregister from the
// system, then run the user's cleanup hook.
func (a *Actor) Cleanup(reason error, unit sched.ExecUnit) bool {
	if reason == nil {
		reason = ErrNormal
	}

	a.mu.Lock()
	if a.hasFlag(flagTerminated) {
		a.mu.Unlock()

		return false
	}
	a.failState = reason
	a.setFlag(flagTerminated)
	head := a.attachables
	a.attachables = nil
	a.mu.Unlock()

	log.DebugS(ctxb, "Actor terminating",
		"actor_id", a.ID(), "reason", reason)

	// The mailbox is closed and every queued element bounced: requests
	// in flight get an error in their response-id slot, async messages
	// are dropped.
	for _, el := range a.mailbox.Close() {
		BounceElement(el, unit)
	}

	// Pending timers die with the actor.
	for mid, disp := range a.pendingTimeouts {
		disp.Dispose()
		delete(a.pendingTimeouts, mid)
	}

	// Exactly-once exit notification per attachable.
	addr := a.Address()
	for node := head; node != nil; node = node.next {
		node.attachable.ActorExited(addr, reason, unit)
	}

	if a.hasFlag(flagRegistered) {
		a.clearFlag(flagRegistered)
		reg := a.system.Registry()
		reg.Erase(a.ID())
		if !a.hasFlag(flagHidden) {
			reg.Dec()
		}
	}

	if a.cfg.OnCleanup != nil {
		a.cfg.OnCleanup(reason)
	}

	// A detached actor may be parked on its private unit; wake it so the
	// goroutine observes the termination and exits. The guarded upgrade
	// skips the wakeup when the body is already expiring.
	if a.detached != nil && a.cb.tryIncStrong() {
		a.detached.Schedule(a)
	}

	return true
}

// BounceElement rejects one mailbox element on behalf of a terminated
// receiver: requests are answered with a bounced error, everything else is
// dropped. Grounded in the sync-request bouncer of the exit path.
func BounceElement(el *MailboxElement, unit sched.ExecUnit) {
	defer func() {
		if el.Sender != nil {
			el.Sender.Release()
			el.Sender = nil
		}
	}()

	if !el.MID.IsRequest() || el.Sender == nil {
		return
	}

	strong := el.Sender.Upgrade()
	strong.WhenSome(func(ref *StrongRef) {
		defer ref.Release()

		resp := NewMailboxElement(
			nil, el.MID.ResponseID(), &ErrorMsg{Err: ErrBounced},
		)
		ref.Enqueue(resp, unit)
	})
}
