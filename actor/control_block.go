package actor

import (
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/troupe/sched"
)

// AbstractActor is the part of an actor the rest of the runtime interacts
// with through handles. Both local actors and remote proxies implement it.
type AbstractActor interface {
	// Enqueue places an element into the actor's mailbox. It returns
	// false if the actor already terminated; the caller must bounce
	// requests in that case. The unit is the caller's execution context,
	// used when the enqueue needs to re-schedule the actor.
	Enqueue(el *MailboxElement, unit sched.ExecUnit) bool

	// Cleanup runs the termination protocol exactly once. Only the
	// caller that wins the race runs the body; every other caller gets
	// false.
	Cleanup(reason error, unit sched.ExecUnit) bool

	// Attach installs a lifecycle observer. When the actor already
	// terminated the attachable fires immediately and Attach returns
	// false.
	Attach(a Attachable, unit sched.ExecUnit) bool

	// Detach removes the first attachable matching the given token and
	// reports whether one was removed.
	Detach(token any) bool
}

// ControlBlock stores an actor's identity and its strong and weak reference
// counts. Unlike common weak-pointer designs the goal is purely to break
// cycles: linking two actors creates a cycle that strong counts alone would
// leak. Actors start with one strong and one weak reference; the weak one is
// owned by the strong pool and dropped when the strong count reaches zero.
// The body is torn down when the strong count reaches zero; the block itself
// becomes garbage once the weak count follows.
type ControlBlock struct {
	// strongRefs and weakRefs are the two counters. The body stays valid
	// while strongRefs > 0.
	strongRefs atomic.Int64
	weakRefs   atomic.Int64

	// aid and nid are immutable for the lifetime of the block.
	aid ActorID
	nid NodeID

	// home is the runtime this actor belongs to.
	home System

	// body points at the actor while the strong count is positive.
	body atomic.Pointer[bodyBox]

	// dataDtor runs when the strong count reaches zero, tearing down the
	// actor body. blockDtor runs when the weak count reaches zero.
	dataDtor  func(AbstractActor)
	blockDtor func(*ControlBlock)
}

// bodyBox wraps the interface value so it can live in an atomic.Pointer.
type bodyBox struct {
	actor AbstractActor
}

// NewControlBlock allocates a block for the given actor with one strong and
// one weak reference. Either destructor thunk may be nil.
func NewControlBlock(aid ActorID, nid NodeID, home System,
	body AbstractActor, dataDtor func(AbstractActor),
	blockDtor func(*ControlBlock)) *ControlBlock {

	cb := &ControlBlock{
		aid:       aid,
		nid:       nid,
		home:      home,
		dataDtor:  dataDtor,
		blockDtor: blockDtor,
	}
	cb.strongRefs.Store(1)
	cb.weakRefs.Store(1)
	cb.body.Store(&bodyBox{actor: body})

	return cb
}

// ID returns the actor id stored in the block.
func (cb *ControlBlock) ID() ActorID {
	return cb.aid
}

// Node returns the node id stored in the block.
func (cb *ControlBlock) Node() NodeID {
	return cb.nid
}

// Address returns the actor's cluster-wide address.
func (cb *ControlBlock) Address() Addr {
	return Addr{Node: cb.nid, ID: cb.aid}
}

// Home returns the runtime this actor belongs to.
func (cb *ControlBlock) Home() System {
	return cb.home
}

// Get returns the actor body, or nil once the body has been torn down.
func (cb *ControlBlock) Get() AbstractActor {
	box := cb.body.Load()
	if box == nil {
		return nil
	}

	return box.actor
}

// StrongCount returns the current strong reference count.
func (cb *ControlBlock) StrongCount() int64 {
	return cb.strongRefs.Load()
}

// WeakCount returns the current weak reference count.
func (cb *ControlBlock) WeakCount() int64 {
	return cb.weakRefs.Load()
}

// incStrong bumps the strong count. The caller must already hold a strong
// reference; bumping an expired block is a bug.
func (cb *ControlBlock) incStrong() {
	if cb.strongRefs.Add(1) <= 1 {
		panic("troupe: revived the strong count of an expired actor")
	}
}

// decStrong drops one strong reference. The last drop tears down the body
// and releases the pool's weak reference.
func (cb *ControlBlock) decStrong() {
	if cb.strongRefs.Add(-1) != 0 {
		return
	}

	box := cb.body.Swap(nil)
	if box != nil && cb.dataDtor != nil {
		cb.dataDtor(box.actor)
	}
	cb.decWeak()
}

// incWeak bumps the weak count.
func (cb *ControlBlock) incWeak() {
	if cb.weakRefs.Add(1) <= 1 {
		panic("troupe: revived the weak count of an expired actor")
	}
}

// decWeak drops one weak reference, running the block destructor on the
// final drop.
func (cb *ControlBlock) decWeak() {
	if cb.weakRefs.Add(-1) != 0 {
		return
	}
	if cb.blockDtor != nil {
		cb.blockDtor(cb)
	}
}

// tryIncStrong attempts a weak-to-strong upgrade: it bumps the strong count
// iff it is still positive.
func (cb *ControlBlock) tryIncStrong() bool {
	for {
		cur := cb.strongRefs.Load()
		if cur <= 0 {
			return false
		}
		if cb.strongRefs.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// StrongRef is an owning handle. The last release tears down the actor body.
// Handles are small values; copy them only through Clone so the counts stay
// honest.
type StrongRef struct {
	cb *ControlBlock
}

// NewStrongRef adopts the initial strong reference of a fresh control block.
func NewStrongRef(cb *ControlBlock) *StrongRef {
	return &StrongRef{cb: cb}
}

// Clone returns a new strong handle, bumping the count.
func (s *StrongRef) Clone() *StrongRef {
	s.cb.incStrong()

	return &StrongRef{cb: s.cb}
}

// Release drops this handle's reference. The handle must not be used after.
func (s *StrongRef) Release() {
	s.cb.decStrong()
}

// Downgrade returns a weak handle to the same actor.
func (s *StrongRef) Downgrade() *WeakRef {
	s.cb.incWeak()

	return &WeakRef{cb: s.cb}
}

// ID returns the actor id.
func (s *StrongRef) ID() ActorID {
	return s.cb.ID()
}

// Node returns the owning node id.
func (s *StrongRef) Node() NodeID {
	return s.cb.Node()
}

// Address returns the actor's address.
func (s *StrongRef) Address() Addr {
	return s.cb.Address()
}

// Block exposes the underlying control block for runtime-internal callers
// that need the raw pointer.
func (s *StrongRef) Block() *ControlBlock {
	return s.cb
}

// Actor returns the actor body. Valid while this handle is held.
func (s *StrongRef) Actor() AbstractActor {
	return s.cb.Get()
}

// Enqueue delivers an element through this handle. See
// AbstractActor.Enqueue for the contract.
func (s *StrongRef) Enqueue(el *MailboxElement, unit sched.ExecUnit) bool {
	body := s.cb.Get()
	if body == nil {
		return false
	}

	return body.Enqueue(el, unit)
}

// WeakRef is a non-owning handle. It can be upgraded to a strong handle only
// while the actor body is still alive.
type WeakRef struct {
	cb *ControlBlock
}

// Upgrade attempts to produce a strong handle. It returns None once the
// actor body has been torn down.
func (w *WeakRef) Upgrade() fn.Option[*StrongRef] {
	if w == nil || w.cb == nil {
		return fn.None[*StrongRef]()
	}
	if !w.cb.tryIncStrong() {
		return fn.None[*StrongRef]()
	}

	return fn.Some(&StrongRef{cb: w.cb})
}

// Clone returns a new weak handle, bumping the weak count.
func (w *WeakRef) Clone() *WeakRef {
	w.cb.incWeak()

	return &WeakRef{cb: w.cb}
}

// Release drops this weak handle. The handle must not be used after.
func (w *WeakRef) Release() {
	w.cb.decWeak()
}

// ID returns the actor id.
func (w *WeakRef) ID() ActorID {
	return w.cb.ID()
}

// Node returns the owning node id.
func (w *WeakRef) Node() NodeID {
	return w.cb.Node()
}

// Address returns the actor's address.
func (w *WeakRef) Address() Addr {
	return w.cb.Address()
}

// Block exposes the underlying control block.
func (w *WeakRef) Block() *ControlBlock {
	return w.cb
}

// System is the slice of the runtime an actor needs: identity, the registry,
// the scheduler's enqueue path and the clock. The root runtime value
// implements it; tests substitute lightweight fakes.
type System interface {
	// NodeID returns the runtime instance's node id.
	NodeID() NodeID

	// Registry returns the actor registry.
	Registry() *Registry

	// Schedule hands a runnable job to the scheduler. The caller must
	// hold the scheduler reference on the job.
	Schedule(job sched.Resumable)

	// Clock returns the runtime's clock for delayed delivery.
	Clock() *sched.Clock
}
