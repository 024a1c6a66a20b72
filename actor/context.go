package actor

import (
	"time"

	"github.com/roasbeef/troupe/sched"
)

// Context is the view of the runtime a behavior receives alongside each
// message. It exposes the actor's own operations (become, quit, links) and
// the messaging surface (send, request, delayed delivery). A Context is only
// valid for the duration of the handler invocation that received it.
type Context struct {
	actor *Actor
	el    *MailboxElement
	unit  sched.ExecUnit
}

// ID returns the id of the running actor.
func (c *Context) ID() ActorID {
	return c.actor.ID()
}

// Address returns the running actor's cluster-wide address.
func (c *Context) Address() Addr {
	return c.actor.Address()
}

// System returns the owning runtime.
func (c *Context) System() System {
	return c.actor.system
}

// Sender returns a weak handle to the sender of the current message, or nil
// for anonymous and synthesized messages. The handle is only valid for the
// handler invocation; clone it to keep it.
func (c *Context) Sender() *WeakRef {
	if c.el == nil {
		return nil
	}

	return c.el.Sender
}

// MessageID returns the id of the current message.
func (c *Context) MessageID() MessageID {
	if c.el == nil {
		return InvalidMessageID
	}

	return c.el.MID
}

// SelfWeak returns a fresh weak handle to the running actor. The caller owns
// the handle.
func (c *Context) SelfWeak() *WeakRef {
	return c.actor.weakSelf()
}

// Become pushes (keep == true) or replaces (keep == false) the top of the
// behavior stack.
func (c *Context) Become(b Behavior, keep bool) {
	c.actor.Become(b, keep)
}

// UnBecome pops the top of the behavior stack.
func (c *Context) UnBecome() {
	c.actor.UnBecome()
}

// Quit drains the behavior stack; once the current handler returns the
// actor leaves through cleanup with the given reason.
func (c *Context) Quit(reason error) {
	c.actor.Quit(reason)
}

// TrapExit toggles whether exit messages are trapped as ordinary messages.
func (c *Context) TrapExit(trap bool) {
	if trap {
		c.actor.setFlag(flagTrapExit)
	} else {
		c.actor.clearFlag(flagTrapExit)
	}
}

// Send delivers an asynchronous message to target.
func (c *Context) Send(target *StrongRef, msg Message) {
	el := NewMailboxElement(c.SelfWeak(), InvalidMessageID, msg)
	if !target.Enqueue(el, c.unit) {
		BounceElement(el, c.unit)
	}
}

// SendUrgent delivers an asynchronous message through the urgent queue.
func (c *Context) SendUrgent(target *StrongRef, msg Message) {
	mid := InvalidMessageID.WithUrgent()
	el := NewMailboxElement(c.SelfWeak(), mid, msg)
	if !target.Enqueue(el, c.unit) {
		BounceElement(el, c.unit)
	}
}

// Request sends a request to target and registers handler on the ordered
// await list: responses resolve strictly head-first. A zero timeout
// disables the clock-driven timeout.
func (c *Context) Request(target *StrongRef, timeout time.Duration,
	msg Message, handler ResponseHandler) MessageID {

	return c.actor.sendRequest(
		target, timeout, msg, true, handler, c.unit,
	)
}

// RequestMultiplexed sends a request whose response may resolve in any
// order relative to other pending requests.
func (c *Context) RequestMultiplexed(target *StrongRef,
	timeout time.Duration, msg Message,
	handler ResponseHandler) MessageID {

	return c.actor.sendRequest(
		target, timeout, msg, false, handler, c.unit,
	)
}

// SendAfter schedules msg for delivery to target after delay d. The
// returned disposable cancels the delivery if disposed before it fires.
func (c *Context) SendAfter(d time.Duration, target *StrongRef,
	msg Message) sched.Disposable {

	self := c.SelfWeak()
	dest := target.Downgrade()

	return c.actor.system.Clock().ScheduleAfter(d, func() {
		defer self.Release()
		defer dest.Release()

		strong := dest.Upgrade()
		strong.WhenSome(func(ref *StrongRef) {
			defer ref.Release()

			el := NewMailboxElement(
				self.Clone(), InvalidMessageID, msg,
			)
			if !ref.Enqueue(el, nil) {
				BounceElement(el, nil)
			}
		})
	})
}

// Monitor installs a monitor on target: when it exits, this actor receives
// a DownMsg carrying the exit reason.
func (c *Context) Monitor(target *StrongRef) {
	body := target.Actor()
	if body == nil {
		// Already gone: deliver the down message immediately.
		el := NewMailboxElement(nil, InvalidMessageID, &DownMsg{
			Source: target.Address(),
			Reason: ErrReceiverDown,
		})
		c.actor.Enqueue(el, c.unit)

		return
	}

	body.Attach(NewMonitor(c.SelfWeak(), false), c.unit)
}

// Demonitor removes a previously installed monitor on target.
func (c *Context) Demonitor(target *StrongRef) {
	if body := target.Actor(); body != nil {
		body.Detach(monitorToken{observer: c.Address()})
	}
}

// LinkTo installs a bidirectional link with target.
func (c *Context) LinkTo(target *StrongRef) {
	c.actor.LinkTo(target, c.unit)
}

// UnlinkFrom removes a bidirectional link with target.
func (c *Context) UnlinkFrom(target *StrongRef) {
	c.actor.UnlinkFrom(target, c.unit)
}
