package actor

import (
	"github.com/roasbeef/troupe/sched"
)

// Attachable is a lifecycle observer attached to an actor. Attachables live
// in an intrusive singly-linked list owned by the actor; insertions and
// removals only happen under the actor's exclusive lock.
type Attachable interface {
	// ActorExited delivers the exit notification. It runs exactly once,
	// on the execution context of whichever caller won the cleanup race.
	ActorExited(self Addr, reason error, unit sched.ExecUnit)

	// Matches reports whether this attachable corresponds to the given
	// removal token (e.g. the peer address of a link).
	Matches(token any) bool
}

// attachNode is one element of the intrusive observer list.
type attachNode struct {
	next       *attachNode
	attachable Attachable
}

// monitorToken identifies a monitor attachable for removal.
type monitorToken struct {
	observer Addr
}

// linkToken identifies a link attachable for removal.
type linkToken struct {
	peer Addr
}

// monitorAttachable delivers a down message to the observer when the
// monitored actor exits.
type monitorAttachable struct {
	// observer receives the down message.
	observer *WeakRef

	// urgent upgrades the down message's priority.
	urgent bool
}

// NewMonitor returns an attachable that sends DownMsg to observer on exit.
// Setting urgent routes the notification through the urgent mailbox queue.
func NewMonitor(observer *WeakRef, urgent bool) Attachable {
	return &monitorAttachable{observer: observer, urgent: urgent}
}

func (m *monitorAttachable) ActorExited(self Addr, reason error,
	unit sched.ExecUnit) {

	strong := m.observer.Upgrade()
	strong.WhenSome(func(ref *StrongRef) {
		defer ref.Release()

		mid := InvalidMessageID
		if m.urgent {
			mid = mid.WithUrgent()
		}
		el := NewMailboxElement(nil, mid, &DownMsg{
			Source: self,
			Reason: reason,
		})
		ref.Enqueue(el, unit)
	})
	m.observer.Release()
}

func (m *monitorAttachable) Matches(token any) bool {
	t, ok := token.(monitorToken)

	return ok && t.observer == m.observer.Address()
}

// linkAttachable is one half of a bidirectional link: on exit it delivers an
// exit message to the linked peer.
type linkAttachable struct {
	peer *WeakRef
}

// NewLink returns the attachable half of a link pointing at peer.
func NewLink(peer *WeakRef) Attachable {
	return &linkAttachable{peer: peer}
}

func (l *linkAttachable) ActorExited(self Addr, reason error,
	unit sched.ExecUnit) {

	strong := l.peer.Upgrade()
	strong.WhenSome(func(ref *StrongRef) {
		defer ref.Release()

		el := NewMailboxElement(nil, InvalidMessageID, &ExitMsg{
			Source: self,
			Reason: reason,
		})
		ref.Enqueue(el, unit)
	})
	l.peer.Release()
}

func (l *linkAttachable) Matches(token any) bool {
	t, ok := token.(linkToken)

	return ok && t.peer == l.peer.Address()
}

// exitCallback invokes a plain function with the fail state on exit.
type exitCallback struct {
	fn func(reason error)
}

// NewExitCallback wraps fn into an attachable.
func NewExitCallback(fn func(reason error)) Attachable {
	return &exitCallback{fn: fn}
}

func (c *exitCallback) ActorExited(_ Addr, reason error, _ sched.ExecUnit) {
	c.fn(reason)
}

func (c *exitCallback) Matches(any) bool {
	return false
}
