package remote

import (
	"sort"
	"sync"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/sched"
)

// pendingMsg is a decoded message waiting for its turn.
type pendingMsg struct {
	id       uint64
	receiver *actor.StrongRef
	content  *actor.MailboxElement
}

// MessageQueue enforces strict delivery order for messages decoded off one
// connection by multiple workers: targets observe them in the same ascending
// id order they arrived in, no matter which worker finished decoding first.
// Workers stamp a sequence id under the lock before decoding and push (or
// drop) the id when done.
type MessageQueue struct {
	mu sync.Mutex

	// nextID is the next sequence id to hand out.
	nextID uint64

	// nextUndelivered is the next id eligible for delivery; ready
	// messages above it buffer until the gap fills.
	nextUndelivered uint64

	// pending holds ready messages in ascending id order.
	pending []pendingMsg
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// NewID stamps the sequence for a message about to be decoded.
func (q *MessageQueue) NewID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++

	return id
}

// Push delivers the message immediately when its id is next in line (and
// then drains any buffered successors), or buffers it until the gap fills.
// Ownership of the receiver handle transfers to the queue.
func (q *MessageQueue) Push(unit sched.ExecUnit, id uint64,
	receiver *actor.StrongRef, content *actor.MailboxElement) {

	q.mu.Lock()
	defer q.mu.Unlock()

	if id != q.nextUndelivered {
		q.pending = append(q.pending, pendingMsg{
			id:       id,
			receiver: receiver,
			content:  content,
		})
		sort.Slice(q.pending, func(i, j int) bool {
			return q.pending[i].id < q.pending[j].id
		})

		return
	}

	q.deliverLocked(unit, receiver, content)
	q.nextUndelivered++
	q.drainLocked(unit)
}

// Drop advances the delivery counter without an effect, unblocking
// successors of a message whose decode failed.
func (q *MessageQueue) Drop(unit sched.ExecUnit, id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id != q.nextUndelivered {
		q.pending = append(q.pending, pendingMsg{id: id})
		sort.Slice(q.pending, func(i, j int) bool {
			return q.pending[i].id < q.pending[j].id
		})

		return
	}

	q.nextUndelivered++
	q.drainLocked(unit)
}

// drainLocked delivers buffered messages while they are next in line.
func (q *MessageQueue) drainLocked(unit sched.ExecUnit) {
	for len(q.pending) > 0 && q.pending[0].id == q.nextUndelivered {
		head := q.pending[0]
		q.pending = q.pending[1:]
		q.nextUndelivered++

		if head.receiver != nil {
			q.deliverLocked(unit, head.receiver, head.content)
		}
	}
}

// deliverLocked pushes one message into its target mailbox and releases the
// queue's receiver handle.
func (q *MessageQueue) deliverLocked(unit sched.ExecUnit,
	receiver *actor.StrongRef, content *actor.MailboxElement) {

	if !receiver.Enqueue(content, unit) {
		actor.BounceElement(content, unit)
	}
	receiver.Release()
}
