package remote

import (
	"testing"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/sched"
	"github.com/stretchr/testify/require"
)

// recorderActor records the order elements reach its mailbox.
type recorderActor struct {
	got []int
}

func (r *recorderActor) Enqueue(el *actor.MailboxElement,
	_ sched.ExecUnit) bool {

	r.got = append(r.got, el.Content.(*seqMsg).n)

	return true
}

func (r *recorderActor) Cleanup(error, sched.ExecUnit) bool { return false }

func (r *recorderActor) Attach(actor.Attachable, sched.ExecUnit) bool {
	return false
}

func (r *recorderActor) Detach(any) bool { return false }

type seqMsg struct {
	actor.BaseMessage
	n int
}

func (seqMsg) MessageType() string { return "test.seq" }

// refFor wraps a recorder in a control block handle.
func refFor(t *testing.T, rec *recorderActor) *actor.StrongRef {
	t.Helper()

	cb := actor.NewControlBlock(
		1, actor.GenerateNodeID(), nil, rec, nil, nil,
	)

	return actor.NewStrongRef(cb)
}

// TestMessageQueueInOrder checks out-of-completion-order pushes still reach
// the target in ascending id order.
func TestMessageQueueInOrder(t *testing.T) {
	t.Parallel()

	q := NewMessageQueue()
	rec := &recorderActor{}

	id0 := q.NewID()
	id1 := q.NewID()
	id2 := q.NewID()

	push := func(id uint64, n int) {
		el := actor.NewMailboxElement(
			nil, actor.InvalidMessageID, &seqMsg{n: n},
		)
		q.Push(nil, id, refFor(t, rec), el)
	}

	// Workers finish decoding in the order 2, 0, 1.
	push(id2, 2)
	require.Empty(t, rec.got, "id 2 must buffer behind the gap")

	push(id0, 0)
	require.Equal(t, []int{0}, rec.got)

	push(id1, 1)
	require.Equal(t, []int{0, 1, 2}, rec.got,
		"filling the gap drains buffered successors")
}

// TestMessageQueueDrop checks a dropped id unblocks its successors without
// delivering anything.
func TestMessageQueueDrop(t *testing.T) {
	t.Parallel()

	q := NewMessageQueue()
	rec := &recorderActor{}

	id0 := q.NewID()
	id1 := q.NewID()

	el := actor.NewMailboxElement(
		nil, actor.InvalidMessageID, &seqMsg{n: 1},
	)
	q.Push(nil, id1, refFor(t, rec), el)
	require.Empty(t, rec.got)

	q.Drop(nil, id0)
	require.Equal(t, []int{1}, rec.got)
}

// TestMessageQueueOutOfOrderDrop checks drops buffered ahead of time also
// resolve once they become next in line.
func TestMessageQueueOutOfOrderDrop(t *testing.T) {
	t.Parallel()

	q := NewMessageQueue()
	rec := &recorderActor{}

	id0 := q.NewID()
	id1 := q.NewID()
	id2 := q.NewID()

	q.Drop(nil, id1)

	el := actor.NewMailboxElement(
		nil, actor.InvalidMessageID, &seqMsg{n: 2},
	)
	q.Push(nil, id2, refFor(t, rec), el)
	require.Empty(t, rec.got)

	q.Drop(nil, id0)
	require.Equal(t, []int{2}, rec.got)
}
