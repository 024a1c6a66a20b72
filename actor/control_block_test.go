package actor

import (
	"testing"

	"github.com/roasbeef/troupe/sched"
	"github.com/stretchr/testify/require"
)

// stubActor is an AbstractActor that only records its destruction.
type stubActor struct {
	destroyed bool
}

func (s *stubActor) Enqueue(el *MailboxElement, _ sched.ExecUnit) bool {
	return !s.destroyed
}

func (s *stubActor) Cleanup(reason error, _ sched.ExecUnit) bool {
	return false
}

func (s *stubActor) Attach(a Attachable, _ sched.ExecUnit) bool {
	return false
}

func (s *stubActor) Detach(any) bool { return false }

// TestControlBlockCounts verifies the strong/weak lifecycle: a fresh block
// starts at one strong and one weak, the body dies with the last strong
// reference, and expired weak handles refuse to upgrade.
func TestControlBlockCounts(t *testing.T) {
	t.Parallel()

	body := &stubActor{}
	nid := GenerateNodeID()

	var dtorRan bool
	cb := NewControlBlock(7, nid, nil, body, func(a AbstractActor) {
		a.(*stubActor).destroyed = true
		dtorRan = true
	}, nil)

	require.EqualValues(t, 1, cb.StrongCount())
	require.EqualValues(t, 1, cb.WeakCount())
	require.EqualValues(t, 7, cb.ID())
	require.Equal(t, nid, cb.Node())

	strong := NewStrongRef(cb)
	weak := strong.Downgrade()
	require.EqualValues(t, 2, cb.WeakCount())

	// Cloning bumps and releasing drops the strong count.
	clone := strong.Clone()
	require.EqualValues(t, 2, cb.StrongCount())
	clone.Release()
	require.EqualValues(t, 1, cb.StrongCount())

	// While alive, upgrades succeed.
	up := weak.Upgrade()
	require.True(t, up.IsSome())
	up.UnwrapOr(nil).Release()

	// The last strong drop destroys the body and releases the pool's
	// weak reference.
	strong.Release()
	require.True(t, dtorRan)
	require.Nil(t, cb.Get())
	require.EqualValues(t, 0, cb.StrongCount())
	require.EqualValues(t, 1, cb.WeakCount())

	// The weak handle survives the body but can no longer upgrade.
	require.True(t, weak.Upgrade().IsNone())
	weak.Release()
	require.EqualValues(t, 0, cb.WeakCount())
}

// TestControlBlockBlockDtor verifies the block destructor fires when the
// weak count hits zero.
func TestControlBlockBlockDtor(t *testing.T) {
	t.Parallel()

	var blockFreed bool
	cb := NewControlBlock(
		1, GenerateNodeID(), nil, &stubActor{}, nil,
		func(*ControlBlock) { blockFreed = true },
	)

	strong := NewStrongRef(cb)
	strong.Release()
	require.True(t, blockFreed)
}
