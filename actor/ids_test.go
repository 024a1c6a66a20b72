package actor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestNodeIDRoundTrip checks that the wire encoding of a NodeID parses back
// to an identical value for arbitrary hashes and pids.
func TestNodeIDRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var id NodeID
		hash := rapid.SliceOfN(
			rapid.Byte(), NodeHashSize, NodeHashSize,
		).Draw(t, "hash")
		copy(id.Hash[:], hash)
		id.PID = rapid.Uint32().Draw(t, "pid")

		parsed, err := ParseNodeID(id.Bytes())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	})
}

// TestNodeIDParseRejectsBadLength checks that truncated and oversized
// encodings are rejected.
func TestNodeIDParseRejectsBadLength(t *testing.T) {
	t.Parallel()

	_, err := ParseNodeID(make([]byte, NodeIDEncodedSize-1))
	require.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = ParseNodeID(make([]byte, NodeIDEncodedSize+1))
	require.ErrorIs(t, err, ErrInvalidNodeID)
}

// TestNodeIDOrdering checks the total order is consistent with the wire
// encoding's lexicographic order.
func TestNodeIDOrdering(t *testing.T) {
	t.Parallel()

	a := GenerateNodeID()
	b := GenerateNodeID()
	require.NotEqual(t, a, b)

	// Exactly one direction of Less holds for distinct ids.
	require.NotEqual(t, a.Less(b), b.Less(a))
	require.False(t, a.Less(a))
}

// TestGenerateNodeIDUnique checks that freshly generated ids differ even
// within one process.
func TestGenerateNodeIDUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[NodeID]bool)
	for i := 0; i < 64; i++ {
		id := GenerateNodeID()
		require.False(t, seen[id], "duplicate node id generated")
		seen[id] = true
	}
}

// TestMessageIDBits exercises the priority and response flags.
func TestMessageIDBits(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		counter := rapid.Uint64Range(1, uint64(messageIDCounterMask)).
			Draw(t, "counter")

		mid := MakeMessageID(counter)
		require.True(t, mid.IsRequest())
		require.False(t, mid.IsResponse())
		require.Equal(t, counter, mid.Counter())

		resp := mid.ResponseID()
		require.True(t, resp.IsResponse())
		require.False(t, resp.IsRequest())
		require.Equal(t, counter, resp.Counter())
		require.Equal(t, mid, resp.RequestID())

		urgent := mid.WithUrgent()
		require.True(t, urgent.IsUrgent())
		require.Equal(t, counter, urgent.Counter())
		require.True(t, urgent.ResponseID().IsUrgent())
	})
}

// TestMessageIDInvalid checks the anonymous id is neither request nor
// response.
func TestMessageIDInvalid(t *testing.T) {
	t.Parallel()

	require.False(t, InvalidMessageID.IsRequest())
	require.False(t, InvalidMessageID.IsResponse())
	require.False(t, InvalidMessageID.IsUrgent())
}
