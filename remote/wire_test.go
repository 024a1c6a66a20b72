package remote

import (
	"strings"
	"testing"

	"github.com/roasbeef/troupe/actor"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestHeaderRoundTrip checks Encode -> ParseHeader is the identity on all
// header fields for arbitrary values.
func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		hdr := Header{
			Type:  MsgType(rapid.Uint32().Draw(t, "type")),
			Flags: rapid.Uint32().Draw(t, "flags"),
			PayloadLen: rapid.Uint32Range(0, MaxPayloadSize).
				Draw(t, "plen"),
			MessageID: actor.MessageID(
				rapid.Uint64().Draw(t, "mid"),
			),
			SourceAID: actor.ActorID(
				rapid.Uint32().Draw(t, "src"),
			),
			DestAID: actor.ActorID(
				rapid.Uint32().Draw(t, "dst"),
			),
		}

		buf := hdr.Encode()
		require.Len(t, buf, HeaderSize)

		parsed, err := ParseHeader(buf)
		require.NoError(t, err)
		require.Equal(t, hdr, parsed)
	})
}

// TestHeaderRejectsOversizedPayload checks the parser enforces the payload
// bound.
func TestHeaderRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	hdr := Header{Type: MsgDirect, PayloadLen: MaxPayloadSize + 1}
	_, err := ParseHeader(hdr.Encode())
	require.ErrorIs(t, err, actor.ErrMalformedFrame)
}

// TestHandshakeRoundTrip checks the handshake codec recovers node identity
// and the advertised signature set verbatim.
func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		hs := &Handshake{
			PublishedID: actor.ActorID(
				rapid.Uint32().Draw(t, "aid"),
			),
		}
		hash := rapid.SliceOfN(
			rapid.Byte(), actor.NodeHashSize, actor.NodeHashSize,
		).Draw(t, "hash")
		copy(hs.Node.Hash[:], hash)
		hs.Node.PID = rapid.Uint32().Draw(t, "pid")

		nSigs := rapid.IntRange(0, 5).Draw(t, "nsigs")
		for i := 0; i < nSigs; i++ {
			hs.Signatures = append(hs.Signatures,
				rapid.StringN(-1, -1, MaxSignatureLen).
					Draw(t, "sig"))
		}

		buf, err := hs.Encode()
		require.NoError(t, err)

		parsed, consumed, err := ParseHandshake(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), consumed)
		require.Equal(t, hs.PublishedID, parsed.PublishedID)
		require.Equal(t, hs.Node, parsed.Node)
		require.Equal(t, hs.Signatures, parsed.Signatures)
	})
}

// TestHandshakeIncremental checks the parser asks for more bytes on every
// strict prefix and never misparses one.
func TestHandshakeIncremental(t *testing.T) {
	t.Parallel()

	hs := &Handshake{
		PublishedID: 42,
		Node:        actor.GenerateNodeID(),
		Signatures:  []string{"ping -> pong", "stop -> void"},
	}
	buf, err := hs.Encode()
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, _, err := ParseHandshake(buf[:i])
		require.ErrorIs(t, err, errIncomplete,
			"prefix of %d bytes must be incomplete", i)
	}
}

// TestHandshakeBounds checks out-of-bound signature counts and lengths are
// fatal, on both encode and parse.
func TestHandshakeBounds(t *testing.T) {
	t.Parallel()

	tooMany := &Handshake{
		Node:       actor.GenerateNodeID(),
		Signatures: make([]string, MaxHandshakeSignatures+1),
	}
	_, err := tooMany.Encode()
	require.ErrorIs(t, err, actor.ErrHandshakeFailed)

	tooLong := &Handshake{
		Node: actor.GenerateNodeID(),
		Signatures: []string{
			strings.Repeat("x", MaxSignatureLen+1),
		},
	}
	_, err = tooLong.Encode()
	require.ErrorIs(t, err, actor.ErrHandshakeFailed)

	// Parse-side: a handshake advertising too many signatures is fatal,
	// not incomplete.
	ok := &Handshake{Node: actor.GenerateNodeID()}
	buf, err := ok.Encode()
	require.NoError(t, err)

	// Rewrite the count field (last 4 bytes of the fixed prefix).
	countOff := 8 + actor.NodeHashSize
	buf[countOff] = 0xff
	_, _, err = ParseHandshake(buf)
	require.ErrorIs(t, err, actor.ErrHandshakeFailed)
}

// TestErrorRoundTrip checks the error payload codec.
func TestErrorRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		kinds := []actor.ErrKind{
			actor.KindSystem, actor.KindActor, actor.KindRequest,
			actor.KindIO, actor.KindStream,
		}
		e := actor.NewError(
			kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kind")],
			rapid.Uint32().Draw(t, "code"),
			rapid.StringN(-1, -1, 200).Draw(t, "msg"),
		)

		parsed, err := ParseError(EncodeError(e))
		require.NoError(t, err)
		require.Equal(t, e, parsed)
	})
}

// TestCodecRegistryRoundTrip checks tag framing through the registry.
func TestCodecRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	reg := NewCodecRegistry()

	msg := &actor.ErrorMsg{Err: actor.ErrTimeout}
	payload, err := reg.MarshalPayload(msg)
	require.NoError(t, err)

	decoded, err := reg.UnmarshalPayload(payload)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	// Message types without a registered codec are rejected on marshal.
	_, err = reg.MarshalPayload(&actor.LinkMsg{})
	require.Error(t, err)
}
