package remote

import (
	"context"
	"testing"
	"time"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/netio"
	"github.com/roasbeef/troupe/sched"
	"github.com/stretchr/testify/require"
)

// timeoutCtx returns a context that expires with the test's patience.
func timeoutCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	t.Cleanup(cancel)

	return ctx
}

// fakeSystem satisfies actor.System for middleman construction in tests.
type fakeSystem struct {
	nodeID   actor.NodeID
	registry *actor.Registry
	clock    *sched.Clock
}

func newFakeSystem(t *testing.T) *fakeSystem {
	t.Helper()

	s := &fakeSystem{
		nodeID:   actor.GenerateNodeID(),
		registry: actor.NewRegistry(),
		clock:    sched.NewClock(),
	}
	s.clock.Start()
	t.Cleanup(s.clock.Stop)

	return s
}

func (s *fakeSystem) NodeID() actor.NodeID { return s.nodeID }

func (s *fakeSystem) Registry() *actor.Registry { return s.registry }

func (s *fakeSystem) Schedule(sched.Resumable) {}

func (s *fakeSystem) Clock() *sched.Clock { return s.clock }

// throttledSock accepts a byte quota per write call and records everything
// it accepted.
type throttledSock struct {
	quota    int
	accepted []byte
}

func (s *throttledSock) ReadSome(p []byte) (int, error) {
	return 0, netio.ErrWouldBlock
}

func (s *throttledSock) WriteSome(p []byte) (int, error) {
	if s.quota <= 0 {
		return 0, netio.ErrWouldBlock
	}

	n := len(p)
	if n > s.quota {
		n = s.quota
	}
	s.accepted = append(s.accepted, p[:n]...)
	s.quota -= n

	return n, nil
}

func (s *throttledSock) Close() error { return nil }

func (s *throttledSock) RemoteAddr() string { return "test" }

// TestPeerBackPressure drives the buffered write path by hand: a socket
// that would-blocks after K bytes must keep the unwritten suffix, and upon
// writability resumption the suffix transmits before any new bytes.
func TestPeerBackPressure(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	mm := NewMiddleman(Config{System: sys, ProxyGracePeriod: -1})

	sock := &throttledSock{}
	peer, err := newPeer(mm, sock, nil, nil)
	require.NoError(t, err)

	// The pending buffer holds the handshake; snapshot the expected
	// byte stream as frames get queued behind it.
	expected := append([]byte{}, peer.wbuf...)

	hdr := &Header{Type: MsgAnnounceProxy, DestAID: 1}
	require.NoError(t, peer.EnqueueFrame(hdr, nil))
	expected = append(expected, hdr.Encode()...)

	// First writability: only 10 bytes fit.
	sock.quota = 10
	peer.HandleWrite()
	require.Len(t, sock.accepted, 10)

	// New bytes arrive while the suffix is still pending.
	hdr2 := &Header{Type: MsgKillProxy, SourceAID: 2}
	payload := EncodeError(actor.ErrNormal)
	require.NoError(t, peer.EnqueueFrame(hdr2, payload))
	expected = append(expected, hdr2.Encode()...)
	expected = append(expected, payload...)

	// Writability returns with ample room: the suffix must go out first,
	// then the new frame, byte for byte.
	sock.quota = 1 << 20
	peer.HandleWrite()

	require.Equal(t, expected, sock.accepted,
		"suffix must transmit before new bytes, in order")

	// The drained buffer de-registers write interest and keeps nothing.
	peer.wmu.Lock()
	require.Empty(t, peer.wbuf)
	peer.wmu.Unlock()
}

// TestPeerHandshakeStateMachine feeds a handshake plus a frame through
// HandleRead in arbitrary chunk sizes and checks the transitions.
func TestPeerHandshakeStateMachine(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	mm := NewMiddleman(Config{System: sys, ProxyGracePeriod: -1})

	sock := &throttledSock{quota: 1 << 20}
	peer, err := newPeer(mm, sock, nil, nil)
	require.NoError(t, err)
	require.Equal(t, stateWaitHandshake, peer.state)

	remote := &Handshake{
		PublishedID: 11,
		Node:        actor.GenerateNodeID(),
		Signatures:  []string{"troupe.text -> troupe.text"},
	}
	hsBytes, err := remote.Encode()
	require.NoError(t, err)

	// Announce-proxy frame for an unknown actor right behind the
	// handshake; the kill-proxy answer proves the frame dispatched.
	frame := (&Header{Type: MsgAnnounceProxy, DestAID: 99}).Encode()
	stream := append(hsBytes, frame...)

	// Deliver one byte at a time to exercise every incomplete branch.
	for _, b := range stream {
		peer.HandleRead([]byte{b})
	}

	require.Equal(t, stateWaitHeader, peer.state)
	require.Equal(t, remote.Node, peer.Node())
	require.Equal(t, remote.Signatures,
		peer.RemoteHandshake().Signatures)

	// The handshake recorded a direct route.
	require.True(t, mm.Routes().HasDirect(remote.Node))

	// The unknown announce produced a kill-proxy answer in the write
	// buffer (behind our own handshake).
	peer.wmu.Lock()
	pending := append([]byte{}, peer.wbuf...)
	peer.wmu.Unlock()

	ourHS := &Handshake{Node: sys.nodeID}
	ourBytes, err := ourHS.Encode()
	require.NoError(t, err)
	require.Greater(t, len(pending), len(ourBytes),
		"kill-proxy frame should be queued behind the handshake")

	killHdr, err := ParseHeader(
		pending[len(ourBytes) : len(ourBytes)+HeaderSize],
	)
	require.NoError(t, err)
	require.Equal(t, MsgKillProxy, killHdr.Type)
	require.Equal(t, actor.ActorID(99), killHdr.SourceAID)
}

// TestPeerMalformedHeader checks a bogus frame drives the connection to
// closed and erases the direct route.
func TestPeerMalformedHeader(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	mm := NewMiddleman(Config{System: sys, ProxyGracePeriod: -1})

	sock := &throttledSock{quota: 1 << 20}
	peer, err := newPeer(mm, sock, nil, nil)
	require.NoError(t, err)

	remote := &Handshake{PublishedID: 1, Node: actor.GenerateNodeID()}
	hsBytes, err := remote.Encode()
	require.NoError(t, err)
	peer.HandleRead(hsBytes)
	require.True(t, mm.Routes().HasDirect(remote.Node))

	// A header whose payload length exceeds the bound is fatal.
	bogus := &Header{Type: MsgDirect}
	raw := bogus.Encode()
	raw[8] = 0xff
	raw[9] = 0xff
	raw[10] = 0xff
	raw[11] = 0xff
	peer.HandleRead(raw)

	require.Equal(t, stateClosed, peer.state)
	require.False(t, mm.Routes().HasDirect(remote.Node),
		"peer failure must erase the direct route")
}
