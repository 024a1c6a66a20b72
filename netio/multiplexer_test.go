package netio

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeSock is an in-memory StreamSocket fed by the test.
type pipeSock struct {
	in     chan []byte
	closed atomic.Bool
}

func newPipeSock() *pipeSock {
	return &pipeSock{in: make(chan []byte, 16)}
}

func (s *pipeSock) feed(b []byte) {
	s.in <- b
}

func (s *pipeSock) ReadSome(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	select {
	case b, ok := <-s.in:
		if !ok {
			return 0, ErrClosed
		}

		return copy(p, b), nil

	case <-time.After(5 * time.Millisecond):
		return 0, ErrWouldBlock
	}
}

func (s *pipeSock) WriteSome(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	return len(p), nil
}

func (s *pipeSock) Close() error {
	s.closed.Store(true)

	return nil
}

func (s *pipeSock) RemoteAddr() string { return "pipe" }

// recordingHandler collects events from the loop.
type recordingHandler struct {
	reads  chan []byte
	writes atomic.Int32
	errs   chan error
	reg    *Registration
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		reads: make(chan []byte, 16),
		errs:  make(chan error, 1),
	}
}

func (h *recordingHandler) HandleRead(data []byte) {
	h.reads <- data
}

func (h *recordingHandler) HandleWrite() {
	h.writes.Add(1)
	h.reg.DisableWrite()
}

func (h *recordingHandler) HandleError(err error) {
	h.errs <- err
	h.reg.Deregister(true)
}

func (h *recordingHandler) ShutdownRead() {
	h.reg.Deregister(true)
}

// TestMultiplexerReadPath checks bytes pumped off a socket reach the
// handler on the loop.
func TestMultiplexerReadPath(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer()
	m.Start()
	defer m.Stop(5 * time.Second)

	sock := newPipeSock()
	h := newRecordingHandler()
	h.reg = m.Register(sock, h, EventRead)

	sock.feed([]byte("hello"))

	select {
	case data := <-h.reads:
		require.Equal(t, []byte("hello"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("read event never arrived")
	}
}

// TestMultiplexerWriteInterest checks arming write interest produces a
// writability callback.
func TestMultiplexerWriteInterest(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer()
	m.Start()
	defer m.Stop(5 * time.Second)

	sock := newPipeSock()
	h := newRecordingHandler()
	h.reg = m.Register(sock, h, EventNone)

	h.reg.EnableWrite()

	require.Eventually(t, func() bool {
		return h.writes.Load() >= 1
	}, 5*time.Second, time.Millisecond)
}

// TestMultiplexerRunLater checks posted functions run on the loop.
func TestMultiplexerRunLater(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer()
	m.Start()
	defer m.Stop(5 * time.Second)

	done := make(chan struct{})
	m.RunLater(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunLater never executed")
	}
}

// TestMultiplexerErrorPath checks a failing socket surfaces through
// HandleError.
func TestMultiplexerErrorPath(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer()
	m.Start()
	defer m.Stop(5 * time.Second)

	sock := newPipeSock()
	h := newRecordingHandler()
	h.reg = m.Register(sock, h, EventRead)

	sock.Close()

	select {
	case err := <-h.errs:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("error event never arrived")
	}
}

// TestMultiplexerGracefulShutdown checks Stop tells handlers to close and
// drains until none remain.
func TestMultiplexerGracefulShutdown(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer()
	m.Start()

	sock := newPipeSock()
	h := newRecordingHandler()
	h.reg = m.Register(sock, h, EventRead)

	require.True(t, m.Stop(5*time.Second),
		"loop must drain once handlers deregister")

	select {
	case <-m.Done():
	default:
		t.Fatal("loop still running after Stop returned true")
	}
}

// TestTCPBackendSmoke moves bytes through the real TCP backend.
func TestTCPBackendSmoke(t *testing.T) {
	t.Parallel()

	backend := NewTCPBackend()

	acc, err := backend.Listen(0)
	require.NoError(t, err)
	defer acc.Close()

	accepted := make(chan StreamSocket, 1)
	go func() {
		sock, err := acc.Accept()
		if err == nil {
			accepted <- sock
		}
	}()

	_, portStr, err := net.SplitHostPort(acc.Addr())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	client, err := backend.Connect("127.0.0.1", uint16(port))
	require.NoError(t, err)
	defer client.Close()

	var server StreamSocket
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("accept never completed")
	}
	defer server.Close()

	payload := []byte("ping over tcp")
	n, err := client.WriteSome(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	var got []byte
	require.Eventually(t, func() bool {
		n, err := server.ReadSome(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}

		return err == nil && len(got) == len(payload)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, payload, got)
}
