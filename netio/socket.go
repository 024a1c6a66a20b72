package netio

import (
	"errors"
	"fmt"
)

// Sum-typed I/O error codes. The multiplexer and peer layers only ever
// branch on these; concrete backends translate their platform errors into
// them before surfacing anything.
var (
	// ErrWouldBlock reports that a non-blocking operation could not make
	// progress. The caller keeps its buffer and retries on readiness.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed reports an orderly close by the remote side (EOF) or a
	// local close.
	ErrClosed = errors.New("stream closed")

	// ErrReset reports an abortive close by the remote side.
	ErrReset = errors.New("connection reset")
)

// OtherError wraps a backend-specific errno that does not map onto one of
// the sum-typed codes.
type OtherError struct {
	Errno error
}

// Error implements the error interface.
func (e *OtherError) Error() string {
	return fmt.Sprintf("io error: %v", e.Errno)
}

// Unwrap exposes the wrapped errno for errors.Is/As.
func (e *OtherError) Unwrap() error {
	return e.Errno
}

// StreamSocket is a non-blocking byte stream. ReadSome and WriteSome
// transfer whatever they can and report ErrWouldBlock instead of blocking
// indefinitely; partial progress is returned as n > 0 with a nil error.
type StreamSocket interface {
	// ReadSome reads up to len(p) bytes. n == 0 with err == nil never
	// happens; no-progress surfaces as ErrWouldBlock.
	ReadSome(p []byte) (int, error)

	// WriteSome writes up to len(p) bytes, returning how many were
	// accepted.
	WriteSome(p []byte) (int, error)

	// Close tears the stream down. Idempotent.
	Close() error

	// RemoteAddr names the peer endpoint for log output.
	RemoteAddr() string
}

// Acceptor accepts inbound stream sockets on a bound port.
type Acceptor interface {
	// Accept blocks until a connection arrives or the acceptor closes.
	Accept() (StreamSocket, error)

	// Close unbinds the port. Idempotent.
	Close() error

	// Addr returns the bound address.
	Addr() string
}

// Backend creates sockets. It is the runtime's only window onto the
// platform network stack; everything above consumes the interfaces.
type Backend interface {
	// Connect opens an outbound stream to host:port.
	Connect(host string, port uint16) (StreamSocket, error)

	// Listen binds an acceptor to the given port. Port zero picks an
	// ephemeral port, recoverable from Addr.
	Listen(port uint16) (Acceptor, error)
}
