package actor

import (
	"errors"
	"fmt"
)

// ErrKind is the opaque category of a runtime error.
type ErrKind string

// Error categories. Each groups a set of 32-bit codes.
const (
	KindSystem  ErrKind = "system"
	KindActor   ErrKind = "actor"
	KindRequest ErrKind = "request"
	KindIO      ErrKind = "io"
	KindStream  ErrKind = "stream"
)

// Error codes, grouped by kind.
const (
	// KindSystem codes.
	CodeUnreachable     uint32 = 1
	CodeInvalidArgument uint32 = 2
	CodeOutOfRange      uint32 = 3

	// KindActor codes.
	CodeExitNormal         uint32 = 1
	CodeKill               uint32 = 2
	CodeUnhandledException uint32 = 3
	CodeOutOfWorkers       uint32 = 4

	// KindRequest codes.
	CodeTimeout         uint32 = 1
	CodeReceiverDown    uint32 = 2
	CodeInvalidDelegate uint32 = 3
	CodeBounced         uint32 = 4

	// KindIO codes.
	CodeConnectionClosed          uint32 = 1
	CodeHandshakeFailed           uint32 = 2
	CodeMalformedFrame            uint32 = 3
	CodeDisconnectDuringHandshake uint32 = 4

	// KindStream codes.
	CodeStreamInitFailed uint32 = 1
	CodeInvalidUpstream  uint32 = 2
)

// Error is the runtime's error value: an opaque category, a 32-bit code and
// an optional human readable message.
type Error struct {
	Kind ErrKind
	Code uint32
	Msg  string
}

// NewError constructs an Error from its parts.
func NewError(kind ErrKind, code uint32, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s(%d)", e.Kind, e.Code)
	}

	return fmt.Sprintf("%s(%d): %s", e.Kind, e.Code, e.Msg)
}

// Is matches two Errors on kind and code, ignoring the message. This lets
// callers compare against the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return e.Kind == other.Kind && e.Code == other.Code
}

// Sentinel errors for the common cases. Comparisons go through errors.Is so
// wrapped instances with richer messages still match.
var (
	// ErrNormal is the exit reason of an actor that terminated cleanly.
	ErrNormal = NewError(KindActor, CodeExitNormal, "normal exit")

	// ErrKill is the exit reason of a forcibly killed actor.
	ErrKill = NewError(KindActor, CodeKill, "killed")

	// ErrUnhandledException is the exit reason after a handler panic.
	ErrUnhandledException = NewError(
		KindActor, CodeUnhandledException, "unhandled exception",
	)

	// ErrTimeout tags a request whose response did not arrive in time.
	ErrTimeout = NewError(KindRequest, CodeTimeout, "request timed out")

	// ErrReceiverDown tags a request whose receiver terminated.
	ErrReceiverDown = NewError(
		KindRequest, CodeReceiverDown, "receiver down",
	)

	// ErrBounced tags a request that hit a terminated mailbox.
	ErrBounced = NewError(
		KindRequest, CodeBounced, "request bounced",
	)

	// ErrUnreachable tags an operation against a node with no route.
	ErrUnreachable = NewError(KindSystem, CodeUnreachable, "unreachable")

	// ErrConnectionClosed tags operations on a closed peer.
	ErrConnectionClosed = NewError(
		KindIO, CodeConnectionClosed, "connection closed",
	)

	// ErrHandshakeFailed tags a peer whose handshake did not parse.
	ErrHandshakeFailed = NewError(
		KindIO, CodeHandshakeFailed, "handshake failed",
	)

	// ErrMalformedFrame tags a frame that violates the wire format.
	ErrMalformedFrame = NewError(
		KindIO, CodeMalformedFrame, "malformed frame",
	)
)

// IsNormalExit reports whether reason counts as a clean exit: nil or the
// normal exit sentinel.
func IsNormalExit(reason error) bool {
	return reason == nil || errors.Is(reason, ErrNormal)
}
