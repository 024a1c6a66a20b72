package actor

import (
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrSkipped is the sentinel a behavior returns when it does not match the
// current message. The runtime parks the message in the skip cache and
// retries it on the next mailbox fetch.
var ErrSkipped = errors.New("message skipped")

// Behavior defines how an actor reacts to one message. Returning Ok with a
// non-nil message replies to the sender (when the message was a request);
// Ok(nil) handles the message without a reply; Err(ErrSkipped) defers the
// message; any other error becomes the actor's fail state. Only panics go
// through the actor's exception handler.
type Behavior interface {
	Receive(ctx *Context, msg Message) fn.Result[Message]
}

// FuncBehavior adapts a plain function into a Behavior.
type FuncBehavior func(ctx *Context, msg Message) fn.Result[Message]

// Receive implements Behavior.
func (f FuncBehavior) Receive(ctx *Context, msg Message) fn.Result[Message] {
	return f(ctx, msg)
}

// Skip is the canonical "did not match" result.
func Skip() fn.Result[Message] {
	return fn.Err[Message](ErrSkipped)
}

// Handled is the canonical "consumed, no reply" result.
func Handled() fn.Result[Message] {
	return fn.Ok[Message](nil)
}

// Reply wraps a reply message into a result.
func Reply(msg Message) fn.Result[Message] {
	return fn.Ok(msg)
}

// ResponseHandler consumes the outcome of a request: either the response
// payload or an error (timeout, bounce, receiver down).
type ResponseHandler func(ctx *Context, result fn.Result[Message])

// awaitEntry pairs a pending request id with its handler. Entries in the
// ordered await list are served head-first.
type awaitEntry struct {
	mid     MessageID
	handler ResponseHandler
}
