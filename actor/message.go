package actor

import (
	"time"
)

// Message is a sealed interface for actor messages. The interface is sealed
// by the unexported messageMarker method; types embed BaseMessage to satisfy
// it. MessageType returns a stable type tag used for behavior matching and
// for the remoting codec registry.
type Message interface {
	messageMarker()

	// MessageType returns the type tag of the message.
	MessageType() string
}

// BaseMessage is embedded in message types defined outside this package to
// satisfy the sealed Message interface.
type BaseMessage struct{}

func (BaseMessage) messageMarker() {}

// MailboxElement is one entry in an actor's mailbox: who sent it, which
// message id it carries, the payload, and the forwarding stages accumulated
// by delegation. Stages are carried but multi-hop delegation is not
// interpreted; an empty stack means "reply to sender".
type MailboxElement struct {
	// Sender is a weak handle to the sending actor. May be nil for
	// anonymous sends and synthesized system messages.
	Sender *WeakRef

	// MID tags the element. Zero for plain asynchronous messages.
	MID MessageID

	// Content is the payload.
	Content Message

	// Stages is the sender-side forwarding stack.
	Stages []*StrongRef

	// EnqueuedAt is stamped on push and feeds the mailbox-time
	// histogram on dequeue.
	EnqueuedAt time.Time
}

// NewMailboxElement assembles an element and stamps its enqueue time.
func NewMailboxElement(sender *WeakRef, mid MessageID,
	content Message) *MailboxElement {

	return &MailboxElement{
		Sender:     sender,
		MID:        mid,
		Content:    content,
		EnqueuedAt: time.Now(),
	}
}

// -- system messages ---------------------------------------------------------

// ExitMsg is delivered through a link when the linked peer terminates, or
// explicitly to ask an actor to exit.
type ExitMsg struct {
	BaseMessage

	// Source is the address of the exiting actor.
	Source Addr

	// Reason is the peer's fail state.
	Reason error
}

// MessageType returns the exit message type tag.
func (ExitMsg) MessageType() string { return "troupe.exit" }

// DownMsg is delivered to a monitor when the monitored actor terminates.
type DownMsg struct {
	BaseMessage

	// Source is the address of the terminated actor.
	Source Addr

	// Reason is the terminated actor's fail state.
	Reason error
}

// MessageType returns the down message type tag.
func (DownMsg) MessageType() string { return "troupe.down" }

// NodeDownMsg announces that a remote node became unreachable.
type NodeDownMsg struct {
	BaseMessage

	// Node is the unreachable node.
	Node NodeID
}

// MessageType returns the node-down message type tag.
func (NodeDownMsg) MessageType() string { return "troupe.node_down" }

// LinkMsg asks the receiver to install one half of a bidirectional link.
type LinkMsg struct {
	BaseMessage
}

// MessageType returns the link message type tag.
func (LinkMsg) MessageType() string { return "troupe.link" }

// UnlinkMsg asks the receiver to remove one half of a link.
type UnlinkMsg struct {
	BaseMessage
}

// MessageType returns the unlink message type tag.
func (UnlinkMsg) MessageType() string { return "troupe.unlink" }

// ErrorMsg carries an error as a payload, typically as the response to a
// request that failed (timeout, bounce, receiver down).
type ErrorMsg struct {
	BaseMessage

	// Err is the carried error.
	Err *Error
}

// MessageType returns the error message type tag.
func (ErrorMsg) MessageType() string { return "troupe.error" }

// OpenStreamMsg initiates a stream between two actors. Stream plumbing
// beyond mailbox categorization is minimal; the message exists so the
// internal dispatch hook has a concrete type.
type OpenStreamMsg struct {
	BaseMessage

	// Slot selects the downstream sub-queue the batches ride on.
	Slot uint64
}

// MessageType returns the open-stream message type tag.
func (OpenStreamMsg) MessageType() string { return "troupe.open_stream" }

// UpstreamMsg is a flow-control back-pressure signal. It rides the mailbox's
// upstream queue.
type UpstreamMsg struct {
	BaseMessage

	// Slot names the stream the credit applies to.
	Slot uint64

	// Credit grants the sender this many additional batches.
	Credit int32
}

// MessageType returns the upstream message type tag.
func (UpstreamMsg) MessageType() string { return "troupe.upstream" }

// DownstreamMsg carries one stream batch. It rides the mailbox's downstream
// queue, multiplexed across sub-queues by slot id.
type DownstreamMsg struct {
	BaseMessage

	// Slot selects the sub-queue.
	Slot uint64

	// Batch is the payload of this batch.
	Batch Message
}

// MessageType returns the downstream message type tag.
func (DownstreamMsg) MessageType() string { return "troupe.downstream" }

// isSystemMessage reports whether msg is one of the runtime's internal
// message types that bypass the behavior stack.
func isSystemMessage(msg Message) bool {
	switch msg.(type) {
	case *ExitMsg, *DownMsg, *NodeDownMsg, *LinkMsg, *UnlinkMsg,
		*OpenStreamMsg:

		return true
	default:
		return false
	}
}
