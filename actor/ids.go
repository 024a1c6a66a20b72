package actor

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ActorID uniquely identifies an actor within one runtime instance. IDs are
// assigned monotonically from the registry counter.
type ActorID uint32

// InvalidActorID is reserved for "anonymous/none".
const InvalidActorID ActorID = 0

// NodeHashSize is the number of host-hash bytes in a NodeID.
const NodeHashSize = 20

// NodeIDEncodedSize is the wire size of a NodeID: host hash followed by a
// 4-byte process id.
const NodeIDEncodedSize = NodeHashSize + 4

// ErrInvalidNodeID is returned when wire bytes cannot form a NodeID.
var ErrInvalidNodeID = errors.New("invalid node id encoding")

// NodeID globally identifies a runtime instance: a host hash plus the
// process id. It is stable for the lifetime of the instance and totally
// ordered by lexicographic byte comparison.
type NodeID struct {
	// Hash is the host hash component.
	Hash [NodeHashSize]byte

	// PID is the process id component.
	PID uint32
}

// GenerateNodeID derives a fresh NodeID for this process. The host hash
// mixes the hostname with a random UUID so two instances on the same host
// that share a pid across restarts still differ.
func GenerateNodeID() NodeID {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	h := sha256.New()
	h.Write([]byte(hostname))
	entropy := uuid.New()
	h.Write(entropy[:])

	var id NodeID
	copy(id.Hash[:], h.Sum(nil)[:NodeHashSize])
	id.PID = uint32(os.Getpid())

	return id
}

// Bytes returns the wire encoding: hash bytes followed by the big-endian
// process id.
func (n NodeID) Bytes() []byte {
	buf := make([]byte, NodeIDEncodedSize)
	copy(buf, n.Hash[:])
	binary.BigEndian.PutUint32(buf[NodeHashSize:], n.PID)

	return buf
}

// ParseNodeID decodes the wire encoding produced by Bytes.
func ParseNodeID(b []byte) (NodeID, error) {
	if len(b) != NodeIDEncodedSize {
		return NodeID{}, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidNodeID, len(b), NodeIDEncodedSize)
	}

	var id NodeID
	copy(id.Hash[:], b[:NodeHashSize])
	id.PID = binary.BigEndian.Uint32(b[NodeHashSize:])

	return id, nil
}

// IsZero reports whether the NodeID is the zero value.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// Less orders NodeIDs lexicographically over their wire encoding.
func (n NodeID) Less(other NodeID) bool {
	if c := bytes.Compare(n.Hash[:], other.Hash[:]); c != 0 {
		return c < 0
	}

	return n.PID < other.PID
}

// String renders the NodeID as hash-prefix#pid.
func (n NodeID) String() string {
	return fmt.Sprintf("%s#%d", hex.EncodeToString(n.Hash[:6]), n.PID)
}

// Addr names an actor across the cluster: the owning node plus the actor id.
type Addr struct {
	Node NodeID
	ID   ActorID
}

// String renders the address as node/actor-id.
func (a Addr) String() string {
	return fmt.Sprintf("%s/%d", a.Node, a.ID)
}

// MessageID is a 64-bit message tag: a monotonically assigned counter in the
// low bits, an is-response flag, and a priority flag in the top bit. Request
// messages carry non-zero counters; their responses echo the same counter
// with the response flag set.
type MessageID uint64

const (
	// messageIDPriorityBit marks urgent messages.
	messageIDPriorityBit MessageID = 1 << 63

	// messageIDResponseBit marks responses to requests.
	messageIDResponseBit MessageID = 1 << 62

	// messageIDCounterMask extracts the counter portion.
	messageIDCounterMask MessageID = messageIDResponseBit - 1
)

// InvalidMessageID tags plain asynchronous messages that expect no response.
const InvalidMessageID MessageID = 0

// MakeMessageID builds a request id from a raw counter value.
func MakeMessageID(counter uint64) MessageID {
	return MessageID(counter) & messageIDCounterMask
}

// IsUrgent reports whether the priority tag is set.
func (m MessageID) IsUrgent() bool {
	return m&messageIDPriorityBit != 0
}

// IsResponse reports whether this id tags a response message.
func (m MessageID) IsResponse() bool {
	return m&messageIDResponseBit != 0
}

// IsRequest reports whether this id expects a response: a non-zero counter
// without the response flag.
func (m MessageID) IsRequest() bool {
	return !m.IsResponse() && m.Counter() != 0
}

// Counter returns the counter portion of the id.
func (m MessageID) Counter() uint64 {
	return uint64(m & messageIDCounterMask)
}

// ResponseID returns the id a response to this request must carry.
func (m MessageID) ResponseID() MessageID {
	return (m & (messageIDCounterMask | messageIDPriorityBit)) |
		messageIDResponseBit
}

// RequestID strips the response flag, recovering the originating request id.
func (m MessageID) RequestID() MessageID {
	return m &^ messageIDResponseBit
}

// WithUrgent returns a copy of the id with the priority tag set.
func (m MessageID) WithUrgent() MessageID {
	return m | messageIDPriorityBit
}

// String renders the id for log output.
func (m MessageID) String() string {
	suffix := ""
	if m.IsResponse() {
		suffix = "r"
	}
	if m.IsUrgent() {
		suffix += "!"
	}

	return fmt.Sprintf("%d%s", m.Counter(), suffix)
}
