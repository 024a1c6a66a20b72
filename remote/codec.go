package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/roasbeef/troupe/actor"
)

// Codec serializes one application message type for the wire.
type Codec interface {
	// Marshal encodes the message body.
	Marshal(msg actor.Message) ([]byte, error)

	// Unmarshal decodes a message body.
	Unmarshal(data []byte) (actor.Message, error)
}

// CodecRegistry maps message type tags to their codecs. The runtime
// maintains one registry; direct-message payloads are framed as the tag
// followed by the codec's body.
type CodecRegistry struct {
	mu    sync.RWMutex
	byTag map[string]Codec
}

// NewCodecRegistry creates a registry pre-loaded with the runtime's builtin
// codecs.
func NewCodecRegistry() *CodecRegistry {
	r := &CodecRegistry{
		byTag: make(map[string]Codec),
	}
	r.Register((&actor.ErrorMsg{}).MessageType(), errorMsgCodec{})
	r.Register((&actor.ExitMsg{}).MessageType(), exitMsgCodec{})
	r.Register((&actor.DownMsg{}).MessageType(), downMsgCodec{})

	return r
}

// Register installs a codec under the given message type tag. Later
// registrations replace earlier ones.
func (r *CodecRegistry) Register(tag string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTag[tag] = c
}

// lookup returns the codec for a tag.
func (r *CodecRegistry) lookup(tag string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byTag[tag]

	return c, ok
}

// MarshalPayload frames msg as tag-length, tag, body.
func (r *CodecRegistry) MarshalPayload(msg actor.Message) ([]byte, error) {
	tag := msg.MessageType()
	c, ok := r.lookup(tag)
	if !ok {
		return nil, fmt.Errorf("no codec registered for %q", tag)
	}

	body, err := c.Marshal(msg)
	if err != nil {
		return nil, err
	}

	if len(tag) > 0xffff {
		return nil, fmt.Errorf("message type tag too long: %d",
			len(tag))
	}

	buf := make([]byte, 0, 2+len(tag)+len(body))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(tag)))
	buf = append(buf, tag...)
	buf = append(buf, body...)

	return buf, nil
}

// UnmarshalPayload reverses MarshalPayload.
func (r *CodecRegistry) UnmarshalPayload(data []byte) (actor.Message, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: truncated payload tag",
			actor.ErrMalformedFrame)
	}

	tlen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+tlen {
		return nil, fmt.Errorf("%w: truncated payload tag",
			actor.ErrMalformedFrame)
	}

	tag := string(data[2 : 2+tlen])
	c, ok := r.lookup(tag)
	if !ok {
		return nil, fmt.Errorf("no codec registered for %q", tag)
	}

	return c.Unmarshal(data[2+tlen:])
}

// errorMsgCodec serializes the builtin error message so failed requests
// cross the wire losslessly.
type errorMsgCodec struct{}

func (errorMsgCodec) Marshal(msg actor.Message) ([]byte, error) {
	em, ok := msg.(*actor.ErrorMsg)
	if !ok {
		return nil, fmt.Errorf("errorMsgCodec got %T", msg)
	}

	return EncodeError(em.Err), nil
}

func (errorMsgCodec) Unmarshal(data []byte) (actor.Message, error) {
	e, err := ParseError(data)
	if err != nil {
		return nil, err
	}

	return &actor.ErrorMsg{Err: e}, nil
}

// encodeAddrReason frames an actor address plus an error reason; the shared
// body of the exit and down codecs.
func encodeAddrReason(src actor.Addr, reason error) []byte {
	buf := make([]byte, 0, actor.NodeIDEncodedSize+4+64)
	buf = append(buf, src.Node.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(src.ID))
	buf = append(buf, EncodeError(toWireError(reason))...)

	return buf
}

func parseAddrReason(data []byte) (actor.Addr, *actor.Error, error) {
	const fixed = actor.NodeIDEncodedSize + 4
	if len(data) < fixed {
		return actor.Addr{}, nil, fmt.Errorf("%w: truncated address",
			actor.ErrMalformedFrame)
	}

	node, err := actor.ParseNodeID(data[:actor.NodeIDEncodedSize])
	if err != nil {
		return actor.Addr{}, nil, err
	}

	aid := actor.ActorID(binary.BigEndian.Uint32(
		data[actor.NodeIDEncodedSize:fixed],
	))

	reason, err := ParseError(data[fixed:])
	if err != nil {
		return actor.Addr{}, nil, err
	}

	return actor.Addr{Node: node, ID: aid}, reason, nil
}

// toWireError coerces an arbitrary reason into the wire error shape.
func toWireError(reason error) *actor.Error {
	if reason == nil {
		return actor.ErrNormal
	}

	var e *actor.Error
	if errors.As(reason, &e) {
		return e
	}

	return actor.NewError(
		actor.KindActor, actor.CodeUnhandledException, reason.Error(),
	)
}

// exitMsgCodec carries exit messages across the wire as direct messages.
type exitMsgCodec struct{}

func (exitMsgCodec) Marshal(msg actor.Message) ([]byte, error) {
	em, ok := msg.(*actor.ExitMsg)
	if !ok {
		return nil, fmt.Errorf("exitMsgCodec got %T", msg)
	}

	return encodeAddrReason(em.Source, em.Reason), nil
}

func (exitMsgCodec) Unmarshal(data []byte) (actor.Message, error) {
	src, reason, err := parseAddrReason(data)
	if err != nil {
		return nil, err
	}

	return &actor.ExitMsg{Source: src, Reason: reason}, nil
}

// downMsgCodec carries monitor notifications across the wire.
type downMsgCodec struct{}

func (downMsgCodec) Marshal(msg actor.Message) ([]byte, error) {
	dm, ok := msg.(*actor.DownMsg)
	if !ok {
		return nil, fmt.Errorf("downMsgCodec got %T", msg)
	}

	return encodeAddrReason(dm.Source, dm.Reason), nil
}

func (downMsgCodec) Unmarshal(data []byte) (actor.Message, error) {
	src, reason, err := parseAddrReason(data)
	if err != nil {
		return nil, err
	}

	return &actor.DownMsg{Source: src, Reason: reason}, nil
}
