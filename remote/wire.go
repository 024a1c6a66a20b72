package remote

import (
	"encoding/binary"
	"fmt"

	"github.com/roasbeef/troupe/actor"
)

// MsgType discriminates the framed messages of the peer protocol.
type MsgType uint32

const (
	// MsgDirect carries an application message to a published or
	// proxied actor.
	MsgDirect MsgType = iota + 1

	// MsgAnnounceProxy tells the owning node that this node holds a
	// proxy for one of its actors.
	MsgAnnounceProxy

	// MsgKillProxy tells a proxy holder that the proxied actor exited;
	// the payload carries the reason.
	MsgKillProxy

	// MsgMonitor installs a remote monitor on the destination actor.
	MsgMonitor

	// MsgDown delivers a monitor notification; the payload carries the
	// reason.
	MsgDown

	// MsgLink installs one half of a remote link on the destination.
	MsgLink

	// MsgUnlink removes one half of a remote link.
	MsgUnlink
)

// String returns the wire name of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgDirect:
		return "direct_message"
	case MsgAnnounceProxy:
		return "announce_proxy"
	case MsgKillProxy:
		return "kill_proxy"
	case MsgMonitor:
		return "monitor"
	case MsgDown:
		return "down"
	case MsgLink:
		return "link"
	case MsgUnlink:
		return "unlink"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// HeaderSize is the fixed size of a frame header. This implementation pins
// the 64-bit-id header variant; all integers are big-endian.
const HeaderSize = 28

// MaxPayloadSize bounds a single frame's payload. Readers reserve exactly
// PayloadLen bytes before parsing, so the bound also caps per-connection
// buffering.
const MaxPayloadSize = 16 * 1024 * 1024

// Header is the fixed-size frame prefix.
//
//	offset  size  field
//	  0      4    message_type
//	  4      4    flags
//	  8      4    payload_len
//	 12      8    message_id (top bit = priority)
//	 20      4    source_actor_id
//	 24      4    dest_actor_id
type Header struct {
	Type       MsgType
	Flags      uint32
	PayloadLen uint32
	MessageID  actor.MessageID
	SourceAID  actor.ActorID
	DestAID    actor.ActorID
}

// Encode serializes the header into a fresh HeaderSize byte slice.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLen)
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.MessageID))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.SourceAID))
	binary.BigEndian.PutUint32(buf[24:28], uint32(h.DestAID))

	return buf
}

// ParseHeader decodes a header from exactly HeaderSize bytes.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, "+
			"got %d", actor.ErrMalformedFrame, HeaderSize, len(buf))
	}

	h := Header{
		Type:       MsgType(binary.BigEndian.Uint32(buf[0:4])),
		Flags:      binary.BigEndian.Uint32(buf[4:8]),
		PayloadLen: binary.BigEndian.Uint32(buf[8:12]),
		MessageID:  actor.MessageID(binary.BigEndian.Uint64(buf[12:20])),
		SourceAID:  actor.ActorID(binary.BigEndian.Uint32(buf[20:24])),
		DestAID:    actor.ActorID(binary.BigEndian.Uint32(buf[24:28])),
	}

	if h.PayloadLen > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: payload of %d bytes exceeds "+
			"limit", actor.ErrMalformedFrame, h.PayloadLen)
	}

	return h, nil
}

// Handshake bounds, enforced on parse. Out-of-bound counts are fatal
// invalid-handshake errors.
const (
	// MaxHandshakeSignatures caps the advertised interface signatures.
	MaxHandshakeSignatures = 100

	// MaxSignatureLen caps one signature string.
	MaxSignatureLen = 500
)

// errIncomplete reports that more bytes are needed; it never escapes the
// peer's read loop.
var errIncomplete = fmt.Errorf("handshake incomplete")

// Handshake is the first exchange on a fresh connection, sent by both sides
// before any framed traffic:
//
//	4 B   actor id of the published actor (0 if client-only)
//	4 B   process id
//	20 B  host hash
//	4 B   interface signature count, then per signature:
//	        4 B length + UTF-8 bytes
type Handshake struct {
	// PublishedID is the acceptor-side published actor, zero for pure
	// clients.
	PublishedID actor.ActorID

	// Node is the sending runtime's node id.
	Node actor.NodeID

	// Signatures advertises the published actor's interface strings.
	Signatures []string
}

// Encode serializes the handshake.
func (hs *Handshake) Encode() ([]byte, error) {
	if len(hs.Signatures) > MaxHandshakeSignatures {
		return nil, fmt.Errorf("%w: %d signatures exceed limit",
			actor.ErrHandshakeFailed, len(hs.Signatures))
	}

	size := 4 + 4 + actor.NodeHashSize + 4
	for _, sig := range hs.Signatures {
		if len(sig) > MaxSignatureLen {
			return nil, fmt.Errorf("%w: signature of %d bytes "+
				"exceeds limit", actor.ErrHandshakeFailed,
				len(sig))
		}
		size += 4 + len(sig)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(hs.PublishedID))
	buf = binary.BigEndian.AppendUint32(buf, hs.Node.PID)
	buf = append(buf, hs.Node.Hash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hs.Signatures)))
	for _, sig := range hs.Signatures {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(sig)))
		buf = append(buf, sig...)
	}

	return buf, nil
}

// ParseHandshake decodes a handshake from the front of buf, returning the
// parsed value and the number of bytes consumed. errIncomplete asks the
// caller to wait for more bytes; any other error is fatal.
func ParseHandshake(buf []byte) (*Handshake, int, error) {
	const fixed = 4 + 4 + actor.NodeHashSize + 4
	if len(buf) < fixed {
		return nil, 0, errIncomplete
	}

	hs := &Handshake{
		PublishedID: actor.ActorID(binary.BigEndian.Uint32(buf[0:4])),
	}
	hs.Node.PID = binary.BigEndian.Uint32(buf[4:8])
	copy(hs.Node.Hash[:], buf[8:8+actor.NodeHashSize])

	off := 8 + actor.NodeHashSize
	count := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	if count > MaxHandshakeSignatures {
		return nil, 0, fmt.Errorf("%w: %d signatures exceed limit",
			actor.ErrHandshakeFailed, count)
	}

	for i := uint32(0); i < count; i++ {
		if len(buf) < off+4 {
			return nil, 0, errIncomplete
		}
		slen := binary.BigEndian.Uint32(buf[off : off+4])
		off += 4

		if slen > MaxSignatureLen {
			return nil, 0, fmt.Errorf("%w: signature of %d "+
				"bytes exceeds limit",
				actor.ErrHandshakeFailed, slen)
		}
		if len(buf) < off+int(slen) {
			return nil, 0, errIncomplete
		}

		hs.Signatures = append(
			hs.Signatures, string(buf[off:off+int(slen)]),
		)
		off += int(slen)
	}

	return hs, off, nil
}

// EncodeError serializes a runtime error as a frame payload.
func EncodeError(e *actor.Error) []byte {
	kind := []byte(e.Kind)
	msg := []byte(e.Msg)

	buf := make([]byte, 0, 1+len(kind)+4+2+len(msg))
	buf = append(buf, byte(len(kind)))
	buf = append(buf, kind...)
	buf = binary.BigEndian.AppendUint32(buf, e.Code)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg)))
	buf = append(buf, msg...)

	return buf
}

// ParseError decodes a frame payload produced by EncodeError.
func ParseError(buf []byte) (*actor.Error, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: empty error payload",
			actor.ErrMalformedFrame)
	}

	klen := int(buf[0])
	if len(buf) < 1+klen+4+2 {
		return nil, fmt.Errorf("%w: truncated error payload",
			actor.ErrMalformedFrame)
	}

	kind := actor.ErrKind(buf[1 : 1+klen])
	off := 1 + klen
	code := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	mlen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2

	if len(buf) < off+mlen {
		return nil, fmt.Errorf("%w: truncated error message",
			actor.ErrMalformedFrame)
	}

	return actor.NewError(kind, code, string(buf[off:off+mlen])), nil
}
