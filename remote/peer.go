package remote

import (
	"fmt"
	"sync"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/netio"
)

// peerState is the connection state machine:
//
//	[waitHandshake] --recv handshake--> [waitHeader]
//	[waitHeader]    --recv header-----> [readMessage(payload_len)]
//	[readMessage]   --recv N bytes----> [waitHeader]   (deliver)
//	any             --I/O error/EOF---> [closed]
type peerState int

const (
	stateWaitHandshake peerState = iota
	stateWaitHeader
	stateReadMessage
	stateClosed
)

// maxHandshakeSize bounds the bytes a peer may spend on its handshake:
// the fixed fields plus the maximum signature block.
const maxHandshakeSize = 4 + 4 + actor.NodeHashSize + 4 +
	MaxHandshakeSignatures*(4+MaxSignatureLen)

// Peer wraps one byte stream to a remote runtime: the handshake and framing
// state machine on the read side, a rotating pending buffer on the write
// side. Read-side state is only touched on the multiplexer goroutine; the
// write buffer takes a mutex because producers append from anywhere.
type Peer struct {
	// mm owns this peer.
	mm *Middleman

	// reg is the multiplexer registration.
	reg *netio.Registration

	// published is the actor this side advertises in its handshake
	// (acceptor side), nil for pure clients.
	published *actor.StrongRef

	// signatures advertises the published actor's interface strings.
	signatures []string

	// state drives the read state machine.
	state peerState

	// rbuf accumulates inbound bytes until a full unit is available.
	rbuf []byte

	// curHeader is the parsed header while in stateReadMessage.
	curHeader Header

	// node is the remote runtime's id, known after the handshake.
	node actor.NodeID

	// remoteHS is the parsed remote handshake.
	remoteHS *Handshake

	// hsDone resolves the connect-side wait for the remote handshake.
	hsDone chan error

	// queue sequences messages decoded off this connection.
	queue *MessageQueue

	// wmu guards wbuf and the draining flag.
	wmu      sync.Mutex
	wbuf     []byte
	draining bool

	// closed flips once the peer failed or drained.
	closed bool
}

// newPeer wires a peer around a socket and registers it with the
// multiplexer. The local handshake is queued for writing immediately.
func newPeer(mm *Middleman, sock netio.StreamSocket,
	published *actor.StrongRef, signatures []string) (*Peer, error) {

	p := &Peer{
		mm:         mm,
		published:  published,
		signatures: signatures,
		state:      stateWaitHandshake,
		hsDone:     make(chan error, 1),
		queue:      NewMessageQueue(),
	}

	hs := &Handshake{Node: mm.sys.NodeID(), Signatures: signatures}
	if published != nil {
		hs.PublishedID = published.ID()
	}
	hsBytes, err := hs.Encode()
	if err != nil {
		sock.Close()

		return nil, err
	}

	p.reg = mm.mpx.Register(sock, p, netio.EventRead)
	p.enqueueBytes(hsBytes)

	return p, nil
}

// Node returns the remote node id; the zero value before the handshake.
func (p *Peer) Node() actor.NodeID {
	return p.node
}

// RemoteHandshake returns the parsed remote handshake, nil before it
// arrived.
func (p *Peer) RemoteHandshake() *Handshake {
	return p.remoteHS
}

// awaitHandshake blocks the connect path until the remote handshake parsed
// or the connection failed.
func (p *Peer) awaitHandshake() error {
	return <-p.hsDone
}

// EnqueueFrame appends a framed message to the write buffer.
func (p *Peer) EnqueueFrame(hdr *Header, payload []byte) error {
	hdr.PayloadLen = uint32(len(payload))
	if hdr.PayloadLen > MaxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds limit",
			actor.ErrMalformedFrame, hdr.PayloadLen)
	}

	frame := hdr.Encode()
	frame = append(frame, payload...)
	p.enqueueBytes(frame)

	return nil
}

// enqueueBytes appends raw bytes to the pending buffer and arms write
// interest.
func (p *Peer) enqueueBytes(b []byte) {
	p.wmu.Lock()
	p.wbuf = append(p.wbuf, b...)
	p.wmu.Unlock()

	p.reg.EnableWrite()
}

// HandleWrite drains the pending buffer. Short writes rotate the buffer
// head; a would-block keeps write interest armed so the suffix transmits
// before any new bytes. An empty buffer de-registers write interest.
func (p *Peer) HandleWrite() {
	p.wmu.Lock()
	pending := p.wbuf
	p.wmu.Unlock()

	if len(pending) == 0 {
		p.reg.DisableWrite()
		p.maybeFinishDrain()

		return
	}

	n, err := p.reg.Socket().WriteSome(pending)

	p.wmu.Lock()
	if n > 0 {
		p.wbuf = p.wbuf[n:]
	}
	empty := len(p.wbuf) == 0
	p.wmu.Unlock()

	switch {
	case err == nil || err == netio.ErrWouldBlock:
		if empty {
			p.reg.DisableWrite()
			p.maybeFinishDrain()
		}

	default:
		p.fail(err)
	}
}

// HandleRead feeds inbound bytes through the state machine.
func (p *Peer) HandleRead(data []byte) {
	if p.state == stateClosed {
		return
	}

	p.rbuf = append(p.rbuf, data...)

	for p.step() {
	}
}

// step consumes one unit from rbuf, returning false when more bytes are
// needed (or the peer closed).
func (p *Peer) step() bool {
	switch p.state {
	case stateWaitHandshake:
		hs, consumed, err := ParseHandshake(p.rbuf)
		if err == errIncomplete {
			if len(p.rbuf) > maxHandshakeSize {
				p.fail(fmt.Errorf("%w: oversized handshake",
					actor.ErrHandshakeFailed))
			}

			return false
		}
		if err != nil {
			p.fail(err)

			return false
		}

		p.rbuf = p.rbuf[consumed:]
		p.remoteHS = hs
		p.node = hs.Node
		p.state = stateWaitHeader

		log.DebugS(ctxb, "Peer handshake complete",
			"remote_node", p.node,
			"published_id", hs.PublishedID,
			"signatures", len(hs.Signatures))

		p.mm.peerHandshake(p)
		p.hsDone <- nil

		return true

	case stateWaitHeader:
		if len(p.rbuf) < HeaderSize {
			return false
		}

		hdr, err := ParseHeader(p.rbuf[:HeaderSize])
		if err != nil {
			p.fail(err)

			return false
		}

		p.rbuf = p.rbuf[HeaderSize:]
		p.curHeader = hdr
		p.state = stateReadMessage

		return true

	case stateReadMessage:
		n := int(p.curHeader.PayloadLen)
		if len(p.rbuf) < n {
			return false
		}

		payload := p.rbuf[:n:n]
		p.rbuf = p.rbuf[n:]
		p.state = stateWaitHeader

		p.mm.handleFrame(p, p.curHeader, payload)

		return true

	default:
		return false
	}
}

// HandleError drives the connection to closed on any read-side error.
func (p *Peer) HandleError(err error) {
	p.fail(err)
}

// ShutdownRead participates in graceful multiplexer shutdown: reading
// stops, pending writes flush, then the connection closes.
func (p *Peer) ShutdownRead() {
	p.reg.DisableRead()

	p.wmu.Lock()
	p.draining = true
	empty := len(p.wbuf) == 0
	p.wmu.Unlock()

	if empty {
		p.fail(netio.ErrClosed)
	}
	// Otherwise HandleWrite finishes the drain.
}

// maybeFinishDrain closes a draining connection once its buffer emptied.
func (p *Peer) maybeFinishDrain() {
	p.wmu.Lock()
	draining := p.draining && len(p.wbuf) == 0
	p.wmu.Unlock()

	if draining {
		p.fail(netio.ErrClosed)
	}
}

// fail drives the connection to closed exactly once: the registration (and
// socket) go away and the middleman erases routes and tombstones proxies.
func (p *Peer) fail(err error) {
	if p.closed {
		return
	}
	p.closed = true
	p.state = stateClosed

	select {
	case p.hsDone <- fmt.Errorf("%w: %v",
		actor.ErrConnectionClosed, err):
	default:
	}

	log.DebugS(ctxb, "Peer closed",
		"remote_node", p.node, "err", err)

	p.reg.Deregister(true)
	p.mm.peerClosed(p, err)
}
