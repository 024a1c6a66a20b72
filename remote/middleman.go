package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/netio"
	"github.com/roasbeef/troupe/sched"
)

// DefaultProxyGracePeriod is how long a peer connection survives with no
// local proxy references to its node before the sweep closes it.
const DefaultProxyGracePeriod = 30 * time.Second

// handshakeTimeout bounds the connect-side wait for the remote handshake.
const handshakeTimeout = 15 * time.Second

// announceKey dedups proxy announcements per (node, actor).
type announceKey struct {
	node actor.NodeID
	aid  actor.ActorID
}

// Config bundles the middleman's collaborators and knobs.
type Config struct {
	// System is the owning runtime.
	System actor.System

	// Backend creates sockets. Nil selects the TCP backend.
	Backend netio.Backend

	// Codecs is the payload codec registry. Nil creates a fresh one
	// with the builtins.
	Codecs *CodecRegistry

	// ProxyGracePeriod overrides DefaultProxyGracePeriod. Zero keeps
	// the default; negative disables the sweep.
	ProxyGracePeriod time.Duration
}

// Middleman is the remoting brain: it owns the multiplexer, the routing
// table, the proxy namespace and the codec registry, and implements the
// publish / remote-actor surface on top of the peer state machine.
type Middleman struct {
	cfg Config

	sys     actor.System
	backend netio.Backend
	mpx     *netio.Multiplexer
	routes  *RoutingTable
	ns      *ActorNamespace
	codecs  *CodecRegistry

	// mu guards the maps below.
	mu sync.Mutex

	// acceptors tracks live published ports.
	acceptors []netio.Acceptor

	// announced dedups MsgAnnounceProxy per remote actor.
	announced map[announceKey]bool

	// exitHooked dedups the kill-proxy exit callback per (peer, actor).
	exitHooked map[*Peer]map[actor.ActorID]bool

	// proxyIdle records when a peer's node first had zero proxies, for
	// the grace-period sweep.
	proxyIdle map[actor.NodeID]time.Time

	sweep sched.Disposable

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMiddleman wires a middleman from cfg.
func NewMiddleman(cfg Config) *Middleman {
	if cfg.Backend == nil {
		cfg.Backend = netio.NewTCPBackend()
	}
	if cfg.Codecs == nil {
		cfg.Codecs = NewCodecRegistry()
	}
	if cfg.ProxyGracePeriod == 0 {
		cfg.ProxyGracePeriod = DefaultProxyGracePeriod
	}

	return &Middleman{
		cfg:        cfg,
		sys:        cfg.System,
		backend:    cfg.Backend,
		mpx:        netio.NewMultiplexer(),
		routes:     NewRoutingTable(),
		ns:         NewActorNamespace(),
		codecs:     cfg.Codecs,
		announced:  make(map[announceKey]bool),
		exitHooked: make(map[*Peer]map[actor.ActorID]bool),
		proxyIdle:  make(map[actor.NodeID]time.Time),
	}
}

// Start launches the multiplexer loop and the proxy-count sweep.
func (mm *Middleman) Start() {
	mm.startOnce.Do(func() {
		mm.mpx.Start()

		if mm.cfg.ProxyGracePeriod > 0 {
			period := mm.cfg.ProxyGracePeriod / 2
			mm.sweep = mm.sys.Clock().SchedulePeriodic(
				time.Now().Add(period), period, mm.sweepProxies,
			)
		}
	})
}

// Stop closes acceptors, stops the sweep and gracefully drains the
// multiplexer.
func (mm *Middleman) Stop(timeout time.Duration) {
	mm.stopOnce.Do(func() {
		if mm.sweep != nil {
			mm.sweep.Dispose()
		}

		mm.mu.Lock()
		acceptors := mm.acceptors
		mm.acceptors = nil
		mm.mu.Unlock()

		for _, acc := range acceptors {
			acc.Close()
		}

		mm.mpx.Stop(timeout)
	})
}

// Routes exposes the routing table (tests, diagnostics, manual indirect
// route injection).
func (mm *Middleman) Routes() *RoutingTable {
	return mm.routes
}

// Namespace exposes the proxy namespace.
func (mm *Middleman) Namespace() *ActorNamespace {
	return mm.ns
}

// Codecs exposes the payload codec registry.
func (mm *Middleman) Codecs() *CodecRegistry {
	return mm.codecs
}

// Publish binds an acceptor on port and serves the given actor to inbound
// peers. It returns the bound address. Bind failures surface synchronously.
func (mm *Middleman) Publish(ref *actor.StrongRef, port uint16,
	signatures []string) (string, error) {

	acc, err := mm.backend.Listen(port)
	if err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}

	mm.mu.Lock()
	mm.acceptors = append(mm.acceptors, acc)
	mm.mu.Unlock()

	published := ref.Clone()

	go func() {
		defer published.Release()

		for {
			sock, err := acc.Accept()
			if err != nil {
				log.DebugS(ctxb, "Acceptor closed",
					"addr", acc.Addr(), "err", err)

				return
			}

			_, err = newPeer(mm, sock, published, signatures)
			if err != nil {
				log.WarnS(ctxb, "Inbound peer setup failed",
					err)
			}
		}
	}()

	log.InfoS(ctxb, "Actor published",
		"actor_id", ref.ID(), "addr", acc.Addr())

	return acc.Addr(), nil
}

// RemoteActor connects to host:port, runs the handshake and returns a
// strong handle for the actor published there. Connecting to ourselves
// collapses to a local registry lookup.
func (mm *Middleman) RemoteActor(host string,
	port uint16) (*actor.StrongRef, error) {

	sock, err := mm.backend.Connect(host, port)
	if err != nil {
		return nil, err
	}

	peer, err := newPeer(mm, sock, nil, nil)
	if err != nil {
		return nil, err
	}

	select {
	case err = <-peer.hsDone:
		if err != nil {
			return nil, err
		}
	case <-time.After(handshakeTimeout):
		mm.mpx.RunLater(func() {
			peer.fail(fmt.Errorf("%w: handshake timeout",
				actor.ErrHandshakeFailed))
		})

		return nil, fmt.Errorf("%w: handshake timeout",
			actor.ErrHandshakeFailed)
	}

	hs := peer.RemoteHandshake()
	if hs.PublishedID == actor.InvalidActorID {
		return nil, fmt.Errorf("%w: peer published no actor",
			actor.ErrHandshakeFailed)
	}

	// A connection to our own node collapses to the local registry: the
	// handle is the local control block, not a proxy.
	if hs.Node == mm.sys.NodeID() {
		mm.mpx.RunLater(func() {
			peer.fail(netio.ErrClosed)
		})

		local := mm.sys.Registry().GetStrong(hs.PublishedID)
		if local == nil {
			return nil, actor.ErrReceiverDown
		}

		return local, nil
	}

	return mm.ProxyFor(hs.Node, hs.PublishedID), nil
}

// ProxyFor returns a strong handle to the (de-duplicated) proxy for the
// given remote actor, announcing it to the owner on first construction.
func (mm *Middleman) ProxyFor(node actor.NodeID,
	aid actor.ActorID) *actor.StrongRef {

	ref := mm.ns.GetOrPut(node, aid, func() *actor.StrongRef {
		_, ref := NewProxy(mm.sys, node, aid, mm)

		return ref
	})
	if ref == nil {
		return nil
	}

	mm.announceProxy(node, aid)

	return ref
}

// announceProxy sends MsgAnnounceProxy to the owner exactly once per remote
// actor.
func (mm *Middleman) announceProxy(node actor.NodeID, aid actor.ActorID) {
	key := announceKey{node: node, aid: aid}

	mm.mu.Lock()
	seen := mm.announced[key]
	mm.announced[key] = true
	mm.mu.Unlock()

	if seen {
		return
	}

	route := mm.routes.Lookup(node)
	route.WhenSome(func(r Route) {
		hdr := &Header{Type: MsgAnnounceProxy, DestAID: aid}
		r.Peer.EnqueueFrame(hdr, nil)
	})
}

// MonitorRemote installs a monitor on a remote actor by id: when it exits,
// the observer receives a DownMsg carrying the reason, delivered through a
// down frame from the owning node.
func (mm *Middleman) MonitorRemote(observer *actor.StrongRef,
	node actor.NodeID, aid actor.ActorID) error {

	route := mm.routes.Lookup(node)
	r, err := route.UnwrapOrErr(actor.ErrUnreachable)
	if err != nil {
		return err
	}

	hdr := &Header{
		Type:      MsgMonitor,
		SourceAID: observer.ID(),
		DestAID:   aid,
	}

	return r.Peer.EnqueueFrame(hdr, nil)
}

// ForwardDirect implements proxyTransport: the element is serialized and
// routed to the proxy's owning node.
func (mm *Middleman) ForwardDirect(p *Proxy, el *actor.MailboxElement) error {
	route := mm.routes.Lookup(p.Node())
	r, err := route.UnwrapOrErr(actor.ErrUnreachable)
	if err != nil {
		return err
	}

	hdr := &Header{
		Type:      MsgDirect,
		MessageID: el.MID,
		DestAID:   p.ID(),
	}
	if el.Sender != nil {
		hdr.SourceAID = el.Sender.ID()
	}

	// Link management rides dedicated control frames so the receiver
	// needs no payload codecs for them; everything else goes through the
	// codec registry.
	var payload []byte
	switch msg := el.Content.(type) {
	case *actor.LinkMsg:
		hdr.Type = MsgLink

	case *actor.UnlinkMsg:
		hdr.Type = MsgUnlink

	case *actor.DownMsg:
		hdr.Type = MsgDown
		payload = EncodeError(toWireError(msg.Reason))

	default:
		payload, err = mm.codecs.MarshalPayload(el.Content)
		if err != nil {
			return err
		}
	}

	if el.Sender != nil {
		el.Sender.Release()
		el.Sender = nil
	}

	return r.Peer.EnqueueFrame(hdr, payload)
}

// peerHandshake runs on the multiplexer goroutine once a peer's handshake
// parsed: the direct route is recorded (self-connections excepted, they
// collapse on the connect path).
func (mm *Middleman) peerHandshake(p *Peer) {
	if p.node == mm.sys.NodeID() {
		return
	}

	if err := mm.routes.AddDirect(p.node, p); err != nil {
		log.DebugS(ctxb, "Duplicate direct route",
			"node", p.node, "err", err)
	}
}

// peerClosed tears down everything the connection reached: the direct route
// goes away, indirect routes it was the last hop of are invalidated, and
// every proxy owned by the node is tombstoned, which delivers synthetic
// down/exit notifications to their local observers.
func (mm *Middleman) peerClosed(p *Peer, cause error) {
	node, lost, ok := mm.routes.RemovePeer(p)

	mm.mu.Lock()
	delete(mm.exitHooked, p)
	mm.mu.Unlock()

	if !ok {
		return
	}

	log.InfoS(ctxb, "Peer disconnected",
		"node", node, "cause", cause,
		"lost_indirect", len(lost))

	mm.tombstoneNode(node)
	for _, dest := range lost {
		if !mm.routes.HasDirect(dest) {
			mm.tombstoneNode(dest)
		}
	}
}

// tombstoneNode kills every proxy owned by node.
func (mm *Middleman) tombstoneNode(node actor.NodeID) {
	mm.mu.Lock()
	for key := range mm.announced {
		if key.node == node {
			delete(mm.announced, key)
		}
	}
	delete(mm.proxyIdle, node)
	mm.mu.Unlock()

	for _, ref := range mm.ns.Erase(node) {
		if proxy, ok := ref.Actor().(*Proxy); ok {
			proxy.Kill(actor.ErrConnectionClosed, nil)
		}
		ref.Release()
	}
}

// handleFrame dispatches one framed message; runs on the multiplexer
// goroutine.
func (mm *Middleman) handleFrame(p *Peer, hdr Header, payload []byte) {
	switch hdr.Type {
	case MsgDirect:
		mm.handleDirect(p, hdr, payload)

	case MsgAnnounceProxy:
		mm.handleAnnounceProxy(p, hdr)

	case MsgKillProxy:
		reason, err := ParseError(payload)
		if err != nil {
			p.fail(err)

			return
		}
		if ref := mm.ns.EraseOne(p.node, hdr.SourceAID); ref != nil {
			if proxy, ok := ref.Actor().(*Proxy); ok {
				proxy.Kill(reason, nil)
			}
			ref.Release()
		}

	case MsgMonitor:
		mm.handleMonitor(p, hdr)

	case MsgDown:
		reason, err := ParseError(payload)
		if err != nil {
			p.fail(err)

			return
		}
		mm.deliverLocal(p, hdr, &actor.DownMsg{
			Source: actor.Addr{Node: p.node, ID: hdr.SourceAID},
			Reason: reason,
		})

	case MsgLink:
		mm.deliverLocal(p, hdr, &actor.LinkMsg{})

	case MsgUnlink:
		mm.deliverLocal(p, hdr, &actor.UnlinkMsg{})

	default:
		p.fail(fmt.Errorf("%w: unknown message type %d",
			actor.ErrMalformedFrame, uint32(hdr.Type)))
	}
}

// handleDirect decodes an application message and delivers it through the
// peer's sequencing queue.
func (mm *Middleman) handleDirect(p *Peer, hdr Header, payload []byte) {
	id := p.queue.NewID()

	msg, err := mm.codecs.UnmarshalPayload(payload)
	if err != nil {
		log.WarnS(ctxb, "Dropping undecodable direct message", err,
			"from_node", p.node, "dest_aid", hdr.DestAID)
		p.queue.Drop(nil, id)

		return
	}

	receiver := mm.sys.Registry().GetStrong(hdr.DestAID)
	if receiver == nil {
		p.queue.Drop(nil, id)
		mm.bounceWire(p, hdr)

		return
	}

	// Responses resolve the proxy's outstanding-request bookkeeping.
	if hdr.MessageID.IsResponse() && hdr.SourceAID != actor.InvalidActorID {
		if ref := mm.ns.Get(p.node, hdr.SourceAID); ref != nil {
			if proxy, ok := ref.Actor().(*Proxy); ok {
				proxy.CompleteRequest(hdr.MessageID.RequestID())
			}
			ref.Release()
		}
	}

	el := actor.NewMailboxElement(
		mm.wireSender(p, hdr), hdr.MessageID, msg,
	)
	p.queue.Push(nil, id, receiver, el)
}

// wireSender reconstructs the sending actor as a weak proxy handle, or nil
// for anonymous sends.
func (mm *Middleman) wireSender(p *Peer, hdr Header) *actor.WeakRef {
	if hdr.SourceAID == actor.InvalidActorID {
		return nil
	}

	ref := mm.ProxyFor(p.node, hdr.SourceAID)
	if ref == nil {
		return nil
	}
	defer ref.Release()

	return ref.Downgrade()
}

// bounceWire answers a wire request whose receiver is unknown or dead with
// a bounced error.
func (mm *Middleman) bounceWire(p *Peer, hdr Header) {
	if !hdr.MessageID.IsRequest() ||
		hdr.SourceAID == actor.InvalidActorID {

		return
	}

	payload, err := mm.codecs.MarshalPayload(&actor.ErrorMsg{
		Err: actor.ErrBounced,
	})
	if err != nil {
		return
	}

	resp := &Header{
		Type:      MsgDirect,
		MessageID: hdr.MessageID.ResponseID(),
		SourceAID: hdr.DestAID,
		DestAID:   hdr.SourceAID,
	}
	p.EnqueueFrame(resp, payload)
}

// handleAnnounceProxy hooks the published actor's exit to a kill-proxy
// frame so the announcing node tears its proxy down when the actor dies.
func (mm *Middleman) handleAnnounceProxy(p *Peer, hdr Header) {
	aid := hdr.DestAID

	mm.mu.Lock()
	hooks, ok := mm.exitHooked[p]
	if !ok {
		hooks = make(map[actor.ActorID]bool)
		mm.exitHooked[p] = hooks
	}
	seen := hooks[aid]
	hooks[aid] = true
	mm.mu.Unlock()

	if seen {
		return
	}

	sendKill := func(reason error) {
		hdr := &Header{Type: MsgKillProxy, SourceAID: aid}
		p.EnqueueFrame(hdr, EncodeError(toWireError(reason)))
	}

	local := mm.sys.Registry().GetStrong(aid)
	if local == nil {
		sendKill(actor.ErrReceiverDown)

		return
	}
	defer local.Release()

	local.Actor().Attach(actor.NewExitCallback(sendKill), nil)
}

// handleMonitor installs a monitor on the destination actor that reports
// back to the requesting node through a down frame.
func (mm *Middleman) handleMonitor(p *Peer, hdr Header) {
	observer := hdr.SourceAID
	subject := hdr.DestAID

	sendDown := func(reason error) {
		hdr := &Header{
			Type:      MsgDown,
			SourceAID: subject,
			DestAID:   observer,
		}
		p.EnqueueFrame(hdr, EncodeError(toWireError(reason)))
	}

	local := mm.sys.Registry().GetStrong(subject)
	if local == nil {
		sendDown(actor.ErrReceiverDown)

		return
	}
	defer local.Release()

	local.Actor().Attach(actor.NewExitCallback(sendDown), nil)
}

// deliverLocal pushes a synthesized system message into a local actor's
// mailbox, with the remote sender reconstructed as a proxy.
func (mm *Middleman) deliverLocal(p *Peer, hdr Header, msg actor.Message) {
	receiver := mm.sys.Registry().GetStrong(hdr.DestAID)
	if receiver == nil {
		return
	}
	defer receiver.Release()

	el := actor.NewMailboxElement(
		mm.wireSender(p, hdr), hdr.MessageID, msg,
	)
	if !receiver.Enqueue(el, nil) {
		actor.BounceElement(el, nil)
	}
}

// sweepProxies closes peer connections whose nodes kept zero local proxies
// for a full grace period.
func (mm *Middleman) sweepProxies() {
	now := time.Now()
	grace := mm.cfg.ProxyGracePeriod

	for _, node := range mm.routes.Nodes() {
		count := mm.ns.CountProxies(node)

		mm.mu.Lock()
		since, marked := mm.proxyIdle[node]
		switch {
		case count > 0:
			delete(mm.proxyIdle, node)
			mm.mu.Unlock()

			continue

		case !marked:
			mm.proxyIdle[node] = now
			mm.mu.Unlock()

			continue
		}
		mm.mu.Unlock()

		if now.Sub(since) < grace {
			continue
		}

		route := mm.routes.Lookup(node)
		route.WhenSome(func(r Route) {
			if r.Hop != node {
				return
			}

			log.InfoS(ctxb, "Closing idle peer connection",
				"node", node, "idle", now.Sub(since))

			mm.mpx.RunLater(func() {
				r.Peer.fail(netio.ErrClosed)
			})
		})
	}
}
