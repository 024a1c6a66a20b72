// Package troupe is a process-local actor runtime: actors communicate by
// asynchronous message passing, a work-stealing scheduler multiplexes them
// across a fixed worker pool, and a binary peer-to-peer protocol extends the
// same model across machines.
package troupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/netio"
	"github.com/roasbeef/troupe/remote"
	"github.com/roasbeef/troupe/sched"
)

// Subsystem is the logging prefix used by this package.
const Subsystem = "TRPE"

// log is a logger that is initialized with no output filters.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// ctxb is the background context threaded into structured log calls.
var ctxb = context.Background()

// Runtime owns everything that used to hide behind globals in comparable
// systems: the registry, the scheduler, the clock, the middleman and the
// logger. Every API that looks global is a method on this value.
type Runtime struct {
	cfg Config

	nodeID    actor.NodeID
	registry  *actor.Registry
	scheduler *sched.Scheduler

	mm *remote.Middleman

	// mailboxHisto is the shared mailbox residency histogram, non-nil
	// when metrics collection is on.
	mailboxHisto prometheus.Observer

	startOnce sync.Once
	stopOnce  sync.Once
}

// New assembles a runtime from cfg. Start must be called before actors are
// spawned.
func New(cfg Config, opts ...RuntimeOption) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var policy sched.Policy
	switch cfg.Policy {
	case PolicySharing:
		policy = sched.NewWorkSharing()
	default:
		policy = sched.NewWorkStealing()
	}

	r := &Runtime{
		cfg:      cfg,
		nodeID:   actor.GenerateNodeID(),
		registry: actor.NewRegistry(),
		scheduler: sched.New(sched.Config{
			Workers:       cfg.Workers,
			MaxThroughput: cfg.MaxThroughput,
			Policy:        policy,
		}),
	}

	rc := &runtimeConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	if cfg.CollectMetrics {
		histo := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "troupe",
			Name:      "mailbox_time_seconds",
			Help: "Time messages spend queued in actor " +
				"mailboxes.",
			Buckets: prometheus.ExponentialBuckets(
				1e-6, 10, 8,
			),
		})
		if rc.registerer != nil {
			if err := rc.registerer.Register(histo); err != nil {
				return nil, fmt.Errorf("registering mailbox "+
					"histogram: %w", err)
			}
		}
		r.mailboxHisto = histo
	}

	r.mm = remote.NewMiddleman(remote.Config{
		System:           r,
		Backend:          rc.backend,
		ProxyGracePeriod: cfg.ProxyGracePeriod,
	})

	return r, nil
}

// runtimeConfig collects RuntimeOption effects.
type runtimeConfig struct {
	backend    netio.Backend
	registerer prometheus.Registerer
}

// RuntimeOption customizes runtime construction.
type RuntimeOption func(*runtimeConfig)

// WithBackend substitutes the socket backend (tests use in-memory pipes).
func WithBackend(b netio.Backend) RuntimeOption {
	return func(c *runtimeConfig) {
		c.backend = b
	}
}

// WithPrometheusRegisterer registers runtime metrics with the given
// registerer.
func WithPrometheusRegisterer(reg prometheus.Registerer) RuntimeOption {
	return func(c *runtimeConfig) {
		c.registerer = reg
	}
}

// Start launches the scheduler (with its clock) and the remoting layer.
func (r *Runtime) Start() {
	r.startOnce.Do(func() {
		log.InfoS(ctxb, "Runtime starting", "node_id", r.nodeID)

		r.scheduler.Start()
		r.mm.Start()
	})
}

// Shutdown winds the runtime down: remoting first (peers flush and close),
// then the scheduler pool drains and the clock stops. The remoting layer
// gets up to half of timeout; the scheduler drain is not bounded by it.
func (r *Runtime) Shutdown(timeout time.Duration) {
	r.stopOnce.Do(func() {
		log.InfoS(ctxb, "Runtime shutting down",
			"running_actors", r.registry.Running())

		r.mm.Stop(timeout / 2)
		r.scheduler.Shutdown()
	})
}

// -- actor.System ------------------------------------------------------------

// NodeID returns this runtime instance's globally unique id.
func (r *Runtime) NodeID() actor.NodeID {
	return r.nodeID
}

// Registry returns the actor registry.
func (r *Runtime) Registry() *actor.Registry {
	return r.registry
}

// Schedule hands a runnable job to the scheduler.
func (r *Runtime) Schedule(job sched.Resumable) {
	r.scheduler.Enqueue(job)
}

// Clock returns the runtime clock.
func (r *Runtime) Clock() *sched.Clock {
	return r.scheduler.Clock()
}

// Middleman exposes the remoting layer.
func (r *Runtime) Middleman() *remote.Middleman {
	return r.mm
}

// -- user surface ------------------------------------------------------------

// Spawn creates an actor running behavior and returns the owning handle.
func (r *Runtime) Spawn(behavior actor.Behavior,
	opts ...SpawnOption) *actor.StrongRef {

	var sc spawnConfig
	for _, opt := range opts {
		opt(&sc)
	}

	cfg := actor.Config{
		Behavior:  behavior,
		InitHook:  sc.initHook,
		OnCleanup: sc.onCleanup,
		TrapExit:  sc.trapExit,
		Hidden:    sc.hidden,
	}
	histo := sc.histo
	if histo == nil {
		histo = r.mailboxHisto
	}
	if histo != nil {
		cfg.MailboxHisto = fn.Some(histo)
	}

	ref := actor.New(r, cfg)
	body := ref.Actor().(*actor.Actor)

	if sc.linkedTo != nil {
		body.LinkTo(sc.linkedTo, nil)
	}
	if sc.monitoredBy != nil {
		body.Attach(
			actor.NewMonitor(sc.monitoredBy.Downgrade(), false),
			nil,
		)
	}

	switch {
	case sc.detached:
		body.ScheduleRef()
		unit := sched.RunDetached(body, r.cfg.MaxThroughput)
		body.SetDetachedUnit(unit)

	case sc.lazyInit:
		body.Park()

	default:
		body.ScheduleRef()
		r.Schedule(body)
	}

	return ref
}

// Send delivers an asynchronous message to target from outside any actor.
func (r *Runtime) Send(target *actor.StrongRef, msg actor.Message) {
	el := actor.NewMailboxElement(nil, actor.InvalidMessageID, msg)
	if !target.Enqueue(el, nil) {
		actor.BounceElement(el, nil)
	}
}

// Request sends a request to target from outside any actor and returns the
// future of the response. The timeout is enforced by the clock; a zero
// timeout disables it.
func (r *Runtime) Request(target *actor.StrongRef, timeout time.Duration,
	msg actor.Message) actor.Future {

	mid := r.registry.NextMessageID()

	rcv, future := actor.NewResponseReceiver(r, mid)
	weak := rcv.Downgrade()
	r.registry.Put(rcv.ID(), weak)
	weak.Release()

	var timer sched.Disposable
	if timeout > 0 {
		receiver := rcv.Clone()
		timer = r.Clock().ScheduleAfter(timeout, func() {
			defer receiver.Release()

			el := actor.NewMailboxElement(
				nil, mid.ResponseID(),
				&actor.ErrorMsg{Err: actor.ErrTimeout},
			)
			receiver.Enqueue(el, nil)
		})
	}

	// Once the future resolves the receiver leaves the registry and the
	// pending timer is disposed.
	future.OnComplete(ctxb, func(fn.Result[actor.Message]) {
		if timer != nil {
			timer.Dispose()
		}
		r.registry.Erase(rcv.ID())
		rcv.Release()
	})

	el := actor.NewMailboxElement(rcv.Downgrade(), mid, msg)
	if !target.Enqueue(el, nil) {
		actor.BounceElement(el, nil)
	}

	return future
}

// Publish serves the given actor on a bound port; inbound peers can resolve
// it through RemoteActor. Returns the bound address.
func (r *Runtime) Publish(ref *actor.StrongRef, port uint16,
	signatures ...string) (string, error) {

	return r.mm.Publish(ref, port, signatures)
}

// RemoteActor connects to a published actor and returns a handle that
// forwards messages over the peer connection transparently.
func (r *Runtime) RemoteActor(host string,
	port uint16) (*actor.StrongRef, error) {

	return r.mm.RemoteActor(host, port)
}

// RegisterCodec installs a payload codec for user message types crossing
// the wire.
func (r *Runtime) RegisterCodec(tag string, c remote.Codec) {
	r.mm.Codecs().Register(tag, c)
}

// AwaitActorsDone blocks until the running actor count returns to zero or
// the timeout expires.
func (r *Runtime) AwaitActorsDone(timeout time.Duration) bool {
	return r.registry.AwaitRunning(0, timeout)
}
