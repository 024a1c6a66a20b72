package troupe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/troupe/actor"
)

// spawnConfig collects the effect of SpawnOptions.
type spawnConfig struct {
	detached    bool
	lazyInit    bool
	hidden      bool
	trapExit    bool
	linkedTo    *actor.StrongRef
	monitoredBy *actor.StrongRef
	initHook    func(ctx *actor.Context)
	onCleanup   func(reason error)
	histo       prometheus.Observer
}

// SpawnOption customizes one Spawn call.
type SpawnOption func(*spawnConfig)

// WithDetached gives the actor a private goroutine instead of a worker-pool
// slot. Use for actors that block or run long computations.
func WithDetached() SpawnOption {
	return func(c *spawnConfig) {
		c.detached = true
	}
}

// WithLazyInit defers scheduling until the first message arrives.
func WithLazyInit() SpawnOption {
	return func(c *spawnConfig) {
		c.lazyInit = true
	}
}

// WithHidden excludes the actor from the registry's running count so it
// does not delay system shutdown.
func WithHidden() SpawnOption {
	return func(c *spawnConfig) {
		c.hidden = true
	}
}

// WithTrapExit makes the actor observe exit messages as ordinary messages
// instead of propagating their reason.
func WithTrapExit() SpawnOption {
	return func(c *spawnConfig) {
		c.trapExit = true
	}
}

// WithLink links the freshly spawned actor to ref before the first message
// is processed.
func WithLink(ref *actor.StrongRef) SpawnOption {
	return func(c *spawnConfig) {
		c.linkedTo = ref
	}
}

// WithMonitor installs ref as a monitor of the freshly spawned actor.
func WithMonitor(ref *actor.StrongRef) SpawnOption {
	return func(c *spawnConfig) {
		c.monitoredBy = ref
	}
}

// WithInitHook runs fn on the actor's own context before the first message.
func WithInitHook(fn func(ctx *actor.Context)) SpawnOption {
	return func(c *spawnConfig) {
		c.initHook = fn
	}
}

// WithOnCleanup runs fn at the tail of the actor's cleanup protocol.
func WithOnCleanup(fn func(reason error)) SpawnOption {
	return func(c *spawnConfig) {
		c.onCleanup = fn
	}
}

// WithMailboxHisto overrides the mailbox residency observer for this actor.
func WithMailboxHisto(o prometheus.Observer) SpawnOption {
	return func(c *spawnConfig) {
		c.histo = o
	}
}
