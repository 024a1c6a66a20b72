package commands

import (
	"fmt"
	"time"

	"github.com/roasbeef/troupe"
	"github.com/roasbeef/troupe/actor"
)

// withRuntime spins up a lightweight client runtime, connects to the remote
// node, runs fn against the published actor and tears everything down.
func withRuntime(fn func(rt *troupe.Runtime,
	remoteRef *actor.StrongRef) error) error {

	cfg := troupe.DefaultConfig()
	cfg.Workers = 4

	rt, err := troupe.New(cfg)
	if err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}
	rt.Start()
	defer rt.Shutdown(5 * time.Second)

	troupe.RegisterTextCodec(rt)

	remoteRef, err := rt.RemoteActor(host, port)
	if err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", host, port, err)
	}
	defer remoteRef.Release()

	return fn(rt, remoteRef)
}
