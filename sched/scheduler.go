package sched

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSchedulerStopped is returned when a job is submitted after Shutdown.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// DefaultMaxThroughput is the number of messages an actor may process per
// resume before it must yield back to its worker.
const DefaultMaxThroughput = 300

// Config holds the tunables for a scheduler instance.
type Config struct {
	// Workers is the size of the worker pool. Zero selects
	// max(4, NumCPU).
	Workers int

	// MaxThroughput caps how many messages a job processes per resume.
	// Zero selects DefaultMaxThroughput.
	MaxThroughput int

	// Policy selects the scheduling strategy. Nil selects work stealing.
	Policy Policy
}

// DefaultConfig returns the scheduler defaults: a work-stealing pool sized
// to the machine.
func DefaultConfig() Config {
	return Config{
		Workers:       DefaultWorkerCount(),
		MaxThroughput: DefaultMaxThroughput,
		Policy:        NewWorkStealing(),
	}
}

// DefaultWorkerCount returns max(4, hardware concurrency).
func DefaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}

	return n
}

// Scheduler multiplexes runnable jobs across a fixed pool of workers and
// owns the clock that provides delayed delivery. Its contract with workers
// is total: it never rethrows, panics from jobs are the job's own business.
type Scheduler struct {
	cfg Config

	// workers is the fixed pool, immutable after Start.
	workers []*worker

	// policy is the scheduling strategy in effect.
	policy Policy

	// nextWorker drives round-robin placement of external enqueues.
	nextWorker atomic.Uint64

	// central is the shared queue used by the work-sharing policy. The
	// stealing policy leaves it empty but the condition variable still
	// doubles as the generic wakeup hint.
	central     []Resumable
	centralMu   sync.Mutex
	centralCond *sync.Cond

	// clock provides "run action at time T" scheduling.
	clock *Clock

	// stopFlag flips once Shutdown begins; enqueue refuses afterwards.
	stopFlag atomic.Bool

	// startOnce/stopOnce guard the lifecycle transitions.
	startOnce sync.Once
	stopOnce  sync.Once

	// ctx is a plain background context handed to log calls.
	ctx context.Context
}

// New creates a scheduler from cfg. Start must be called before jobs are
// submitted.
func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerCount()
	}
	if cfg.MaxThroughput <= 0 {
		cfg.MaxThroughput = DefaultMaxThroughput
	}
	if cfg.Policy == nil {
		cfg.Policy = NewWorkStealing()
	}

	s := &Scheduler{
		cfg:    cfg,
		policy: cfg.Policy,
		clock:  NewClock(),
		ctx:    context.Background(),
	}
	s.centralCond = sync.NewCond(&s.centralMu)

	for i := 0; i < cfg.Workers; i++ {
		s.workers = append(s.workers, newWorker(i, s))
	}

	return s
}

// Start launches the worker pool and the clock dispatcher.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		log.InfoS(s.ctx, "Scheduler starting",
			"workers", len(s.workers),
			"max_throughput", s.cfg.MaxThroughput)

		s.clock.Start()
		for _, w := range s.workers {
			go w.run()
		}
	})
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() *Clock {
	return s.clock
}

// NumWorkers returns the size of the worker pool.
func (s *Scheduler) NumWorkers() int {
	return len(s.workers)
}

// Enqueue submits a job from outside any worker. The caller must hold a
// scheduler reference on the job (ScheduleRef); ownership transfers to the
// pool. Jobs submitted after shutdown run their exit path immediately.
func (s *Scheduler) Enqueue(job Resumable) {
	if s.stopFlag.Load() {
		job.CleanupAndRelease(ErrSchedulerStopped)
		return
	}

	s.policy.externalEnqueue(s, job)
}

// Shutdown drains the pool: one shutdown job per worker makes each run loop
// exit, workers are joined in order, the clock dispatcher stops, and any
// jobs left in local or central queues run their exit paths through
// CleanupAndRelease.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.stopFlag.Store(true)

		// One shutdown resumable per worker. Under work sharing any
		// worker may pick any of them, but each worker consumes at
		// most one because it exits right after.
		for _, w := range s.workers {
			w.queue.pushTail(w.shutdownJob())
		}
		s.centralMu.Lock()
		for range s.workers {
			s.central = append(s.central, (&worker{sched: s}).shutdownJob())
		}
		s.centralMu.Unlock()
		s.centralCond.Broadcast()

		// Join workers in order.
		for _, w := range s.workers {
			<-w.done
		}

		s.clock.Stop()

		// Feed stranded jobs through their exit paths.
		var stranded []Resumable
		for _, w := range s.workers {
			stranded = append(stranded, w.queue.drain()...)
		}
		s.centralMu.Lock()
		stranded = append(stranded, s.central...)
		s.central = nil
		s.centralMu.Unlock()

		for _, job := range stranded {
			job.CleanupAndRelease(ErrSchedulerStopped)
		}

		log.InfoS(s.ctx, "Scheduler stopped",
			"stranded_jobs", len(stranded))
	})
}

// RunDetached drives a job on its own goroutine, outside the worker pool.
// Detached jobs still observe the resume protocol; AwaitingMessage parks the
// goroutine until the job is re-scheduled through the returned unit.
func RunDetached(job Resumable, maxThroughput int) *DetachedUnit {
	if maxThroughput <= 0 {
		maxThroughput = DefaultMaxThroughput
	}

	u := &DetachedUnit{
		wake: make(chan Resumable, 1),
		done: make(chan struct{}),
	}

	go u.run(job, maxThroughput)

	return u
}

// DetachedUnit is the private execution unit of a detached job.
type DetachedUnit struct {
	wake chan Resumable
	done chan struct{}
}

// Schedule re-arms a parked detached job. The job argument must be the same
// job the unit was started with; it is accepted to satisfy ExecUnit.
func (u *DetachedUnit) Schedule(job Resumable) {
	select {
	case u.wake <- job:
	case <-u.done:
		// The loop already exited; run the exit path so the wakeup
		// reference is not leaked.
		job.CleanupAndRelease(ErrSchedulerStopped)
	}
}

// Done is closed once the detached goroutine exits.
func (u *DetachedUnit) Done() <-chan struct{} {
	return u.done
}

func (u *DetachedUnit) run(job Resumable, maxThroughput int) {
	defer close(u.done)

	for {
		switch job.Resume(u, maxThroughput) {
		case ResumeLater:
			// Loop again immediately; a detached job owns its
			// goroutine and needs no queue.
			continue

		case AwaitingMessage:
			parked, ok := <-u.wake
			if !ok {
				return
			}
			job = parked

		case Done, Shutdown:
			job.ReleaseRef()
			return
		}
	}
}

// AwaitIdle blocks until every worker deque and the central queue are empty,
// or the timeout expires. Intended for tests that need a quiescent pool.
func (s *Scheduler) AwaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		idle := true
		for _, w := range s.workers {
			if w.queue.size() != 0 {
				idle = false
				break
			}
		}
		s.centralMu.Lock()
		if len(s.central) != 0 {
			idle = false
		}
		s.centralMu.Unlock()

		if idle {
			return true
		}
		time.Sleep(time.Millisecond)
	}

	return false
}
