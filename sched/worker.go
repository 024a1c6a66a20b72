package sched

import (
	"math/rand"
	"sync/atomic"
)

// worker drives resumable jobs on a dedicated goroutine. Each worker owns a
// local deque; idle workers find work according to the scheduler's policy.
type worker struct {
	// id is the worker's index within the pool.
	id int

	// sched points back at the owning scheduler.
	sched *Scheduler

	// queue is the worker's local deque of runnable jobs.
	queue deque

	// rng drives victim selection for steal attempts.
	rng *rand.Rand

	// stolen counts jobs this worker stole from peers.
	stolen atomic.Uint64

	// executed counts jobs this worker resumed.
	executed atomic.Uint64

	// done is closed when the worker's run loop exits.
	done chan struct{}
}

func newWorker(id int, s *Scheduler) *worker {
	return &worker{
		id:    id,
		sched: s,
		rng:   newWorkerRNG(id),
		done:  make(chan struct{}),
	}
}

// Schedule queues a job on this worker's local deque. This is the ExecUnit
// entry point used by jobs that want follow-up work to stay on the unit
// currently driving them.
func (w *worker) Schedule(job Resumable) {
	w.sched.policy.internalEnqueue(w, job)
}

// stopping reports whether the scheduler asked the pool to wind down.
func (w *worker) stopping() bool {
	return w.sched.stopFlag.Load()
}

// shutdownJob returns the one-shot that makes the run loop exit.
func (w *worker) shutdownJob() Resumable {
	return NewOneShot(func(ExecUnit) ResumeResult {
		return Shutdown
	})
}

// run is the worker's main loop: fetch a job via the policy, resume it with
// the configured throughput budget, then act on the verdict. The loop only
// exits on a Shutdown verdict.
func (w *worker) run() {
	defer close(w.done)

	for {
		job := w.sched.policy.dequeue(w)

		result := job.Resume(w, w.sched.cfg.MaxThroughput)
		w.executed.Add(1)

		switch result {
		case ResumeLater:
			// The job still has work; it keeps its scheduler
			// reference and goes to the back of the local deque.
			w.queue.pushTail(job)

		case Done:
			job.ReleaseRef()

		case AwaitingMessage:
			// Reference ownership transferred out: the mailbox
			// holds the resurrection path, so there is nothing to
			// release here.

		case Shutdown:
			log.DebugS(w.sched.ctx, "Worker shutting down",
				"worker_id", w.id,
				"executed", w.executed.Load(),
				"stolen", w.stolen.Load())

			return
		}
	}
}

// wakeup is a hint for sleeping pollers. The stealing policy's poll loops
// discover new work on their own; this exists so the scheduler can nudge the
// sharing policy's condition variable without knowing which policy runs.
func (w *worker) wakeup() {
	w.sched.centralCond.Signal()
}
