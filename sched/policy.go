package sched

import (
	"math/rand"
	"time"
)

// Policy decides how an idle worker finds its next job. The two
// implementations mirror the classic work-stealing and work-sharing
// strategies: stealing keeps per-worker deques and raids peers, sharing
// funnels everything through one central queue.
type Policy interface {
	// externalEnqueue places a job submitted from outside any worker.
	externalEnqueue(s *Scheduler, job Resumable)

	// internalEnqueue places a job submitted by the calling worker.
	internalEnqueue(w *worker, job Resumable)

	// dequeue blocks until a job is available for the worker or the
	// scheduler shuts the worker down. It never returns nil.
	dequeue(w *worker) Resumable
}

// Polling intervals for the three escalating steal tiers. An idle worker
// starts aggressive (spin, steal often), backs off to moderate (short naps)
// and finally settles into relaxed polling until work shows up again. Any
// successful dequeue resets the worker to aggressive.
const (
	aggressivePollAttempts = 100
	aggressiveStealEvery   = 10

	moderatePollAttempts = 500
	moderateStealEvery   = 5
	moderateSleep        = 50 * time.Microsecond

	relaxedStealEvery = 1
	relaxedSleep      = 10 * time.Millisecond
)

// workStealing implements Policy with per-worker deques. Workers dequeue
// from the head of their own deque and steal from the tail of a randomly
// chosen victim.
type workStealing struct{}

// NewWorkStealing returns the work-stealing scheduling policy.
func NewWorkStealing() Policy {
	return workStealing{}
}

func (workStealing) externalEnqueue(s *Scheduler, job Resumable) {
	// Round-robin across workers so externally submitted jobs spread out
	// even before any stealing kicks in.
	idx := s.nextWorker.Add(1) % uint64(len(s.workers))
	w := s.workers[idx]

	w.queue.pushTail(job)
	w.wakeup()
}

func (workStealing) internalEnqueue(w *worker, job Resumable) {
	w.queue.pushTail(job)
}

// tryStealRound picks one random victim and raids the tail of its deque.
func tryStealRound(w *worker) Resumable {
	peers := w.sched.workers
	if len(peers) < 2 {
		return nil
	}

	victim := peers[w.rng.Intn(len(peers))]
	if victim == w {
		return nil
	}

	job := victim.queue.popTail()
	if job != nil {
		w.stolen.Add(1)
	}

	return job
}

func (workStealing) dequeue(w *worker) Resumable {
	for {
		// Fast path: the worker's own deque.
		if job := w.queue.popHead(); job != nil {
			return job
		}
		if w.stopping() {
			return w.shutdownJob()
		}

		// Tier one: aggressive spinning with frequent steals.
		for i := 0; i < aggressivePollAttempts; i++ {
			if job := w.queue.popHead(); job != nil {
				return job
			}
			if i%aggressiveStealEvery == 0 {
				if job := tryStealRound(w); job != nil {
					return job
				}
			}
			if w.stopping() {
				return w.shutdownJob()
			}
		}

		// Tier two: moderate polling with short naps between rounds.
		for i := 0; i < moderatePollAttempts; i++ {
			if job := w.queue.popHead(); job != nil {
				return job
			}
			if i%moderateStealEvery == 0 {
				if job := tryStealRound(w); job != nil {
					return job
				}
			}
			if w.stopping() {
				return w.shutdownJob()
			}
			time.Sleep(moderateSleep)
		}

		// Tier three: relaxed polling, unbounded. Any activity drops
		// us back into the outer loop, resetting to aggressive.
		for {
			if job := w.queue.popHead(); job != nil {
				return job
			}
			if job := tryStealRound(w); job != nil {
				return job
			}
			if w.stopping() {
				return w.shutdownJob()
			}
			time.Sleep(relaxedSleep)
		}
	}
}

// workSharing implements Policy with a single central queue guarded by a
// mutex and condition variable. Simpler than stealing and a better fit when
// the worker count is low or jobs are long-running.
type workSharing struct{}

// NewWorkSharing returns the work-sharing scheduling policy.
func NewWorkSharing() Policy {
	return workSharing{}
}

func (workSharing) externalEnqueue(s *Scheduler, job Resumable) {
	s.centralMu.Lock()
	s.central = append(s.central, job)
	s.centralMu.Unlock()
	s.centralCond.Signal()
}

func (p workSharing) internalEnqueue(w *worker, job Resumable) {
	p.externalEnqueue(w.sched, job)
}

func (workSharing) dequeue(w *worker) Resumable {
	s := w.sched

	s.centralMu.Lock()
	defer s.centralMu.Unlock()

	for len(s.central) == 0 {
		if w.stopping() {
			return w.shutdownJob()
		}
		s.centralCond.Wait()
	}

	job := s.central[0]
	s.central[0] = nil
	s.central = s.central[1:]

	return job
}

// newWorkerRNG seeds a private RNG per worker so victim selection does not
// contend on a shared source.
func newWorkerRNG(id int) *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)<<32))
}
