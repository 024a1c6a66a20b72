package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak across the package's tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingJob is a Resumable that runs fn once per resume and finishes
// after a fixed number of resumes.
type countingJob struct {
	remaining atomic.Int32
	fn        func()
	released  atomic.Bool
	cleaned   atomic.Bool
}

func newCountingJob(resumes int, fn func()) *countingJob {
	j := &countingJob{fn: fn}
	j.remaining.Store(int32(resumes))

	return j
}

func (j *countingJob) Resume(_ ExecUnit, _ int) ResumeResult {
	if j.fn != nil {
		j.fn()
	}
	if j.remaining.Add(-1) > 0 {
		return ResumeLater
	}

	return Done
}

func (j *countingJob) ScheduleRef() {}

func (j *countingJob) ReleaseRef() {
	j.released.Store(true)
}

func (j *countingJob) CleanupAndRelease(error) {
	j.cleaned.Store(true)
}

// TestSchedulerRunsJobs checks every submitted job executes.
func TestSchedulerRunsJobs(t *testing.T) {
	s := New(Config{Workers: 4})
	s.Start()
	defer s.Shutdown()

	const jobs = 1000

	var done atomic.Int32
	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		s.Enqueue(NewOneShot(func(ExecUnit) ResumeResult {
			done.Add(1)
			wg.Done()

			return Done
		}))
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		t.Fatal("jobs did not complete")
	}
	require.EqualValues(t, jobs, done.Load())
}

// TestWorkStealingFairness loads every job onto worker zero's deque and
// checks the other workers steal their share: all workers end up with
// non-zero dequeues.
func TestWorkStealingFairness(t *testing.T) {
	s := New(Config{Workers: 4, Policy: NewWorkStealing()})

	const jobs = 10_000

	// Pile everything onto worker zero before the pool starts so the
	// initial imbalance is total.
	w0 := s.workers[0]
	for i := 0; i < jobs; i++ {
		job := newCountingJob(1, func() {
			time.Sleep(10 * time.Microsecond)
		})
		w0.queue.pushTail(job)
	}

	s.Start()

	require.Eventually(t, func() bool {
		total := uint64(0)
		for _, w := range s.workers {
			total += w.executed.Load()
		}

		return total >= jobs
	}, 30*time.Second, 10*time.Millisecond, "jobs did not drain")

	for _, w := range s.workers {
		require.NotZero(t, w.executed.Load(),
			"worker %d never executed a job", w.id)
	}

	stolen := uint64(0)
	for _, w := range s.workers {
		stolen += w.stolen.Load()
	}
	require.NotZero(t, stolen, "no stealing happened under total imbalance")

	s.Shutdown()
}

// TestWorkSharingPolicy checks jobs drain through the central queue.
func TestWorkSharingPolicy(t *testing.T) {
	s := New(Config{Workers: 3, Policy: NewWorkSharing()})
	s.Start()

	const jobs = 500

	var done atomic.Int32
	for i := 0; i < jobs; i++ {
		s.Enqueue(NewOneShot(func(ExecUnit) ResumeResult {
			done.Add(1)

			return Done
		}))
	}

	require.Eventually(t, func() bool {
		return done.Load() == jobs
	}, 10*time.Second, 5*time.Millisecond)

	s.Shutdown()
}

// TestShutdownDrainsStrandedJobs checks a job submitted after shutdown runs
// its exit path.
func TestShutdownDrainsStrandedJobs(t *testing.T) {
	s := New(Config{Workers: 2})
	s.Start()
	s.Shutdown()

	job := newCountingJob(1, nil)
	s.Enqueue(job)

	require.True(t, job.cleaned.Load(),
		"post-shutdown enqueue must run the exit path")
	require.False(t, job.released.Load(),
		"exit path must not double-release")
}

// TestResumeLaterRequeues checks a multi-resume job completes and releases.
func TestResumeLaterRequeues(t *testing.T) {
	s := New(Config{Workers: 2})
	s.Start()
	defer s.Shutdown()

	var runs atomic.Int32
	job := newCountingJob(5, func() { runs.Add(1) })
	s.Enqueue(job)

	require.Eventually(t, func() bool {
		return job.released.Load()
	}, 10*time.Second, time.Millisecond)
	require.EqualValues(t, 5, runs.Load())
}

// TestDetachedUnit checks the detached runner parks on AwaitingMessage and
// resumes when re-scheduled.
func TestDetachedUnit(t *testing.T) {
	var phase atomic.Int32

	job := &detachedProbe{phase: &phase}
	job.ScheduleRef()
	unit := RunDetached(job, 10)

	// First resume parks the job.
	require.Eventually(t, func() bool {
		return phase.Load() == 1
	}, 5*time.Second, time.Millisecond)

	// Waking it drives the second resume, which finishes.
	unit.Schedule(job)

	select {
	case <-unit.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detached unit never exited")
	}
	require.EqualValues(t, 2, phase.Load())
}

// detachedProbe parks once, then finishes.
type detachedProbe struct {
	phase *atomic.Int32
}

func (d *detachedProbe) Resume(_ ExecUnit, _ int) ResumeResult {
	if d.phase.Add(1) == 1 {
		return AwaitingMessage
	}

	return Done
}

func (d *detachedProbe) ScheduleRef() {}

func (d *detachedProbe) ReleaseRef() {}

func (d *detachedProbe) CleanupAndRelease(error) {}
