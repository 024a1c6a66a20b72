package sched

// ResumeResult is the verdict a resumable job hands back to the worker that
// drove it. It tells the worker what to do with the job next.
type ResumeResult int

const (
	// ResumeLater indicates the job still has work pending and must be
	// re-queued at the tail of the worker's local deque.
	ResumeLater ResumeResult = iota

	// Done indicates the job finished; the worker releases its reference.
	Done

	// AwaitingMessage indicates the job ran out of input. The scheduler's
	// reference is transferred out: the mailbox holds the resurrection
	// path and whichever producer unblocks the mailbox re-schedules the
	// job.
	AwaitingMessage

	// Shutdown indicates the worker itself must stop. Only the one-shot
	// shutdown helper returns this.
	Shutdown
)

// String returns a human readable name for the resume result.
func (r ResumeResult) String() string {
	switch r {
	case ResumeLater:
		return "resume_later"
	case Done:
		return "done"
	case AwaitingMessage:
		return "awaiting_message"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ExecUnit is the execution context a resumable runs on. Workers implement
// it, as does the detached runner. Jobs use it to schedule follow-up work on
// the unit that is currently driving them.
type ExecUnit interface {
	// Schedule queues a job for execution on this unit. The caller must
	// already hold a scheduler reference on the job (see
	// Resumable.ScheduleRef); ownership transfers to the unit.
	Schedule(job Resumable)
}

// Resumable is anything a worker can drive. Actors implement this interface;
// the scheduler itself only ever sees the contract below.
type Resumable interface {
	// Resume processes up to maxThroughput units of work on the given
	// execution unit and reports what the worker should do next.
	Resume(unit ExecUnit, maxThroughput int) ResumeResult

	// ScheduleRef acquires the reference the scheduler holds while the
	// job sits in a queue or runs. Paired with ReleaseRef.
	ScheduleRef()

	// ReleaseRef drops the scheduler's reference after Done or Shutdown,
	// or after the job was handed off via AwaitingMessage bookkeeping.
	ReleaseRef()

	// CleanupAndRelease runs the job's exit path without resuming it and
	// drops the scheduler's reference. Used to drain queues during
	// scheduler shutdown so pending jobs still observe their exit hooks.
	CleanupAndRelease(reason error)
}

// oneShot adapts a plain function into a Resumable. Reference counting is a
// no-op since the closure owns no external resources.
type oneShot struct {
	fn func(unit ExecUnit) ResumeResult
}

// NewOneShot wraps fn into a Resumable that runs exactly once.
func NewOneShot(fn func(unit ExecUnit) ResumeResult) Resumable {
	return &oneShot{fn: fn}
}

func (o *oneShot) Resume(unit ExecUnit, _ int) ResumeResult {
	return o.fn(unit)
}

func (o *oneShot) ScheduleRef() {}

func (o *oneShot) ReleaseRef() {}

func (o *oneShot) CleanupAndRelease(_ error) {}
