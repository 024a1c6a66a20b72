package sched

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Disposable is a handle to a scheduled action. Disposing is cooperative:
// the flag is observed by the dispatcher, which filters the entry out before
// firing it.
type Disposable interface {
	// Dispose requests cancellation. Safe to call any number of times
	// and from any goroutine.
	Dispose()

	// Disposed reports whether Dispose was called.
	Disposed() bool
}

// scheduleEntry is one pending action in the clock's ordered schedule.
type scheduleEntry struct {
	// due is the instant the action fires.
	due time.Time

	// action runs on the dispatcher goroutine.
	action func()

	// period, when non-zero, reinserts the entry at due+period after
	// each firing.
	period time.Duration

	// disposed flips when the owner cancels the entry.
	disposed atomic.Bool

	// seq breaks ties between entries with equal due times so the
	// schedule behaves like an ordered multimap.
	seq uint64

	// index is maintained by the heap.
	index int
}

func (e *scheduleEntry) Dispose() {
	e.disposed.Store(true)
}

func (e *scheduleEntry) Disposed() bool {
	return e.disposed.Load()
}

// scheduleHeap orders entries by due time, then insertion order.
type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}

	return h[i].due.Before(h[j].due)
}

func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduleHeap) Push(x any) {
	e := x.(*scheduleEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}

// feedCapacity bounds the producer-side request buffer. Producers block once
// the dispatcher falls this far behind, which keeps the schedule honest.
const feedCapacity = 1024

// Clock is a monotonic timer with a "run action at time T" ordered schedule.
// A single dispatcher goroutine owns the schedule; producers hand entries
// over through a bounded buffer so they never touch the schedule directly.
type Clock struct {
	// feed carries new entries from producers to the dispatcher.
	feed chan *scheduleEntry

	// seq stamps entries for stable ordering of equal due times.
	seq atomic.Uint64

	// quit signals the dispatcher to exit; done closes when it has.
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	ctx context.Context
}

// NewClock creates a stopped clock. Start launches the dispatcher.
func NewClock() *Clock {
	return &Clock{
		feed: make(chan *scheduleEntry, feedCapacity),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		ctx:  context.Background(),
	}
}

// Start launches the dispatcher goroutine.
func (c *Clock) Start() {
	c.startOnce.Do(func() {
		go c.dispatch()
	})
}

// Stop terminates the dispatcher and waits for it to exit. Pending entries
// are dropped without firing.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		<-c.done
	})
}

// ScheduleAt runs action at the given instant. The returned Disposable
// cancels the action if disposed before it fires.
func (c *Clock) ScheduleAt(at time.Time, action func()) Disposable {
	return c.schedule(at, 0, action)
}

// ScheduleAfter runs action after delay d.
func (c *Clock) ScheduleAfter(d time.Duration, action func()) Disposable {
	return c.schedule(time.Now().Add(d), 0, action)
}

// SchedulePeriodic runs action at the given instant and then every period
// thereafter until disposed. Missed ticks are skipped, not replayed.
func (c *Clock) SchedulePeriodic(at time.Time, period time.Duration,
	action func()) Disposable {

	return c.schedule(at, period, action)
}

func (c *Clock) schedule(at time.Time, period time.Duration,
	action func()) Disposable {

	e := &scheduleEntry{
		due:    at,
		action: action,
		period: period,
		seq:    c.seq.Add(1),
	}

	select {
	case c.feed <- e:
	case <-c.quit:
		// Clock is gone; behave like an immediately disposed entry.
		e.Dispose()
	}

	return e
}

// dispatch is the dispatcher loop. With an empty schedule it blocks on the
// feed; otherwise it sleeps until the earliest entry is due or a new entry
// arrives, then fires everything that is ripe, reinserting periodic entries
// and pruning disposed ones.
func (c *Clock) dispatch() {
	defer close(c.done)

	var schedule scheduleHeap
	heap.Init(&schedule)

	insert := func(e *scheduleEntry) {
		if !e.Disposed() {
			heap.Push(&schedule, e)
		}
	}

	for {
		// Drop disposed entries sitting at the front so we never
		// sleep on a dead head.
		for schedule.Len() > 0 && schedule[0].Disposed() {
			heap.Pop(&schedule)
		}

		if schedule.Len() == 0 {
			select {
			case e := <-c.feed:
				insert(e)
			case <-c.quit:
				return
			}
			continue
		}

		now := time.Now()
		head := schedule[0]

		if head.due.After(now) {
			timer := time.NewTimer(head.due.Sub(now))
			select {
			case e := <-c.feed:
				timer.Stop()
				insert(e)
			case <-timer.C:
			case <-c.quit:
				timer.Stop()
				return
			}
			continue
		}

		// Head is ripe: fire everything with due <= now.
		for schedule.Len() > 0 && !schedule[0].due.After(now) {
			e := heap.Pop(&schedule).(*scheduleEntry)
			if e.Disposed() {
				continue
			}

			e.action()

			if e.period > 0 && !e.Disposed() {
				next := e.due.Add(e.period)
				if !next.After(now) {
					// The dispatcher fell behind by at
					// least one full period. Skip the
					// missed ticks instead of bursting.
					missed := now.Sub(next)/e.period + 1
					next = next.Add(
						time.Duration(missed) * e.period,
					)
					log.WarnS(c.ctx, "Clock skipping missed ticks",
						nil, "missed", int64(missed),
						"period", e.period)
				}
				e.due = next
				heap.Push(&schedule, e)
			}
		}

		// Drain whatever arrived while firing.
		for {
			select {
			case e := <-c.feed:
				insert(e)
				continue
			default:
			}
			break
		}
	}
}
