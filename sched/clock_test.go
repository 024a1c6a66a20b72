package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockFires checks a scheduled action runs close to its due time.
func TestClockFires(t *testing.T) {
	c := NewClock()
	c.Start()
	defer c.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	c.ScheduleAfter(50*time.Millisecond, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		require.GreaterOrEqual(t, at.Sub(start), 45*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("action never fired")
	}
}

// TestClockOrdering checks actions fire in due-time order even when
// scheduled out of order.
func TestClockOrdering(t *testing.T) {
	c := NewClock()
	c.Start()
	defer c.Stop()

	order := make(chan int, 3)
	now := time.Now()
	c.ScheduleAt(now.Add(150*time.Millisecond), func() { order <- 3 })
	c.ScheduleAt(now.Add(50*time.Millisecond), func() { order <- 1 })
	c.ScheduleAt(now.Add(100*time.Millisecond), func() { order <- 2 })

	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatal("actions did not all fire")
		}
	}
}

// TestClockCancellation checks a disposed entry never fires and causes no
// spurious activity.
func TestClockCancellation(t *testing.T) {
	c := NewClock()
	c.Start()
	defer c.Stop()

	var fired atomic.Int32
	disp := c.ScheduleAfter(100*time.Millisecond, func() {
		fired.Add(1)
	})

	time.Sleep(50 * time.Millisecond)
	disp.Dispose()
	require.True(t, disp.Disposed())

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load(),
		"disposed action must not fire")
}

// TestClockPeriodic checks periodic entries re-fire until disposed.
func TestClockPeriodic(t *testing.T) {
	c := NewClock()
	c.Start()
	defer c.Stop()

	var fired atomic.Int32
	disp := c.SchedulePeriodic(
		time.Now().Add(20*time.Millisecond), 20*time.Millisecond,
		func() { fired.Add(1) },
	)

	require.Eventually(t, func() bool {
		return fired.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	disp.Dispose()
	settled := fired.Load()

	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, fired.Load(), settled+1,
		"periodic entry kept firing after dispose")
}

// TestClockStopDropsPending checks Stop exits the dispatcher without firing
// far-future entries.
func TestClockStopDropsPending(t *testing.T) {
	c := NewClock()
	c.Start()

	var fired atomic.Int32
	c.ScheduleAfter(time.Hour, func() { fired.Add(1) })

	c.Stop()
	require.EqualValues(t, 0, fired.Load())
}
