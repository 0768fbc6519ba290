package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(zerolog.Nop())
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_Timeout_RunsOnce(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	s.ScheduleTimeout("t1", func() { runs.Add(1) }, 10*time.Millisecond, TaskOptions{})

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The completed one-shot removes itself from the table.
	require.Eventually(t, func() bool {
		_, ok := s.Status()["t1"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_Interval_RunsRepeatedly(t *testing.T) {
	s := newTestScheduler(t)

	// Sub-second cron intervals round up to one second.
	var runs atomic.Int32
	s.ScheduleInterval("i1", func() { runs.Add(1) }, time.Second, TaskOptions{})

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, "interval", s.Status()["i1"])
}

func TestScheduler_DuplicateIDReplaces(t *testing.T) {
	s := newTestScheduler(t)

	var first, second atomic.Int32
	s.ScheduleTimeout("dup", func() { first.Add(1) }, 30*time.Millisecond, TaskOptions{})
	s.ScheduleTimeout("dup", func() { second.Add(1) }, 30*time.Millisecond, TaskOptions{})

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, first.Load(), "replaced task must not fire")
}

func TestScheduler_ClearTask(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	s.ScheduleTimeout("c1", func() { runs.Add(1) }, 30*time.Millisecond, TaskOptions{})
	s.ClearTask("c1")

	time.Sleep(80 * time.Millisecond)
	require.Zero(t, runs.Load())
	require.NotContains(t, s.Status(), "c1")

	// Clearing an unknown id is a no-op.
	s.ClearTask("missing")
}

func TestScheduler_DetailedTasks(t *testing.T) {
	s := newTestScheduler(t)
	s.ScheduleInterval("b", func() {}, time.Hour, TaskOptions{Unref: true})
	s.ScheduleInterval("a", func() {}, time.Minute, TaskOptions{})

	tasks := s.DetailedTasks()
	require.Len(t, tasks, 2)
	require.Equal(t, "a", tasks[0].ID)
	require.Equal(t, "b", tasks[1].ID)
	require.True(t, tasks[1].Unref)
	require.Equal(t, time.Hour, tasks[1].Period)
}

func TestScheduler_StopPreventsNewTasks(t *testing.T) {
	s := New(zerolog.Nop())
	s.Stop()

	var runs atomic.Int32
	s.ScheduleTimeout("late", func() { runs.Add(1) }, time.Millisecond, TaskOptions{})
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, runs.Load())
	require.Empty(t, s.Status())

	// Stop is idempotent.
	s.Stop()
}
