// Package scheduler provides the single named-task dispatcher that owns all
// background work in the gateway. Routing every periodic job through one
// object makes shutdown a single drain.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TaskOptions modify task behaviour.
type TaskOptions struct {
	// Unref marks the task as non-blocking for shutdown: Stop does not wait
	// for an in-flight run to finish.
	Unref bool
}

// TaskInfo describes a registered task for introspection.
type TaskInfo struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"` // "interval" or "timeout"
	Period    time.Duration `json:"period,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	LastRunAt time.Time     `json:"lastRunAt,omitempty"`
	RunCount  int64         `json:"runCount"`
	Unref     bool          `json:"unref"`
}

type task struct {
	info    TaskInfo
	cronID  cron.EntryID
	timer   *time.Timer
	cancel  chan struct{}
	running sync.WaitGroup
}

// Scheduler runs named periodic and one-shot tasks. Interval tasks ride a
// cron runner; one-shot tasks use plain timers. Registering a duplicate id
// replaces the prior task.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	runner  *cron.Cron
	stopped bool
}

func New(logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*task),
		runner: cron.New(),
	}
	s.runner.Start()
	return s
}

// ScheduleInterval registers fn to run every period. The first run happens
// after one period, matching cron @every semantics.
func (s *Scheduler) ScheduleInterval(id string, fn func(), period time.Duration, opts TaskOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.clearLocked(id)

	t := &task{
		info: TaskInfo{
			ID:        id,
			Kind:      "interval",
			Period:    period,
			CreatedAt: time.Now(),
			Unref:     opts.Unref,
		},
		cancel: make(chan struct{}),
	}

	t.cronID = s.runner.Schedule(cron.Every(period), cron.FuncJob(func() {
		select {
		case <-t.cancel:
			return
		default:
		}
		if !opts.Unref {
			t.running.Add(1)
			defer t.running.Done()
		}
		s.noteRun(id)
		fn()
	}))

	s.tasks[id] = t
	s.logger.Debug().Str("task", id).Dur("period", period).Msg("interval scheduled")
}

// ScheduleTimeout registers fn to run once after delay.
func (s *Scheduler) ScheduleTimeout(id string, fn func(), delay time.Duration, opts TaskOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.clearLocked(id)

	t := &task{
		info: TaskInfo{
			ID:        id,
			Kind:      "timeout",
			Period:    delay,
			CreatedAt: time.Now(),
			Unref:     opts.Unref,
		},
		cancel: make(chan struct{}),
	}

	t.timer = time.AfterFunc(delay, func() {
		select {
		case <-t.cancel:
			return
		default:
		}
		if !opts.Unref {
			t.running.Add(1)
			defer t.running.Done()
		}
		s.noteRun(id)
		fn()

		s.mu.Lock()
		if current, ok := s.tasks[id]; ok && current == t {
			delete(s.tasks, id)
		}
		s.mu.Unlock()
	})

	s.tasks[id] = t
	s.logger.Debug().Str("task", id).Dur("delay", delay).Msg("timeout scheduled")
}

// ClearTask cancels a task by id. Clearing an unknown id is a no-op.
func (s *Scheduler) ClearTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(id)
}

func (s *Scheduler) clearLocked(id string) {
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	close(t.cancel)
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.info.Kind == "interval" {
		s.runner.Remove(t.cronID)
	}
	delete(s.tasks, id)
}

func (s *Scheduler) noteRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.info.LastRunAt = time.Now()
		t.info.RunCount++
	}
}

// Status returns a compact map of task id to kind.
func (s *Scheduler) Status() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.info.Kind
	}
	return out
}

// DetailedTasks returns task metadata sorted by id.
func (s *Scheduler) DetailedTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop cancels every task and waits for non-unref runs to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	waiting := make([]*task, 0, len(s.tasks))
	for id, t := range s.tasks {
		close(t.cancel)
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.info.Kind == "interval" {
			s.runner.Remove(t.cronID)
		}
		if !t.info.Unref {
			waiting = append(waiting, t)
		}
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	ctx := s.runner.Stop()
	<-ctx.Done()
	for _, t := range waiting {
		t.running.Wait()
	}
	s.logger.Info().Msg("scheduler drained")
}
