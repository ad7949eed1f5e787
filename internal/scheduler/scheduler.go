package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrStopped is returned when work is added after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler owns the cron runner and the set of pending timers.
type Scheduler struct {
	logger  *slog.Logger
	cron    *cron.Cron
	onTimer TimerFunc
	nowFunc func() time.Time

	mu      sync.Mutex
	jobs    map[string]JobFunc
	timers  map[string]*pending // timer ID -> pending
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stopped bool
	wg      sync.WaitGroup
}

type pending struct {
	Timer
	t *time.Timer
}

// New creates a scheduler. onTimer receives every fired timer and may
// be nil.
func New(logger *slog.Logger, onTimer TimerFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		onTimer: onTimer,
		nowFunc: time.Now,
		jobs:    make(map[string]JobFunc),
		timers:  make(map[string]*pending),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers fn under name on a cron spec such as "@hourly",
// "@every 1m" or "0 3 * * *".
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.runJob(name, fn) }); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.jobs[name] = fn
	s.logger.Debug("job scheduled", "job", name, "spec", spec)
	return nil
}

// RunJob executes a registered job immediately.
func (s *Scheduler) RunJob(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.runJob(name, fn)
}

func (s *Scheduler) runJob(name string, fn JobFunc) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return err
	}
	s.logger.Debug("job completed", "job", name, "duration", time.Since(start))
	return nil
}

// Start begins running cron jobs. Timers run whether or not the
// scheduler is started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Debug("scheduler started", "jobs", len(s.jobs))
}

// Stop halts cron, cancels pending timers and waits for in-flight
// callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, p := range s.timers {
		p.t.Stop()
		delete(s.timers, id)
	}
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// StartTimer schedules a one-shot timer.
func (s *Scheduler) StartTimer(d time.Duration, label string) (Timer, error) {
	if d <= 0 {
		return Timer{}, fmt.Errorf("timer duration must be positive, got %s", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Timer{}, ErrStopped
	}

	now := s.nowFunc()
	t := Timer{
		ID:        uuid.NewString(),
		Label:     label,
		Duration:  d,
		CreatedAt: now,
		FiresAt:   now.Add(d),
	}
	s.timers[t.ID] = &pending{
		Timer: t,
		t:     time.AfterFunc(d, func() { s.onTimerFire(t.ID) }),
	}
	s.logger.Info("timer set", "id", t.ID, "label", label, "duration", d)
	return t, nil
}

func (s *Scheduler) onTimerFire(id string) {
	s.mu.Lock()
	p, ok := s.timers[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Info("timer finished", "id", id, "label", p.Label, "duration", p.Duration)
	if s.onTimer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	s.onTimer(ctx, p.Timer)
}

// CancelTimer stops a pending timer. It reports whether one was found.
func (s *Scheduler) CancelTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[id]
	if !ok {
		return false
	}
	p.t.Stop()
	delete(s.timers, id)
	s.logger.Info("timer cancelled", "id", id, "label", p.Label)
	return true
}

// Timers returns pending timers, soonest first.
func (s *Scheduler) Timers() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Timer, 0, len(s.timers))
	for _, p := range s.timers {
		out = append(out, p.Timer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiresAt.Before(out[j].FiresAt) })
	return out
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":       s.running && !s.stopped,
		"jobs":          len(s.jobs),
		"active_timers": len(s.timers),
	}
}
