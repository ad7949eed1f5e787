// Package connwatch tracks whether the services Jarvis depends on
// (Home Assistant, the LLM backend, the MQTT broker) are reachable.
//
// httpkit retries individual dial errors within a request. connwatch
// covers longer outages: a watcher probes its service with exponential
// backoff at startup, then polls on an interval and logs transitions.
// The result feeds the /health endpoint and the stats command.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Pinger is implemented by every client that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Backoff controls startup retry and background polling timing.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Attempts   int
	Poll       time.Duration
	Timeout    time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... capped at 60s for ten
// attempts, then polls once a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Attempts:   10,
		Poll:       60 * time.Second,
		Timeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is the reported health of one service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service until stopped.
type Watcher struct {
	name    string
	target  Pinger
	backoff Backoff
	onReady func()
	onDown  func(error)
	logger  *slog.Logger

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns a snapshot of the watcher state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.Initial
	for attempt := 1; attempt <= w.backoff.Attempts; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.logger.Info("service connected", "service", w.name, "attempts", attempt)
			break
		}
		if attempt == w.backoff.Attempts {
			w.logger.Warn("service unreachable at startup, polling in background",
				"service", w.name, "attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("service probe failed, retrying",
			"service", w.name, "attempt", attempt, "next_delay", delay, "error", err)
		if !sleep(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*w.backoff.Multiplier), w.backoff.Max)
	}

	ticker := time.NewTicker(w.backoff.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check probes once, records the result and fires transition
// callbacks.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	err := w.target.Ping(probeCtx)
	cancel()

	w.mu.Lock()
	was, first := w.ready, w.lastCheck.IsZero()
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case !was && err == nil:
		if !first {
			w.logger.Info("service recovered", "service", w.name)
		}
		if w.onReady != nil {
			go w.onReady()
		}
	case was && err != nil:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
		if w.onDown != nil {
			go w.onDown(err)
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Options are optional per-service settings for [Monitor.Watch].
type Options struct {
	Backoff Backoff
	OnReady func()
	OnDown  func(error)
}

// Monitor owns the watchers for every configured service.
type Monitor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewMonitor creates an empty Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{logger: logger, watchers: make(map[string]*Watcher)}
}

// Watch starts probing target under name until ctx is cancelled or
// the monitor is stopped. Watching the same name twice replaces the
// earlier watcher.
func (m *Monitor) Watch(ctx context.Context, name string, target Pinger, opts Options) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:    name,
		target:  target,
		backoff: opts.Backoff.withDefaults(),
		onReady: opts.OnReady,
		onDown:  opts.OnDown,
		logger:  m.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	old := m.watchers[name]
	m.watchers[name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(ctx)
	return w
}

// Ready reports whether the named service is reachable. Unwatched
// services are reported ready so optional integrations never block.
func (m *Monitor) Ready(name string) bool {
	m.mu.RLock()
	w, ok := m.watchers[name]
	m.mu.RUnlock()
	return !ok || w.Ready()
}

// Statuses returns every watched service sorted by name.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Monitor) Healthy() bool {
	for _, s := range m.Statuses() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Summary renders one line per service, e.g. "llm: ok".
func (m *Monitor) Summary() string {
	var b strings.Builder
	for _, s := range m.Statuses() {
		if s.Ready {
			fmt.Fprintf(&b, "%s: ok\n", s.Name)
			continue
		}
		if s.LastError == "" {
			fmt.Fprintf(&b, "%s: pending\n", s.Name)
			continue
		}
		fmt.Fprintf(&b, "%s: down (%s)\n", s.Name, s.LastError)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Stop halts every watcher.
func (m *Monitor) Stop() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*Watcher)
	m.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
}
