// Package scheduler runs periodic maintenance jobs on cron schedules
// and one-shot timers set during conversation.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Timer is a one-shot countdown.
type Timer struct {
	ID        string        `json:"id"`
	Label     string        `json:"label,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
	FiresAt   time.Time     `json:"fires_at"`
}

// Remaining returns the time left before the timer fires.
func (t Timer) Remaining(now time.Time) time.Duration {
	if d := t.FiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Describe renders the timer for speech, e.g. "pasta timer (5m0s)".
func (t Timer) Describe() string {
	if t.Label == "" {
		return fmt.Sprintf("timer (%s)", t.Duration)
	}
	return fmt.Sprintf("%s timer (%s)", t.Label, t.Duration)
}

// TimerFunc is called when a timer fires.
type TimerFunc func(ctx context.Context, t Timer)

// JobFunc is the body of a recurring job.
type JobFunc func(ctx context.Context) error
