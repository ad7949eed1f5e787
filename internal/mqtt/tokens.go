package mqtt

import (
	"sync"
	"time"
)

// DailyTokens counts LLM token usage since local midnight. It is safe
// for concurrent use.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	requests int64
	day      int // YearDay of the current window
	loc      *time.Location
	nowFunc  func() time.Time
}

// NewDailyTokens creates an accumulator that rolls over at midnight in
// loc (time.Local when nil).
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, nowFunc: time.Now}
	d.day = d.today()
	return d
}

// OnTokens records the usage of one model call.
func (d *DailyTokens) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	d.input += int64(inputTokens)
	d.output += int64(outputTokens)
	d.requests++
}

// Snapshot returns today's input tokens, output tokens and call count.
func (d *DailyTokens) Snapshot() (input, output, requests int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	return d.input, d.output, d.requests
}

func (d *DailyTokens) today() int { return d.nowFunc().In(d.loc).YearDay() }

// rollover must be called with d.mu held.
func (d *DailyTokens) rollover() {
	if today := d.today(); today != d.day {
		d.input, d.output, d.requests = 0, 0, 0
		d.day = today
	}
}
