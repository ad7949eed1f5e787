package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 3:04pm",
	"2006-01-02 3pm",
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseWhen reads an absolute or natural-language time such as
// "2026-12-25 14:00" or "tomorrow at 2pm", relative to now.
func ParseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no date or time in %q", s)
	}
	return r.Time, nil
}

// Add parses dateTime and creates the event, describing the outcome.
func (c *Client) Add(ctx context.Context, title, dateTime string, durationMinutes int, description string) string {
	if durationMinutes <= 0 {
		durationMinutes = 60
	}
	start, err := ParseWhen(dateTime, c.now())
	if err != nil {
		return fmt.Sprintf("Could not parse date/time: '%s'. Try formats like 'tomorrow at 2pm' or '2026-12-25 14:00'", dateTime)
	}
	ev, err := c.AddEvent(ctx, Event{
		Title:       title,
		Description: description,
		Start:       start,
		End:         start.Add(time.Duration(durationMinutes) * time.Minute),
	})
	if err != nil {
		c.logger.Error("calendar event creation failed", "title", title, "error", err)
		return fmt.Sprintf("Failed to create event: %v", err)
	}
	return fmt.Sprintf("Added '%s' to calendar on %s", ev.Title, ev.Start.Format("Monday, January 02 at 03:04 PM"))
}

// Upcoming lists up to ten events in the next daysAhead days.
func (c *Client) Upcoming(ctx context.Context, daysAhead int) string {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	now := c.now()
	events, err := c.Events(ctx, now, now.AddDate(0, 0, daysAhead))
	if err != nil {
		c.logger.Error("calendar list failed", "error", err)
		return fmt.Sprintf("Failed to list events: %v", err)
	}
	if len(events) == 0 {
		return fmt.Sprintf("No upcoming events in the next %d days", daysAhead)
	}
	if len(events) > 10 {
		events = events[:10]
	}
	lines := []string{fmt.Sprintf("Upcoming events (%d):", len(events))}
	for _, ev := range events {
		title := ev.Title
		if title == "" {
			title = "No title"
		}
		at := ev.Start.Format("Mon, Jan 02 at 03:04 PM")
		if ev.AllDay {
			at = ev.Start.Format("Mon, Jan 02") + " (all day)"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", title, at))
	}
	return strings.Join(lines, "\n")
}
