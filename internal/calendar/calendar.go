// Package calendar adds and lists events on a CalDAV calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/config"
	"github.com/nugget/jarvis/internal/httpkit"
)

// ErrNoCalendar is returned when discovery finds no calendar collection.
var ErrNoCalendar = errors.New("no calendar found")

// Event is a calendar entry.
type Event struct {
	UID         string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// backend is the CalDAV surface the client uses; *caldav.Client
// satisfies it.
type backend interface {
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// discoverer finds the default calendar collection.
type discoverer interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
}

// Client talks to one CalDAV calendar.
type Client struct {
	dav      backend
	discover discoverer
	logger   *slog.Logger
	loc      *time.Location
	nowFunc  func() time.Time

	mu   sync.Mutex
	path string
}

// NewClient creates a CalDAV client with basic auth. When cfg.Path is
// empty the first calendar in the user's home set is used, found on
// first use.
func NewClient(cfg config.CalendarConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var hc webdav.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(15*time.Second),
		httpkit.WithLogger(logger),
	)
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	dav, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &Client{
		dav:      dav,
		discover: dav,
		logger:   logger,
		loc:      time.Local,
		nowFunc:  time.Now,
		path:     cfg.Path,
	}, nil
}

func (c *Client) now() time.Time { return c.nowFunc().In(c.loc) }

// calendarPath returns the configured calendar, discovering it once.
func (c *Client) calendarPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return c.path, nil
	}

	principal, err := c.discover.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.discover.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.discover.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	for _, cal := range cals {
		if supportsEvents(cal) {
			c.logger.Info("using calendar", "name", cal.Name, "path", cal.Path)
			c.path = cal.Path
			return c.path, nil
		}
	}
	return "", ErrNoCalendar
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// AddEvent stores a new event and returns it with its UID set.
func (c *Client) AddEvent(ctx context.Context, ev Event) (Event, error) {
	calPath, err := c.calendarPath(ctx)
	if err != nil {
		return Event{}, err
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//nugget//jarvis//EN")

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, ev.UID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	cal.Children = append(cal.Children, vevent.Component)

	objPath := path.Join(calPath, ev.UID+".ics")
	if _, err := c.dav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return Event{}, fmt.Errorf("put %s: %w", objPath, err)
	}
	c.logger.Info("created calendar event", "title", ev.Title, "start", ev.Start, "path", objPath)
	return ev, nil
}

// Events returns events overlapping [from, to), ordered by start.
func (c *Client) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	calPath, err := c.calendarPath(ctx)
	if err != nil {
		return nil, err
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}
	objects, err := c.dav.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", calPath, err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ve := range obj.Data.Events() {
			ev, err := c.decodeEvent(ve)
			if err != nil {
				c.logger.Debug("skipping unreadable event", "path", obj.Path, "error", err)
				continue
			}
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (c *Client) decodeEvent(ve ical.Event) (Event, error) {
	start, err := ve.DateTimeStart(c.loc)
	if err != nil {
		return Event{}, err
	}
	end, _ := ve.DateTimeEnd(c.loc)
	summary, _ := ve.Props.Text(ical.PropSummary)
	desc, _ := ve.Props.Text(ical.PropDescription)
	uid, _ := ve.Props.Text(ical.PropUID)

	allDay := false
	if p := ve.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		allDay = true
	}
	return Event{
		UID:         uid,
		Title:       summary,
		Description: desc,
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}, nil
}
