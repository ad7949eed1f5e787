package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/homeassistant"
	"github.com/nugget/jarvis/internal/resolve"
)

const haConnNotConfigured = "Error: Home Assistant connection not configured."

func (b *builtins) registerPresence(r *Registry) {
	r.Register(&Tool{
		Name:        "get_person_location",
		Description: "Get where a household member is right now from their Home Assistant person entity.",
		Parameters: object(map[string]any{
			"person_name": prop("string", "The person's name (e.g., 'Sarah')"),
		}, "person_name"),
		Handler: b.handlePersonLocation,
	})

	r.Register(&Tool{
		Name: "get_appliance_status",
		Description: "Get the status of an appliance such as the washing machine, dryer or dishwasher, " +
			"including time remaining or finish time when a sensor reports it.",
		Parameters: object(map[string]any{
			"appliance_name": prop("string", "Appliance name (e.g., 'washing machine')"),
		}, "appliance_name"),
		Handler: b.handleApplianceStatus,
	})

	r.Register(&Tool{
		Name:        "create_location_reminder",
		Description: "Remind someone with a phone notification when they arrive at a place (home or a Home Assistant zone).",
		Parameters: object(map[string]any{
			"message":       prop("string", "What to remind about"),
			"location":      prop("string", "Zone to trigger on (default home)"),
			"person_entity": prop("string", "Person entity to watch (e.g., person.sarah); defaults to the first person"),
		}, "message"),
		Handler: b.handleLocationReminder,
	})
}

// --- get_person_location ---

func (b *builtins) handlePersonLocation(ctx context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "person_name")
	if err != nil {
		return "", err
	}
	if b.HA == nil {
		return haConnNotConfigured, nil
	}

	// Presence changes constantly, so every call reads the live state.
	st, err := b.HA.GetState(ctx, "person."+strings.ReplaceAll(strings.ToLower(name), " ", "_"))
	if errors.Is(err, homeassistant.ErrNotFound) {
		id, ok := b.findPerson(ctx, name)
		if !ok {
			return fmt.Sprintf("Could not find a person entity for '%s'. Make sure they have a person entity in Home Assistant.", name), nil
		}
		st, err = b.HA.GetState(ctx, id)
	}
	if err != nil {
		return fmt.Sprintf("Failed to get location for %s: %v", name, err), nil
	}

	who := st.FriendlyName()
	if who == "" {
		who = name
	}
	switch st.State {
	case "home":
		return fmt.Sprintf("%s is at home, Sir.", who), nil
	case "not_home":
		lat, latOK := st.Attributes["latitude"].(float64)
		lon, lonOK := st.Attributes["longitude"].(float64)
		if latOK && lonOK {
			return fmt.Sprintf("%s is away from home, Sir. Last known coordinates: %v, %v", who, lat, lon), nil
		}
		return fmt.Sprintf("%s is away from home, Sir.", who), nil
	}
	return fmt.Sprintf("%s is at %s, Sir.", who, st.State), nil
}

// findPerson searches person entities by name and returns the best hit.
func (b *builtins) findPerson(ctx context.Context, name string) (string, bool) {
	entities, err := b.HA.Entities(ctx)
	if err != nil {
		b.logger.Warn("person search failed", "person", name, "error", err)
		return "", false
	}
	var people []homeassistant.Entity
	for _, e := range entities {
		if e.Domain == "person" {
			people = append(people, e)
		}
	}
	matches := resolve.Search(name, people)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].ID, true
}

// --- get_appliance_status ---

var (
	bestTimeWords = []string{"completion", "remaining", "finish", "time_left", "eta"}
	okTimeWords   = []string{"end", "duration", "complete"}
	attrTimeWords = []string{"remaining", "finish", "complete", "end", "duration", "time_left", "eta"}
	statusWords   = []string{"status", "state", "program", "cycle", "phase"}
	skipAttrs     = map[string]bool{"friendly_name": true, "device_class": true, "icon": true, "unit_of_measurement": true}
)

// reading is one labelled value found on an appliance.
type reading struct {
	label, value, unit string
}

func (r reading) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s: %s %s", r.label, r.value, r.unit))
}

func (b *builtins) handleApplianceStatus(ctx context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "appliance_name")
	if err != nil {
		return "", err
	}
	if b.HA == nil {
		return haConnNotConfigured, nil
	}
	entities, err := b.HA.Entities(ctx)
	if err != nil {
		return fmt.Sprintf("Error getting status for %s: %v", name, err), nil
	}
	matches := resolve.Search(name, entities)
	if len(matches) == 0 {
		return fmt.Sprintf("No entities found for '%s'", name), nil
	}

	byID := make(map[string]homeassistant.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var times, statuses []reading
	var power *reading
	for _, m := range matches {
		e := byID[m.ID]
		id := strings.ToLower(e.ID)
		label := displayName(e)

		if strings.Contains(id, "power") && strings.Contains(id, "consumption") {
			continue
		}
		if containsAny(id, bestTimeWords) || containsAny(id, okTimeWords) {
			if looksLikeTime(e.State) {
				unit, _ := e.Attributes["unit_of_measurement"].(string)
				times = append(times, reading{label, e.State, unit})
			}
		}
		for _, key := range sortedKeys(e.Attributes) {
			if skipAttrs[key] || !containsAny(strings.ToLower(key), attrTimeWords) {
				continue
			}
			val := e.Attributes[key]
			if val == nil {
				continue
			}
			if v := strings.TrimSpace(fmt.Sprint(val)); v != "" {
				times = append(times, reading{label: titleWords(key), value: v})
			}
		}
		if e.Domain == "sensor" && containsAny(id, statusWords) {
			statuses = append(statuses, reading{label: label, value: e.State})
		}
		if strings.Contains(id, "power") && (e.Domain == "sensor" || e.Domain == "binary_sensor") {
			power = &reading{label: label, value: e.State}
		}
	}

	lines := []string{titleWords(name) + " Status:"}
	if len(times) > 0 {
		if rel, ok := b.finishTime(times); ok {
			lines = append(lines, rel)
		} else {
			lines = append(lines, "Time remaining:")
			for _, t := range times[:min(len(times), 3)] {
				lines = append(lines, "  - "+t.String())
			}
		}
	}
	if len(statuses) > 0 {
		lines = append(lines, "Current status:")
		for _, s := range statuses[:min(len(statuses), 2)] {
			lines = append(lines, "  - "+s.String())
		}
	}
	if power != nil && len(times) == 0 && len(statuses) == 0 {
		lines = append(lines, "Power: "+power.value)
	}
	if len(lines) == 1 {
		lines = append(lines,
			"Current state: "+byID[matches[0].ID].State,
			"No time remaining sensor found for this appliance.")
	}
	return strings.Join(lines, "\n"), nil
}

// finishTime turns the first timestamp reading into a relative phrase.
func (b *builtins) finishTime(times []reading) (string, bool) {
	for _, t := range times {
		at, err := time.Parse(time.RFC3339, t.value)
		if err != nil {
			continue
		}
		left := at.Sub(b.Now())
		if left <= 0 {
			return "Already finished.", true
		}
		return "Finishes " + inDuration(left) + ".", true
	}
	return "", false
}

func inDuration(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours > 0:
		return fmt.Sprintf("in %s and %s", plural(hours, "hour"), plural(minutes, "minute"))
	case minutes > 0:
		return "in " + plural(minutes, "minute")
	}
	return "in less than a minute"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// looksLikeTime accepts counts, clock times, dates and timestamps.
func looksLikeTime(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "", "unknown", "unavailable", "none":
		return false
	}
	return strings.ContainsFunc(state, unicode.IsDigit) || strings.ContainsAny(state, "T-:")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// titleWords capitalizes each word, treating underscores as spaces.
func titleWords(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// --- create_location_reminder ---

func (b *builtins) handleLocationReminder(ctx context.Context, args map[string]any) (string, error) {
	message, err := requireString(args, "message")
	if err != nil {
		return "", err
	}
	location := optString(args, "location", "home")
	person := optString(args, "person_entity", "")
	if b.HA == nil {
		return haConnNotConfigured, nil
	}

	if person == "" {
		id, ok := b.firstPerson(ctx)
		if !ok {
			return "Error: No person entity found in Home Assistant to attach the reminder to.", nil
		}
		person = id
	} else if !strings.HasPrefix(person, "person.") {
		person = "person." + person
	}

	st, err := b.HA.GetState(ctx, person)
	if err != nil {
		return fmt.Sprintf("Failed to create reminder: %v", err), nil
	}
	notify := "mobile_app_" + notifyDevice(st)

	id := "jarvis_reminder_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	automation := map[string]any{
		"id":          id,
		"alias":       "Reminder: " + truncate(message, 50),
		"description": "One-time location reminder created by Jarvis",
		"mode":        "single",
		"trigger": []any{
			map[string]any{"platform": "state", "entity_id": person, "to": location},
		},
		"action": []any{
			map[string]any{
				"service": "notify." + notify,
				"data": map[string]any{
					"title":   "Location Reminder",
					"message": message,
					"data":    map[string]any{"importance": "high", "priority": "high"},
				},
			},
			map[string]any{"delay": "00:00:05"},
			map[string]any{
				"service": "automation.turn_off",
				"target":  map[string]any{"entity_id": "automation." + id},
			},
		},
	}

	arrival := "arrive at " + location
	if location == "home" {
		arrival = "arrive home"
	}

	if err := b.HA.CreateAutomation(ctx, id, automation); err != nil {
		b.logger.Warn("location reminder automation failed, leaving a notification", "person", person, "error", err)
		ferr := b.HA.CallService(ctx, "persistent_notification", "create", map[string]any{
			"title":           "Reminder Pending",
			"message":         fmt.Sprintf("Remind: %s (when you %s)", message, arrival),
			"notification_id": id,
		})
		if ferr != nil {
			return fmt.Sprintf("Failed to create reminder: %v", err), nil
		}
		return fmt.Sprintf("I couldn't set up the arrival trigger, Sir, so I've left a notification in Home Assistant: %s", message), nil
	}
	b.logger.Info("location reminder created", "automation", id, "person", person, "location", location)
	return fmt.Sprintf("I'll remind you to '%s' when you %s.", message, arrival), nil
}

func (b *builtins) firstPerson(ctx context.Context) (string, bool) {
	entities, err := b.HA.Entities(ctx)
	if err != nil {
		return "", false
	}
	for _, e := range entities {
		if e.Domain == "person" {
			return e.ID, true
		}
	}
	return "", false
}

// notifyDevice picks the phone behind a person from its tracker
// sources, falling back to the person's own object ID.
func notifyDevice(st *homeassistant.State) string {
	var sources []string
	switch v := st.Attributes["source"].(type) {
	case string:
		sources = []string{v}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				sources = append(sources, str)
			}
		}
	}
	for _, src := range sources {
		if strings.HasPrefix(src, "device_tracker.") || strings.Contains(src, "mobile_app") {
			return homeassistant.ObjectID(src)
		}
	}
	return homeassistant.ObjectID(st.EntityID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
