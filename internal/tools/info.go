package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
	"github.com/nugget/jarvis/internal/search"
	"github.com/nugget/jarvis/internal/travel"
	"github.com/nugget/jarvis/internal/weather"
)

func (b *builtins) registerInfo(r *Registry) {
	r.Register(&Tool{
		Name:        "get_weather",
		Description: "Get current weather and the rain outlook for the next hours, with umbrella advice. Defaults to the user's home city.",
		Parameters: object(map[string]any{
			"city":           prop("string", "City name; omit for the user's home"),
			"forecast_hours": prop("integer", "Hours to look ahead for rain (default 12)"),
		}),
		Handler: b.handleWeather,
	})

	r.Register(&Tool{
		Name:        "get_travel_time",
		Description: "Get travel time and distance between two places with current traffic. Saved places such as 'home' or 'work' are resolved from memory.",
		Parameters: object(map[string]any{
			"origin":      prop("string", "Start address, place, or saved name such as 'home'"),
			"destination": prop("string", "Destination address, place, or saved name"),
			"mode":        enum("Travel mode", "driving", "walking", "bicycling", "transit"),
		}, "origin", "destination"),
		Handler: b.handleTravel,
	})

	r.Register(&Tool{
		Name:        "google_search",
		Description: "Search the web for general knowledge questions and current events.",
		Parameters: object(map[string]any{
			"query": prop("string", "Search query"),
		}, "query"),
		Handler: b.handleSearch,
	})

	r.Register(&Tool{
		Name:        "get_contextual_answer",
		Description: "Answer a question that needs both a live device reading and web knowledge, e.g. whether a fish tank temperature is healthy.",
		Parameters: object(map[string]any{
			"entity_id": prop("string", "Entity to read (e.g., sensor.fish_tank_temp)"),
			"question":  prop("string", "What to search for (e.g., 'ideal tropical fish tank temperature')"),
		}, "entity_id", "question"),
		Handler: b.handleContextualAnswer,
	})

	r.Register(&Tool{
		Name:        "get_current_time",
		Description: "Get the current date and time.",
		Parameters:  object(map[string]any{}),
		Handler:     b.handleCurrentTime,
	})

	r.Register(&Tool{
		Name:        "set_timer",
		Description: "Start a countdown timer. The user is notified when it finishes.",
		Parameters: object(map[string]any{
			"seconds": prop("integer", "Timer length in seconds"),
			"label":   prop("string", "Optional name such as 'pasta'"),
		}, "seconds"),
		Handler: b.handleSetTimer,
	})

	r.Register(&Tool{
		Name:        "list_timers",
		Description: "List running timers and how long each has left.",
		Parameters:  object(map[string]any{}),
		Handler:     b.handleListTimers,
	})

	r.Register(&Tool{
		Name:        "cancel_timer",
		Description: "Cancel a running timer by label, or the only running timer when no label is given.",
		Parameters: object(map[string]any{
			"label": prop("string", "Label of the timer to cancel"),
		}),
		Handler: b.handleCancelTimer,
	})
}

func (b *builtins) handleWeather(ctx context.Context, args map[string]any) (string, error) {
	city := optString(args, "city", "")
	if city == "" && b.Memory != nil {
		city = b.Memory.PreferenceString("home_location", "")
	}
	if city == "" {
		city = b.DefaultCity
	}
	if city == "" {
		city = "London"
	}
	if b.Weather == nil {
		return "Error: Weather service not configured.", nil
	}

	report, err := b.Weather.Forecast(ctx, city, optInt(args, "forecast_hours", 12))
	if errors.Is(err, weather.ErrCityNotFound) {
		return fmt.Sprintf("Could not find city: %s", city), nil
	}
	if err != nil {
		b.logger.Error("weather lookup failed", "city", city, "error", err)
		return fmt.Sprintf("Failed to get weather: %v", err), nil
	}
	return report.String(), nil
}

// resolvePlace returns the saved address for a place name, trying
// name, location_name, address_name and name_location in turn.
func (b *builtins) resolvePlace(place string) string {
	if b.Memory == nil {
		return place
	}
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(place), " ", "_"))
	for _, k := range []string{key, "location_" + key, "address_" + key, key + "_location"} {
		if saved := b.Memory.PreferenceString(k, ""); saved != "" {
			b.logger.Debug("resolved saved place", "place", place, "key", k)
			return saved
		}
	}
	return place
}

func (b *builtins) handleTravel(ctx context.Context, args map[string]any) (string, error) {
	origin, err := requireString(args, "origin")
	if err != nil {
		return "", err
	}
	destination, err := requireString(args, "destination")
	if err != nil {
		return "", err
	}
	mode := optString(args, "mode", "driving")

	if !b.Travel.Configured() {
		return "Error: Google Maps API key not configured. Add maps.api_key to the configuration.", nil
	}

	origin = b.resolvePlace(origin)
	destination = b.resolvePlace(destination)
	if strings.EqualFold(origin, "home") {
		return "I don't have your home location saved yet, Sir. Please tell me where you live first, or provide a specific starting address.", nil
	}
	if strings.EqualFold(destination, "home") {
		return "I don't have your home location saved yet, Sir.", nil
	}

	route, err := b.Travel.Route(ctx, origin, destination, mode)
	var re *travel.RouteError
	if errors.As(err, &re) {
		return re.Error(), nil
	}
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		return "Google Maps API error: Check that Distance Matrix API is enabled and API key is valid.", nil
	}
	if err != nil {
		b.logger.Error("travel time lookup failed", "origin", origin, "destination", destination, "error", err)
		return fmt.Sprintf("Failed to get travel time: %v", err), nil
	}
	return route.String(), nil
}

func (b *builtins) handleSearch(ctx context.Context, args map[string]any) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	return b.webSearch(ctx, query), nil
}

func (b *builtins) webSearch(ctx context.Context, query string) string {
	if b.Search == nil || !b.Search.Configured() {
		return "Error: Web search not configured. Add a Google API key and search engine ID, or a SearXNG URL, to the configuration."
	}
	results, err := b.Search.Search(ctx, query, search.Options{Count: 5})
	if errors.Is(err, search.ErrQuotaExceeded) {
		return "Search quota exceeded. Google Custom Search free tier is limited to 100 queries/day."
	}
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'.", query)
	}
	return search.FormatResults(results)
}

func (b *builtins) handleContextualAnswer(ctx context.Context, args map[string]any) (string, error) {
	entityID, err := requireString(args, "entity_id")
	if err != nil {
		return "", err
	}
	question, err := requireString(args, "question")
	if err != nil {
		return "", err
	}
	state := b.describeState(ctx, entityID)
	web := b.webSearch(ctx, question)
	return fmt.Sprintf("Current State: %s\n\nContext from Web:\n%s\n\nPlease synthesize this information for the user.", state, web), nil
}

func (b *builtins) handleCurrentTime(_ context.Context, _ map[string]any) (string, error) {
	now := b.Now()
	local := now.In(b.Location)
	return fmt.Sprintf("Current date and time: %s (UTC: %s)",
		local.Format("Monday, January 02, 2006 at 03:04 PM"),
		now.UTC().Format("2006-01-02 15:04:05 MST"),
	), nil
}

func (b *builtins) handleSetTimer(_ context.Context, args map[string]any) (string, error) {
	seconds := optInt(args, "seconds", 0)
	if seconds <= 0 {
		return "", fmt.Errorf("seconds must be a positive number")
	}
	if b.Timers == nil {
		return "Error: Timers not available.", nil
	}
	label := optString(args, "label", "")
	t, err := b.Timers.StartTimer(time.Duration(seconds)*time.Second, label)
	if err != nil {
		return "", fmt.Errorf("start timer: %w", err)
	}
	if label != "" {
		return fmt.Sprintf("Timer '%s' set for %d seconds.", t.Label, seconds), nil
	}
	return fmt.Sprintf("Timer set for %d seconds.", seconds), nil
}

func (b *builtins) handleListTimers(_ context.Context, _ map[string]any) (string, error) {
	if b.Timers == nil {
		return "Error: Timers not available.", nil
	}
	timers := b.Timers.Timers()
	if len(timers) == 0 {
		return "No timers running.", nil
	}
	now := b.Now()
	lines := []string{fmt.Sprintf("Running timers (%d):", len(timers))}
	for _, t := range timers {
		lines = append(lines, fmt.Sprintf("- %s: %s left", t.Describe(), t.Remaining(now).Round(time.Second)))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *builtins) handleCancelTimer(_ context.Context, args map[string]any) (string, error) {
	if b.Timers == nil {
		return "Error: Timers not available.", nil
	}
	label := strings.ToLower(optString(args, "label", ""))
	timers := b.Timers.Timers()

	var matches []int
	for i, t := range timers {
		if label == "" || strings.EqualFold(t.Label, label) {
			matches = append(matches, i)
		}
	}
	switch {
	case len(matches) == 0 && label != "":
		return fmt.Sprintf("No running timer named '%s'.", label), nil
	case len(matches) == 0:
		return "No timers running.", nil
	case len(matches) > 1:
		return fmt.Sprintf("%d timers are running. Which one should I cancel?", len(matches)), nil
	}
	t := timers[matches[0]]
	if !b.Timers.CancelTimer(t.ID) {
		return "That timer has already finished.", nil
	}
	return fmt.Sprintf("Cancelled the %s.", t.Describe()), nil
}
