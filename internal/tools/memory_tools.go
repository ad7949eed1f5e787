package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/jarvis/internal/memory"
)

const memoryUnavailable = "Error: Memory store not available."

func (b *builtins) registerMemory(r *Registry) {
	r.Register(&Tool{
		Name: "save_preference",
		Description: "Remember a user preference or personal detail (e.g., home_location, favorite_color, gym_location). " +
			"Never store live device state here.",
		Parameters: object(map[string]any{
			"name":  prop("string", "Preference key in snake_case (e.g., home_location, spouse_name)"),
			"value": prop("string", "The value to remember"),
		}, "name", "value"),
		Handler: b.handleSavePreference,
	})

	r.Register(&Tool{
		Name:        "get_preference",
		Description: "Look up a saved user preference.",
		Parameters: object(map[string]any{
			"name": prop("string", "Preference key to look up"),
		}, "name"),
		Handler: b.handleGetPreference,
	})

	r.Register(&Tool{
		Name:        "list_all_preferences",
		Description: "List everything saved about the user.",
		Parameters:  object(map[string]any{}),
		Handler:     b.handleListPreferences,
	})

	r.Register(&Tool{
		Name:        "delete_preference",
		Description: "Forget a saved preference. Partial names are matched when unambiguous.",
		Parameters: object(map[string]any{
			"name": prop("string", "Preference key, or part of it"),
		}, "name"),
		Handler: b.handleDeletePreference,
	})

	r.Register(&Tool{
		Name:        "remember_fact",
		Description: "Remember background knowledge about a device or thing (e.g., the ideal range for a fish tank sensor). Not for live state.",
		Parameters: object(map[string]any{
			"entity_id": prop("string", "Entity the fact is about (e.g., sensor.fish_tank_temp)"),
			"key":       prop("string", "Fact name (e.g., ideal_range)"),
			"value":     prop("string", "Fact value (e.g., 24-26°C)"),
		}, "entity_id", "key", "value"),
		Handler: b.handleRememberFact,
	})

	r.Register(&Tool{
		Name:        "recall_facts",
		Description: "List remembered background facts about an entity.",
		Parameters: object(map[string]any{
			"entity_id": prop("string", "Entity to recall facts for"),
		}, "entity_id"),
		Handler: b.handleRecallFacts,
	})
}

func (b *builtins) handleSavePreference(_ context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	value := optString(args, "value", "")
	if value == "" {
		return "", fmt.Errorf("missing required argument value")
	}
	if b.Memory == nil {
		return memoryUnavailable, nil
	}
	if err := b.Memory.SetPreference(name, value); err != nil {
		return fmt.Sprintf("Failed to save preference: %v", err), nil
	}
	return fmt.Sprintf("Preference saved: %s = %s", name, value), nil
}

func (b *builtins) handleGetPreference(_ context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	if b.Memory == nil {
		return memoryUnavailable, nil
	}
	v, ok, err := b.Memory.Preference(name)
	if err != nil {
		return fmt.Sprintf("Failed to get preference: %v", err), nil
	}
	if !ok {
		return fmt.Sprintf("No preference found for '%s'", name), nil
	}
	return fmt.Sprintf("%s: %s", name, memory.FormatValue(v)), nil
}

func (b *builtins) handleListPreferences(_ context.Context, _ map[string]any) (string, error) {
	if b.Memory == nil {
		return memoryUnavailable, nil
	}
	prefs, err := b.Memory.Preferences()
	if err != nil {
		return fmt.Sprintf("Failed to list preferences: %v", err), nil
	}
	if len(prefs) == 0 {
		return "No preferences saved yet", nil
	}
	lines := []string{"Saved preferences:"}
	for _, p := range prefs {
		lines = append(lines, fmt.Sprintf("- %s: %s", p.Key, memory.FormatValue(p.Value)))
	}
	return strings.Join(lines, "\n"), nil
}

// handleDeletePreference deletes an exact key, or the single key that
// contains (or is contained in) the requested name. Several candidates
// are listed back instead of guessing.
func (b *builtins) handleDeletePreference(_ context.Context, args map[string]any) (string, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	if b.Memory == nil {
		return memoryUnavailable, nil
	}

	key := name
	if _, ok, err := b.Memory.Preference(name); err != nil {
		return fmt.Sprintf("Failed to delete preference: %v", err), nil
	} else if !ok {
		prefs, err := b.Memory.Preferences()
		if err != nil {
			return fmt.Sprintf("Failed to delete preference: %v", err), nil
		}
		want := strings.ToLower(name)
		var matches []string
		for _, p := range prefs {
			k := strings.ToLower(p.Key)
			if strings.Contains(k, want) || strings.Contains(want, k) {
				matches = append(matches, p.Key)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Sprintf("No preference found matching '%s'. Use 'list all preferences' to see exact names.", name), nil
		case 1:
			key = matches[0]
			b.logger.Info("fuzzy matched preference", "requested", name, "key", key)
		default:
			sort.Strings(matches)
			lines := make([]string, len(matches))
			for i, m := range matches {
				lines[i] = "  - " + m
			}
			return fmt.Sprintf("Multiple preferences match '%s':\n%s\n\nPlease be more specific.", name, strings.Join(lines, "\n")), nil
		}
	}

	if _, err := b.Memory.DeletePreference(key); err != nil {
		return fmt.Sprintf("Failed to delete preference: %v", err), nil
	}
	b.logger.Info("preference deleted", "key", key)
	return fmt.Sprintf("Successfully deleted preference: %s", key), nil
}

func (b *builtins) handleRememberFact(_ context.Context, args map[string]any) (string, error) {
	entityID, err := requireString(args, "entity_id")
	if err != nil {
		return "", err
	}
	key, err := requireString(args, "key")
	if err != nil {
		return "", err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return "", err
	}
	if b.Memory == nil {
		return memoryUnavailable, nil
	}
	if err := b.Memory.RememberFact(entityID, key, value, "assistant"); err != nil {
		return fmt.Sprintf("Failed to remember fact: %v", err), nil
	}
	return fmt.Sprintf("Remembered for %s: %s = %s", entityID, key, value), nil
}

func (b *builtins) handleRecallFacts(_ context.Context, args map[string]any) (string, error) {
	entityID, err := requireString(args, "entity_id")
	if err != nil {
		return "", err
	}
	if b.Memory == nil {
		return memoryUnavailable, nil
	}
	facts, err := b.Memory.EntityFacts(entityID)
	if err != nil {
		return fmt.Sprintf("Failed to recall facts: %v", err), nil
	}
	if len(facts) == 0 {
		return fmt.Sprintf("No facts remembered for %s", entityID), nil
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{fmt.Sprintf("Facts about %s:", entityID)}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, facts[k]))
	}
	return strings.Join(lines, "\n"), nil
}
