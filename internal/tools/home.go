package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nugget/jarvis/internal/homeassistant"
	"github.com/nugget/jarvis/internal/httpkit"
	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/resolve"
)

// ContextDevice is the catch-all last-interaction slot used for "it".
const ContextDevice = "device"

const haNotConfigured = "Error: Home Assistant URL or Token not configured."

func (b *builtins) registerHome(r *Registry) {
	r.Register(&Tool{
		Name: "control_home_assistant",
		Description: "Control a Home Assistant device. Use for lights, switches, climate, covers, locks, media players and buttons. " +
			"Misspelled entity IDs are corrected automatically when a close match exists.",
		Parameters: object(map[string]any{
			"entity_id": prop("string", "The entity ID (e.g., light.office, climate.living_room, cover.garage)"),
			"command": prop("string", "turn_on, turn_off, toggle, open, close, stop, lock, unlock, set_brightness, set_color, "+
				"set_temperature, set_hvac_mode, set_cover_position, turn_up, turn_down, play, pause, volume_up, volume_down, media_next, media_previous"),
			"parameter": prop("string", "Command value: brightness 0-100, color name or 'r,g,b', temperature, hvac mode, or cover position"),
		}, "entity_id", "command"),
		Handler: b.handleControl,
	})

	r.Register(&Tool{
		Name:        "get_ha_state",
		Description: "Get the current live state of a Home Assistant entity. Always use this for device state; never answer from memory.",
		Parameters: object(map[string]any{
			"entity_id": prop("string", "The entity ID (e.g., sensor.office_temperature, binary_sensor.front_door)"),
		}, "entity_id"),
		Handler: b.handleGetState,
	})

	r.Register(&Tool{
		Name:        "search_ha_entities",
		Description: "Search Home Assistant entities by name when the exact entity ID is unknown.",
		Parameters: object(map[string]any{
			"query": prop("string", "Words from the device name (e.g., 'office lamp')"),
		}, "query"),
		Handler: b.handleSearchEntities,
	})

	r.Register(&Tool{
		Name:        "get_last_interacted_entity",
		Description: "Return the entity most recently controlled, for follow-ups like 'turn it off'.",
		Parameters: object(map[string]any{
			"context_type": prop("string", "Optional domain such as light or climate; defaults to any device"),
		}),
		Handler: b.handleLastEntity,
	})

	r.Register(&Tool{
		Name:        "play_music",
		Description: "Play music on a Home Assistant media player.",
		Parameters: object(map[string]any{
			"query":     prop("string", "Song, artist, album or playlist to play"),
			"entity_id": prop("string", "Media player entity ID or room name. Omit to list available players."),
		}, "query"),
		Handler: b.handlePlayMusic,
	})

	r.Register(&Tool{
		Name:        "analyze_camera",
		Description: "Take a snapshot from a camera and describe it with a vision model.",
		Parameters: object(map[string]any{
			"camera_entity": prop("string", "Camera entity ID (e.g., camera.garden, camera.front_door)"),
			"question":      prop("string", "What to look for (e.g., 'Is anyone at the door?')"),
		}, "camera_entity"),
		Handler: b.handleAnalyzeCamera,
	})
}

func (b *builtins) resolve(ctx context.Context, entityID string) (string, bool) {
	if b.Resolver == nil {
		return entityID, false
	}
	return b.Resolver.Resolve(ctx, entityID)
}

// serviceFor maps a spoken command to the Home Assistant service for
// domain.
func serviceFor(domain, command string) string {
	switch command {
	case "on", "start":
		return "turn_on"
	case "off":
		return "turn_off"
	case "close":
		if domain == "cover" {
			return "close_cover"
		}
		return "turn_off"
	case "open":
		if domain == "cover" {
			return "open_cover"
		}
		return "turn_on"
	case "stop":
		if domain == "cover" {
			return "stop_cover"
		}
		return "turn_off"
	case "set_brightness", "set_color":
		return "turn_on"
	case "play", "pause", "media_play", "media_pause":
		return "media_" + strings.TrimPrefix(command, "media_")
	case "turn_up", "turn_down":
		return "set_temperature"
	}
	return command
}

// serviceData builds the call payload for command and parameter.
func serviceData(entityID, command, service, parameter string) (map[string]any, error) {
	data := map[string]any{"entity_id": entityID}
	if parameter == "" {
		return data, nil
	}
	switch {
	case service == "set_temperature":
		t, err := strconv.ParseFloat(parameter, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", parameter)
		}
		data["temperature"] = t
	case service == "set_hvac_mode":
		data["hvac_mode"] = parameter
	case service == "set_cover_position":
		pos, err := strconv.Atoi(parameter)
		if err != nil {
			return nil, fmt.Errorf("invalid cover position %q", parameter)
		}
		data["position"] = pos
	case command == "set_brightness":
		level, err := strconv.Atoi(strings.TrimSuffix(parameter, "%"))
		if err != nil {
			return nil, fmt.Errorf("invalid brightness %q", parameter)
		}
		if level <= 100 {
			level = int(float64(level) * 2.55)
		}
		data["brightness"] = level
	case command == "set_color":
		if strings.Contains(parameter, ",") {
			var rgb []int
			for _, part := range strings.Split(parameter, ",") {
				v, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return nil, fmt.Errorf("invalid rgb color %q", parameter)
				}
				rgb = append(rgb, v)
			}
			data["rgb_color"] = rgb
		} else {
			data["color_name"] = parameter
		}
	case command == "set_value":
		data["value"] = parameter
	}
	return data, nil
}

func (b *builtins) handleControl(ctx context.Context, args map[string]any) (string, error) {
	entityID, err := requireString(args, "entity_id")
	if err != nil {
		return "", err
	}
	command := optString(args, "command", "turn_on")
	parameter := optString(args, "parameter", "")

	if b.HA == nil {
		return haNotConfigured, nil
	}

	if homeassistant.Domain(entityID) == "button" {
		if err := b.HA.CallService(ctx, "button", "press", map[string]any{"entity_id": entityID}); err != nil {
			return fmt.Sprintf("Failed to press %s: %v", entityID, err), nil
		}
		b.rememberInteraction(entityID, "press")
		return fmt.Sprintf("Pressed %s successfully.", entityID), nil
	}

	resolved, corrected := b.resolve(ctx, entityID)
	entityID = resolved
	domain := homeassistant.Domain(entityID)

	if command == "turn_up" || command == "turn_down" {
		current, desc, ok := b.currentTemperature(ctx, entityID)
		if !ok {
			return fmt.Sprintf("Could not determine current temperature to %s. Result: %s", command, desc), nil
		}
		if command == "turn_up" {
			current++
		} else {
			current--
		}
		parameter = strconv.FormatFloat(current, 'f', -1, 64)
	}

	service := serviceFor(domain, command)
	data, err := serviceData(entityID, command, service, parameter)
	if err != nil {
		return "", err
	}

	if err := b.HA.CallService(ctx, domain, service, data); err != nil {
		var se *httpkit.StatusError
		if errors.As(err, &se) {
			return fmt.Sprintf("Failed to control %s. Error %d: %s", entityID, se.StatusCode, se.Body), nil
		}
		return fmt.Sprintf("Failed to control %s: %v", entityID, err), nil
	}

	b.rememberInteraction(entityID, service)

	msg := fmt.Sprintf("Success: Called %s.%s on %s", domain, service, entityID)
	if corrected {
		msg += " (Auto-resolved)"
	}
	if parameter != "" {
		msg += " with value " + parameter
	}
	return msg, nil
}

// currentTemperature returns the target temperature of a climate entity
// or the numeric state of a sensor. desc describes what was read.
func (b *builtins) currentTemperature(ctx context.Context, entityID string) (float64, string, bool) {
	st, err := b.HA.GetState(ctx, entityID)
	if err != nil {
		return 0, fmt.Sprintf("Failed to get state for %s: %v", entityID, err), false
	}
	if t, ok := st.Attributes["temperature"].(float64); ok {
		return t, "", true
	}
	if t, err := strconv.ParseFloat(st.State, 64); err == nil {
		return t, "", true
	}
	return 0, fmt.Sprintf("The state of %s is %s.", entityID, st.State), false
}

// rememberInteraction records entityID under its domain and under the
// catch-all device slot. Failures are logged only.
func (b *builtins) rememberInteraction(entityID, action string) {
	if b.Memory == nil {
		return
	}
	for _, slot := range []string{homeassistant.Domain(entityID), ContextDevice} {
		if err := b.Memory.SaveLastInteraction(slot, entityID, action); err != nil {
			b.logger.Warn("failed to save last interaction", "context_type", slot, "entity_id", entityID, "error", err)
		}
	}
}

func (b *builtins) handleGetState(ctx context.Context, args map[string]any) (string, error) {
	entityID, err := requireString(args, "entity_id")
	if err != nil {
		return "", err
	}
	return b.describeState(ctx, entityID), nil
}

func (b *builtins) describeState(ctx context.Context, entityID string) string {
	if b.HA == nil {
		return haNotConfigured
	}
	resolved, corrected := b.resolve(ctx, entityID)

	st, err := b.HA.GetState(ctx, resolved)
	if err != nil {
		return fmt.Sprintf("Failed to get state for %s: %v", entityID, err)
	}
	value := st.State
	if unit := st.Unit(); unit != "" {
		value += " " + unit
	}
	msg := fmt.Sprintf("The state of %s is %s.", resolved, value)
	if corrected {
		msg += fmt.Sprintf(" (Automatically resolved from '%s' to '%s')", entityID, resolved)
	}
	return msg
}

func (b *builtins) handleSearchEntities(ctx context.Context, args map[string]any) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	if b.HA == nil {
		return haNotConfigured, nil
	}
	entities, err := b.HA.Entities(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to search entities: %v", err), nil
	}
	matches := resolve.Search(query, entities)
	if len(matches) == 0 {
		return fmt.Sprintf("No entities found matching '%s'.", query), nil
	}
	lines := []string{"Found entities:"}
	for _, m := range matches[:min(len(matches), 10)] {
		name := m.Name
		if name == "" {
			name = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", m.ID, name))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *builtins) handleLastEntity(_ context.Context, args map[string]any) (string, error) {
	if b.Memory == nil {
		return "None", nil
	}
	in, err := b.Memory.LastInteraction(optString(args, "context_type", ContextDevice))
	if errors.Is(err, memory.ErrNotFound) {
		return "None", nil
	}
	if err != nil {
		return "", err
	}
	return in.EntityID, nil
}

func (b *builtins) handlePlayMusic(ctx context.Context, args map[string]any) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	if b.HA == nil {
		return haNotConfigured, nil
	}
	target := optString(args, "entity_id", "")

	var players []homeassistant.Entity
	if target == "" || !strings.HasPrefix(target, "media_player.") {
		entities, err := b.HA.Entities(ctx)
		if err != nil {
			return fmt.Sprintf("Failed to play music: %v", err), nil
		}
		for _, e := range entities {
			if e.Domain == "media_player" {
				players = append(players, e)
			}
		}
	}

	var name string
	switch {
	case target == "":
		if len(players) == 0 {
			return "No media players found. Please specify a device.", nil
		}
		names := make([]string, 0, 10)
		for _, p := range players[:min(len(players), 10)] {
			names = append(names, displayName(p))
		}
		return fmt.Sprintf("Which device should I play '%s' on? Available: %s", query, strings.Join(names, ", ")), nil
	case !strings.HasPrefix(target, "media_player."):
		want := strings.ToLower(target)
		found := false
		for _, p := range players {
			if strings.Contains(strings.ToLower(p.ID), want) || strings.Contains(strings.ToLower(p.Name), want) {
				target, name, found = p.ID, displayName(p), true
				break
			}
		}
		if !found {
			return fmt.Sprintf("Could not find device matching '%s'", target), nil
		}
	default:
		name = strings.ReplaceAll(homeassistant.ObjectID(target), "_", " ")
	}

	err = b.HA.CallService(ctx, "media_player", "play_media", map[string]any{
		"entity_id":          target,
		"media_content_id":   query,
		"media_content_type": "music",
	})
	if err != nil {
		return fmt.Sprintf("Failed to play music: %v", err), nil
	}
	b.rememberInteraction(target, "play_media")
	return fmt.Sprintf("Playing '%s' on %s.", query, name), nil
}

func displayName(e homeassistant.Entity) string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

func (b *builtins) handleAnalyzeCamera(ctx context.Context, args map[string]any) (string, error) {
	camera, err := requireString(args, "camera_entity")
	if err != nil {
		return "", err
	}
	question := optString(args, "question", "What do you see in this image?")

	if b.HA == nil {
		return haConnNotConfigured, nil
	}
	if b.Vision == nil || b.VisionModel == "" {
		return "Error: No vision model configured for camera analysis.", nil
	}
	if !strings.HasPrefix(camera, "camera.") {
		camera = "camera." + camera
	}

	img, mimeType, err := b.HA.CameraSnapshot(ctx, camera)
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("Camera '%s' not found. Use search_ha_entities to find available cameras.", camera), nil
	}
	if err != nil {
		return fmt.Sprintf("Camera analysis error: %v", err), nil
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	analysis, err := llm.Describe(ctx, b.Vision, b.VisionModel, question, llm.Image{Data: img, MIMEType: mimeType})
	if err != nil {
		return fmt.Sprintf("Camera analysis error: %v", err), nil
	}
	analysis = strings.TrimSpace(strings.ReplaceAll(analysis, "*", ""))
	return fmt.Sprintf("Camera analysis for %s:\n%s", camera, analysis), nil
}
