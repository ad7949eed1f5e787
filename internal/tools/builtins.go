package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/homeassistant"
	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/media"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/scheduler"
	"github.com/nugget/jarvis/internal/search"
	"github.com/nugget/jarvis/internal/travel"
	"github.com/nugget/jarvis/internal/unifi"
	"github.com/nugget/jarvis/internal/weather"
)

// HomeAssistant is the device directory the home tools drive.
type HomeAssistant interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	Entities(ctx context.Context) ([]homeassistant.Entity, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error)
	CreateAutomation(ctx context.Context, id string, config map[string]any) error
}

// Resolver corrects entity IDs that do not exist.
type Resolver interface {
	Resolve(ctx context.Context, entityID string) (string, bool)
}

// Calendar adds and lists events, answering in sentences.
type Calendar interface {
	Add(ctx context.Context, title, dateTime string, durationMinutes int, description string) string
	Upcoming(ctx context.Context, daysAhead int) string
}

// Deps are the collaborators the built-in tools use. Nil interface
// fields mean the integration is not configured; the tool stays
// registered and answers with a configuration error.
type Deps struct {
	HA       HomeAssistant
	Resolver Resolver
	Memory   *memory.Store

	Weather     *weather.Client
	DefaultCity string
	Travel      *travel.Client
	Search      *search.Manager

	Radarr      *media.Radarr
	Sonarr      *media.Sonarr
	Prowlarr    *media.Prowlarr
	QBittorrent *media.QBittorrent
	Network     *unifi.Network
	Calendar    Calendar

	Timers *scheduler.Scheduler

	Vision      llm.Client
	VisionModel string

	// Location is used for get_current_time; time.Local when nil.
	Location *time.Location
	Now      func() time.Time
}

type builtins struct {
	Deps
	logger *slog.Logger
}

// RegisterBuiltins registers every built-in tool on r.
func RegisterBuiltins(r *Registry, d Deps) {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Radarr == nil {
		d.Radarr = media.NewRadarr("", "")
	}
	if d.Sonarr == nil {
		d.Sonarr = media.NewSonarr("", "")
	}
	if d.Prowlarr == nil {
		d.Prowlarr = media.NewProwlarr("", "")
	}
	if d.QBittorrent == nil {
		d.QBittorrent = media.NewQBittorrent("", "", "")
	}
	b := &builtins{Deps: d, logger: r.logger}

	b.registerHome(r)
	b.registerPresence(r)
	b.registerMemory(r)
	b.registerInfo(r)
	b.registerMedia(r)
	b.registerServices(r)
}

// --- Schema helpers ---

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func enum(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// --- Argument helpers ---

func requireString(args map[string]any, key string) (string, error) {
	s, _ := args[key].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("missing required argument %s", key)
	}
	return s, nil
}

func optString(args map[string]any, key, def string) string {
	switch v := args[key].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return def
}

// optInt accepts JSON numbers and numeric strings; models send both.
func optInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
