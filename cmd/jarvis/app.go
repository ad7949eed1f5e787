package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/jarvis/internal/agent"
	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/calendar"
	"github.com/nugget/jarvis/internal/config"
	"github.com/nugget/jarvis/internal/homeassistant"
	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/mcp"
	"github.com/nugget/jarvis/internal/media"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/mqtt"
	"github.com/nugget/jarvis/internal/prompts"
	"github.com/nugget/jarvis/internal/resolve"
	"github.com/nugget/jarvis/internal/scheduler"
	"github.com/nugget/jarvis/internal/search"
	"github.com/nugget/jarvis/internal/tools"
	"github.com/nugget/jarvis/internal/travel"
	"github.com/nugget/jarvis/internal/unifi"
	"github.com/nugget/jarvis/internal/weather"
)

// timerEventType is the MQTT event published when a timer finishes.
const timerEventType = "timer_finished"

// app holds the components shared by every subcommand that runs
// conversations.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *memory.Store
	ha        *homeassistant.Client // nil when not configured
	llm       llm.Client
	registry  *tools.Registry
	agent     *agent.Manager
	scheduler *scheduler.Scheduler
	tokens    *mqtt.DailyTokens
	mqtt      *mqtt.Publisher // nil when not configured
	unifi     *unifi.Client   // nil when not configured
}

// openMemory creates the data directory and opens the memory store.
func openMemory(cfg *config.Config, logger *slog.Logger) (*memory.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := memory.NewStore(cfg.MemoryPath(), cfg.Memory.Retention, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return store, nil
}

// newApp wires memory, the device directory, the model, every tool and
// the conversation manager. Nothing is started; background work begins
// in the subcommand.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openMemory(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	a.llm, err = llm.New(cfg.LLM, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}
	logger.Info("llm client initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	deps := tools.Deps{
		Memory:      store,
		Weather:     weather.NewClient(),
		DefaultCity: cfg.Weather.DefaultCity,
		Travel:      travel.NewClient(cfg.Maps.APIKey),
		Search:      newSearch(cfg.Search, logger),
		Radarr:      media.NewRadarr(cfg.Radarr.URL, cfg.Radarr.APIKey),
		Sonarr:      media.NewSonarr(cfg.Sonarr.URL, cfg.Sonarr.APIKey),
		Prowlarr:    media.NewProwlarr(cfg.Prowlarr.URL, cfg.Prowlarr.APIKey),
		QBittorrent: media.NewQBittorrent(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password),
		Vision:      a.llm,
		VisionModel: cfg.Camera.VisionModel,
		Location:    time.Local,
	}

	network := &unifi.Network{WANSensor: cfg.UniFi.WANSensor, Logger: logger}
	if cfg.UniFi.Configured() {
		a.unifi = unifi.NewClient(cfg.UniFi.URL, cfg.UniFi.APIKey, cfg.UniFi.Site, logger)
		network.Controller = a.unifi
	}

	// Interface fields stay nil, not typed-nil, when Home Assistant is
	// not configured.
	var announcer tools.ServiceCaller
	if cfg.HomeAssistant.Configured() {
		a.ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		deps.HA = a.ha
		deps.Resolver = resolve.New(a.ha, resolve.Policy{
			Interchangeable: cfg.Resolver.Interchangeable,
			Exclusions:      cfg.Resolver.Exclusions,
		}, logger)
		network.States = a.ha
		announcer = a.ha
	} else {
		logger.Warn("Home Assistant not configured; home tools will report errors")
	}
	deps.Network = network

	if cfg.Calendar.Configured() {
		cal, err := calendar.NewClient(cfg.Calendar, logger)
		if err != nil {
			logger.Warn("calendar disabled", "error", err)
		} else {
			deps.Calendar = cal
		}
	}

	a.tokens = mqtt.NewDailyTokens(time.Local)
	var events tools.EventPublisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("mqtt instance id: %w", err)
		}
		a.mqtt = mqtt.New(cfg.MQTT, instanceID, a.tokens, &statsAdapter{app: a}, logger)
		events = a.mqtt
	}

	a.scheduler = scheduler.New(logger, tools.TimerAnnouncer(announcer, events, timerEventType, logger))
	deps.Timers = a.scheduler

	a.registry = tools.NewRegistry(logger)
	tools.RegisterBuiltins(a.registry, deps)
	logger.Info("tools registered", "count", len(a.registry.Names()))

	a.agent = agent.NewManager(a.llm, a.registry,
		prompts.NewBuilder(store, cfg.Memory.RecentContext, logger),
		store,
		agent.ManagerConfig{
			Model:        cfg.LLM.Model,
			HistoryLimit: cfg.Agent.HistoryLimit,
			Conversation: agent.Config{
				MaxToolCalls:      cfg.Agent.MaxToolCalls,
				Sampling:          llm.Sampling{Temperature: cfg.LLM.Sampling.Temperature, MaxTokens: cfg.LLM.Sampling.MaxTokens},
				Retry:             llm.Sampling{Temperature: cfg.LLM.Retry.Temperature, MaxTokens: cfg.LLM.Retry.MaxTokens},
				PreferenceRefresh: cfg.Agent.PreferenceRefresh,
			},
			OnTokens: a.tokens.OnTokens,
		},
		logger,
	)
	return a, nil
}

func newSearch(cfg config.SearchConfig, logger *slog.Logger) *search.Manager {
	m := search.NewManager(logger)
	if cfg.GoogleAPIKey != "" && cfg.GoogleCX != "" {
		m.Register(search.NewGoogle(cfg.GoogleAPIKey, cfg.GoogleCX))
	}
	if cfg.SearXNGURL != "" {
		m.Register(search.NewSearXNG(cfg.SearXNGURL))
	}
	return m
}

func (a *app) mcpServer() *mcp.Server {
	return mcp.NewServer(a.registry, a.logger)
}

// scheduleMaintenance registers the recurring jobs.
func (a *app) scheduleMaintenance() error {
	if err := a.scheduler.AddJob("memory_prune", "@hourly", func(context.Context) error {
		n, err := a.store.Prune()
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Info("pruned context entries", "deleted", n)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := a.scheduler.AddJob("session_sweep", "@every 10m", func(context.Context) error {
		a.agent.Sweep(sessionIdle)
		return nil
	}); err != nil {
		return err
	}

	if a.mqtt != nil {
		spec := fmt.Sprintf("@every %s", a.cfg.MQTT.PublishInterval)
		if err := a.scheduler.AddJob("mqtt_publish", spec, a.mqtt.PublishStates); err != nil {
			return err
		}
	}
	return nil
}

// sessionIdle is how long a conversation may sit unused before its
// transcript is dropped.
const sessionIdle = 30 * time.Minute

func (a *app) close() {
	a.scheduler.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing memory store", "error", err)
	}
}

// statsAdapter feeds the MQTT sensors.
type statsAdapter struct {
	app *app
}

func (s *statsAdapter) Uptime() time.Duration      { return buildinfo.Uptime() }
func (s *statsAdapter) Version() string            { return buildinfo.Version }
func (s *statsAdapter) Model() string              { return s.app.cfg.LLM.Model }
func (s *statsAdapter) ActiveSessions() int        { return s.app.agent.Active() }
func (s *statsAdapter) LastRequestTime() time.Time { return s.app.agent.LastRequest() }

func (s *statsAdapter) MemoryCounts() (preferences, contextEntries int) {
	stats, err := s.app.store.Stats()
	if err != nil {
		s.app.logger.Debug("memory stats unavailable", "error", err)
		return 0, 0
	}
	return stats.Preferences, stats.ContextEntries
}
