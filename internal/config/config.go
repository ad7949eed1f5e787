// Package config handles Jarvis configuration loading.
//
// Configuration is a single YAML file. ${VAR} references are expanded
// from the environment before parsing, and a .env file beside the
// config (or in the working directory) is loaded into the environment
// first so secrets can live outside the YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jarvis", "config.yaml"))
	}
	return append(paths, "/etc/jarvis/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist;
// otherwise the first existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Jarvis configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Wyoming       ListenConfig        `yaml:"wyoming"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"`
	LLM           LLMConfig           `yaml:"llm"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Resolver      ResolverConfig      `yaml:"resolver"`
	Memory        MemoryConfig        `yaml:"memory"`
	Agent         AgentConfig         `yaml:"agent"`
	Search        SearchConfig        `yaml:"search"`
	Maps          MapsConfig          `yaml:"maps"`
	Weather       WeatherConfig       `yaml:"weather"`
	Radarr        ArrConfig           `yaml:"radarr"`
	Sonarr        ArrConfig           `yaml:"sonarr"`
	Prowlarr      ArrConfig           `yaml:"prowlarr"`
	QBittorrent   QBittorrentConfig   `yaml:"qbittorrent"`
	UniFi         UniFiConfig         `yaml:"unifi"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Camera        CameraConfig        `yaml:"camera"`
	CORS          CORSConfig          `yaml:"cors"`
}

// ListenConfig is a bind address and port for a front end.
type ListenConfig struct {
	Address string `yaml:"address"` // "" = all interfaces
	Port    int    `yaml:"port"`
}

// Addr returns the host:port form.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// SamplingConfig is a temperature and response-length pair.
type SamplingConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LLMConfig selects and configures the chat model provider.
type LLMConfig struct {
	Provider string         `yaml:"provider"` // ollama, anthropic, openai
	Model    string         `yaml:"model"`
	URL      string         `yaml:"url"` // base URL; ollama default http://localhost:11434
	APIKey   string         `yaml:"api_key"`
	Sampling SamplingConfig `yaml:"sampling"`
	Retry    SamplingConfig `yaml:"retry"` // degraded resend after a failed tool-result send
	Timeout  time.Duration  `yaml:"timeout"`
}

// HomeAssistantConfig defines the Home Assistant connection.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether both URL and token are set.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// ResolverConfig is the entity-correction policy. Interchangeable lists
// domains a mistyped id may be redirected to; Exclusions maps a
// requested domain to name keywords that disqualify a candidate.
type ResolverConfig struct {
	Interchangeable []string            `yaml:"interchangeable"`
	Exclusions      map[string][]string `yaml:"exclusions"`
}

// MemoryConfig tunes the persistent memory store.
type MemoryConfig struct {
	Retention     time.Duration `yaml:"retention"`
	RecentContext int           `yaml:"recent_context"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls"`
	HistoryLimit int `yaml:"history_limit"` // exchanges kept in the session transcript
	// PreferenceRefresh is "standing" (rebuild the system instruction
	// each send) or "snippet" (prompt on the first turn, preference
	// snippet afterwards).
	PreferenceRefresh string `yaml:"preference_refresh"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleCX     string `yaml:"google_cx"`
	SearXNGURL   string `yaml:"searxng_url"`
}

// Configured reports whether any provider is usable.
func (c SearchConfig) Configured() bool {
	return (c.GoogleAPIKey != "" && c.GoogleCX != "") || c.SearXNGURL != ""
}

// MapsConfig configures travel-time lookups.
type MapsConfig struct {
	APIKey string `yaml:"api_key"`
}

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	DefaultCity string `yaml:"default_city"`
}

// ArrConfig configures a Radarr, Sonarr or Prowlarr instance.
type ArrConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Configured reports whether both URL and API key are set.
func (c ArrConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// QBittorrentConfig configures the qBittorrent Web API.
type QBittorrentConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether the URL is set. Credentials are optional
// when the Web UI bypasses auth for the local subnet.
func (c QBittorrentConfig) Configured() bool {
	return c.URL != ""
}

// UniFiConfig configures network queries. When URL is empty the tool
// falls back to the Home Assistant UniFi sensors.
type UniFiConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	Site      string `yaml:"site"`
	WANSensor string `yaml:"wan_sensor"`
}

// Configured reports whether the controller API is usable.
func (c UniFiConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// CalendarConfig configures the CalDAV calendar.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Path is the calendar collection path. Empty selects the first
	// calendar discovered in the user's home set.
	Path string `yaml:"path"`
}

// Configured reports whether the CalDAV endpoint is set.
func (c CalendarConfig) Configured() bool {
	return c.URL != ""
}

// MQTTConfig configures the MQTT status publisher.
type MQTTConfig struct {
	Broker          string        `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DeviceName      string        `yaml:"device_name"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// CameraConfig selects the vision model used by analyze_camera.
type CameraConfig struct {
	VisionModel string `yaml:"vision_model"`
}

// CORSConfig lists origins allowed to call the HTTP API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a configuration with working defaults.
func Default() *Config {
	return &Config{
		Listen:    ListenConfig{Port: 10401},
		Wyoming:   ListenConfig{Port: 10400},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "qwen3:8b",
			URL:      "http://localhost:11434",
			Sampling: SamplingConfig{Temperature: 0.7, MaxTokens: 256},
			Retry:    SamplingConfig{Temperature: 0.5, MaxTokens: 200},
			Timeout:  60 * time.Second,
		},
		Resolver: ResolverConfig{
			Interchangeable: []string{"light", "switch", "input_boolean"},
			Exclusions:      map[string][]string{"light": {"plug", "socket"}},
		},
		Memory: MemoryConfig{
			Retention:     7 * 24 * time.Hour,
			RecentContext: 3,
		},
		Agent: AgentConfig{
			MaxToolCalls:      5,
			HistoryLimit:      10,
			PreferenceRefresh: "standing",
		},
		Weather: WeatherConfig{DefaultCity: "London"},
		UniFi: UniFiConfig{
			Site:      "default",
			WANSensor: "sensor.unifi_gateway_wan_ip",
		},
		MQTT: MQTTConfig{
			DeviceName:      "jarvis",
			DiscoveryPrefix: "homeassistant",
			PublishInterval: time.Minute,
		},
	}
}

// LoadDotEnv loads KEY=value pairs from a .env file next to the config
// file and from the working directory. Existing environment variables
// are never overridden. Missing files are not an error.
func LoadDotEnv(configPath string) error {
	var files []string
	if configPath != "" {
		files = append(files, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	files = append(files, ".env")

	seen := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file layered over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills fields a partial YAML block may have zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.LLM.Sampling.MaxTokens == 0 {
		c.LLM.Sampling = d.LLM.Sampling
	}
	if c.LLM.Retry.MaxTokens == 0 {
		c.LLM.Retry = d.LLM.Retry
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.Memory.Retention == 0 {
		c.Memory.Retention = d.Memory.Retention
	}
	if c.Memory.RecentContext == 0 {
		c.Memory.RecentContext = d.Memory.RecentContext
	}
	if c.Agent.MaxToolCalls == 0 {
		c.Agent.MaxToolCalls = d.Agent.MaxToolCalls
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = d.Agent.HistoryLimit
	}
	if c.Agent.PreferenceRefresh == "" {
		c.Agent.PreferenceRefresh = d.Agent.PreferenceRefresh
	}
	if len(c.Resolver.Interchangeable) == 0 {
		c.Resolver.Interchangeable = d.Resolver.Interchangeable
	}
	if c.Resolver.Exclusions == nil {
		c.Resolver.Exclusions = d.Resolver.Exclusions
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = d.MQTT.PublishInterval
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	case "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of ollama, anthropic, openai", c.LLM.Provider))
	}
	if c.Listen.Port <= 0 || c.Wyoming.Port <= 0 {
		errs = append(errs, errors.New("listen.port and wyoming.port must be positive"))
	}
	if t := c.LLM.Sampling.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("llm.sampling.temperature %v out of range [0,2]", t))
	}
	if c.Agent.MaxToolCalls < 1 {
		errs = append(errs, errors.New("agent.max_tool_calls must be at least 1"))
	}
	switch c.Agent.PreferenceRefresh {
	case "standing", "snippet":
	default:
		errs = append(errs, fmt.Errorf("agent.preference_refresh %q is not standing or snippet", c.Agent.PreferenceRefresh))
	}
	return errors.Join(errs...)
}

// MemoryPath returns the SQLite file for the memory store.
func (c *Config) MemoryPath() string {
	return filepath.Join(c.DataDir, "jarvis_memory.db")
}
