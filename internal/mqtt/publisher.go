package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/jarvis/internal/config"
)

// ErrNotConnected is returned by publish calls before Start.
var ErrNotConnected = errors.New("mqtt publisher not started")

// EventTimerFinished is the event type published when a timer fires.
const EventTimerFinished = "timer_finished"

// StatsSource provides runtime data for sensor states. The concrete
// adapter is wired in main.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	Model() string
	ActiveSessions() int
	LastRequestTime() time.Time
	// MemoryCounts returns the stored preference and context entry
	// counts.
	MemoryCounts() (preferences, contextEntries int)
}

// Publisher manages the MQTT connection, publishes HA discovery
// configs on (re-)connect, and pushes sensor states and events.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	tokens     *DailyTokens
	stats      StatsSource
	logger     *slog.Logger

	mu  sync.Mutex
	cm  *autopaho.ConnectionManager
	ask *asker
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin.
func New(cfg config.MQTTConfig, instanceID string, tokens *DailyTokens, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		tokens:     tokens,
		stats:      stats,
		logger:     logger,
	}
}

// Start connects to the broker. It returns once the first connection
// attempt completes or times out; autopaho keeps retrying in the
// background until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "jarvis-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.onMessage(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Ping reports whether the broker connection is up, waiting at most
// until ctx expires.
func (p *Publisher) Ping(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

func (p *Publisher) conn() *autopaho.ConnectionManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cm
}

// --- Topics ---

func (p *Publisher) baseTopic() string {
	return "jarvis/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) eventTopic() string {
	return p.baseTopic() + "/timer/event"
}

func (p *Publisher) askTopic() string {
	return p.baseTopic() + "/ask"
}

func (p *Publisher) replyTopic() string {
	return p.baseTopic() + "/reply"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component string
	suffix    string
	config    EntityConfig
}

func (p *Publisher) entityDefinitions() []entityDef {
	def := func(suffix, name, icon string) entityDef {
		return entityDef{
			component: "sensor",
			suffix:    suffix,
			config: EntityConfig{
				Name:              name,
				ObjectID:          suffix,
				HasEntityName:     true,
				UniqueID:          p.instanceID + "_" + suffix,
				StateTopic:        p.stateTopic(suffix),
				AvailabilityTopic: p.availabilityTopic(),
				Device:            p.device,
				Icon:              icon,
			},
		}
	}

	uptime := def("uptime", "Uptime", "mdi:clock-outline")
	uptime.config.EntityCategory = "diagnostic"
	uptime.config.UnitOfMeasurement = "s"
	uptime.config.DeviceClass = "duration"

	version := def("version", "Version", "mdi:tag")
	version.config.EntityCategory = "diagnostic"

	model := def("model", "Model", "mdi:brain")
	model.config.EntityCategory = "diagnostic"

	lastRequest := def("last_request", "Last Request", "mdi:clock-check")
	lastRequest.config.DeviceClass = "timestamp"

	sessions := def("active_sessions", "Active Sessions", "mdi:chat-processing")
	sessions.config.StateClass = "measurement"

	contexts := def("context_entries", "Context Entries", "mdi:history")
	contexts.config.StateClass = "measurement"

	prefs := def("preferences", "Preferences", "mdi:account-cog")
	prefs.config.StateClass = "measurement"

	tokens := def("tokens_today", "Tokens Today", "mdi:counter")
	tokens.config.StateClass = "total_increasing"
	tokens.config.UnitOfMeasurement = "tokens"

	timer := entityDef{
		component: "event",
		suffix:    "timer",
		config: EntityConfig{
			Name:              "Timer",
			ObjectID:          "timer",
			HasEntityName:     true,
			UniqueID:          p.instanceID + "_timer",
			StateTopic:        p.eventTopic(),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              "mdi:timer-outline",
			EventTypes:        []string{EventTimerFinished},
		},
	}

	return []entityDef{uptime, version, model, lastRequest, sessions, contexts, prefs, tokens, timer}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, d := range p.entityDefinitions() {
		topic := p.discoveryTopic(d.component, d.suffix)
		payload, err := json.Marshal(d.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", d.suffix, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", d.suffix, "topic", topic, "error", err)
			continue
		}
		p.logger.Debug("mqtt discovery published", "entity", d.suffix, "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

// --- States and events ---

// stateValues renders every sensor state.
func (p *Publisher) stateValues() map[string]string {
	states := map[string]string{
		"uptime":          strconv.FormatInt(int64(p.stats.Uptime().Seconds()), 10),
		"version":         p.stats.Version(),
		"model":           p.stats.Model(),
		"active_sessions": strconv.Itoa(p.stats.ActiveSessions()),
		"last_request":    "unknown",
	}
	if last := p.stats.LastRequestTime(); !last.IsZero() {
		states["last_request"] = last.Format(time.RFC3339)
	}
	prefs, contexts := p.stats.MemoryCounts()
	states["preferences"] = strconv.Itoa(prefs)
	states["context_entries"] = strconv.Itoa(contexts)
	if p.tokens != nil {
		in, out, _ := p.tokens.Snapshot()
		states["tokens_today"] = strconv.FormatInt(in+out, 10)
	}
	return states
}

// PublishStates pushes every sensor state. It is run by the scheduler
// on the configured interval.
func (p *Publisher) PublishStates(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return ErrNotConnected
	}
	states := p.stateValues()
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, entity := range keys {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(states[entity]),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entity, err))
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states), "failed", len(errs))
	return errors.Join(errs...)
}

// PublishEvent triggers the HA event entity. attrs become event
// attributes alongside event_type.
func (p *Publisher) PublishEvent(ctx context.Context, eventType string, attrs map[string]any) error {
	cm := p.conn()
	if cm == nil {
		return ErrNotConnected
	}
	payload, err := eventPayload(eventType, attrs)
	if err != nil {
		return err
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.eventTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	p.logger.Debug("mqtt event published", "event_type", eventType)
	return nil
}

func eventPayload(eventType string, attrs map[string]any) ([]byte, error) {
	body := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		body[k] = v
	}
	body["event_type"] = eventType
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return data, nil
}
