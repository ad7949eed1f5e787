package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// AskFunc answers a question published to the ask topic.
type AskFunc func(ctx context.Context, text string) string

type asker struct {
	fn      AskFunc
	limiter *messageRateLimiter
}

// SetAskHandler enables the ask topic. Must be called before Start.
// At most ten questions per minute are answered.
func (p *Publisher) SetAskHandler(ctx context.Context, fn AskFunc) {
	limiter := newMessageRateLimiter(10, time.Minute, p.logger)
	go limiter.start(ctx)

	p.mu.Lock()
	p.ask = &asker{fn: fn, limiter: limiter}
	p.mu.Unlock()
}

func (p *Publisher) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	p.mu.Lock()
	enabled := p.ask != nil
	p.mu.Unlock()
	if !enabled {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.askTopic(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", p.askTopic(), "error", err)
		return
	}
	p.logger.Info("mqtt subscribed", "topic", p.askTopic())
}

// askText extracts the question from a plain-text or {"text": ...}
// payload.
func askText(payload []byte) string {
	var msg struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(payload, &msg) == nil && msg.Text != "" {
		return strings.TrimSpace(msg.Text)
	}
	return strings.TrimSpace(string(payload))
}

func (p *Publisher) onMessage(ctx context.Context, topic string, payload []byte) {
	p.mu.Lock()
	ask := p.ask
	p.mu.Unlock()

	p.logger.Debug("mqtt message received", "topic", topic, "payload_size", len(payload))
	if ask == nil || topic != p.askTopic() {
		return
	}
	if !ask.limiter.allow() {
		return
	}
	text := askText(payload)
	if text == "" {
		return
	}

	// The paho receive callback must not block on the model.
	go func() {
		reply := ask.fn(ctx, text)
		cm := p.conn()
		if cm == nil {
			return
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.replyTopic(),
			Payload: []byte(reply),
			QoS:     1,
		}); err != nil {
			p.logger.Warn("mqtt reply publish failed", "error", err)
		}
	}()
}

// messageRateLimiter drops messages once more than limit arrive in
// one interval. Counters are atomic for the receive hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter every interval until ctx is cancelled,
// logging how many messages were dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt messages dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
