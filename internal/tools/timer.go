package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/jarvis/internal/scheduler"
)

// EventPublisher pushes a named event with attributes, e.g. to MQTT.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, attrs map[string]any) error
}

// ServiceCaller invokes a Home Assistant service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// TimerAnnouncer returns the callback run when a timer fires. It
// publishes an event when events is non-nil and raises a Home
// Assistant persistent notification when ha is non-nil. Delivery is
// best effort; failures are logged.
func TimerAnnouncer(ha ServiceCaller, events EventPublisher, eventType string, logger *slog.Logger) scheduler.TimerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t scheduler.Timer) {
		logger.Info("timer finished", "id", t.ID, "label", t.Label, "duration", t.Duration)

		if events != nil {
			err := events.PublishEvent(ctx, eventType, map[string]any{
				"timer_id": t.ID,
				"label":    t.Label,
				"duration": int(t.Duration.Seconds()),
			})
			if err != nil {
				logger.Warn("timer event publish failed", "id", t.ID, "error", err)
			}
		}

		if ha != nil {
			err := ha.CallService(ctx, "persistent_notification", "create", map[string]any{
				"title":           "Jarvis",
				"message":         fmt.Sprintf("Your %s has finished, Sir.", t.Describe()),
				"notification_id": "jarvis_timer_" + t.ID,
			})
			if err != nil {
				logger.Warn("timer notification failed", "id", t.ID, "error", err)
			}
		}
	}
}
