package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/jarvis/internal/api"
	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/connwatch"
	"github.com/nugget/jarvis/internal/wyoming"
)

// runServe is the primary operating mode. It starts the HTTP and
// Wyoming front ends, the maintenance scheduler, the MQTT publisher and
// the service watchers, then blocks until SIGINT or SIGTERM.
//
// Shutdown order: front ends drain, MQTT publishes offline, watchers
// and the scheduler stop, the memory store closes.
func runServe(ctx context.Context, stdout io.Writer, opts *options) error {
	cfg, logger, err := setup(stdout, opts)
	if err != nil {
		return err
	}
	logger.Info("starting Jarvis", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Service watchers ---
	monitor := connwatch.NewMonitor(logger)
	defer monitor.Stop()
	if a.ha != nil {
		monitor.Watch(ctx, "homeassistant", a.ha, connwatch.Options{Backoff: connwatch.DefaultBackoff()})
	}
	monitor.Watch(ctx, "llm", a.llm, connwatch.Options{Backoff: connwatch.DefaultBackoff()})
	if a.unifi != nil {
		monitor.Watch(ctx, "unifi", a.unifi, connwatch.Options{Backoff: connwatch.DefaultBackoff()})
	}

	// --- MQTT ---
	if a.mqtt != nil {
		a.mqtt.SetAskHandler(ctx, func(ctx context.Context, text string) string {
			return a.agent.Process(ctx, "mqtt", text)
		})
		if err := a.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		monitor.Watch(ctx, "mqtt", a.mqtt, connwatch.Options{
			Backoff: connwatch.DefaultBackoff(),
			OnReady: func() {
				if err := a.mqtt.PublishStates(ctx); err != nil {
					logger.Warn("initial mqtt state publish failed", "error", err)
				}
			},
		})
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName, "interval", cfg.MQTT.PublishInterval)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Scheduler ---
	if err := a.scheduleMaintenance(); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	a.scheduler.Start()

	// --- Front ends ---
	httpServer := api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, a.agent, a.store, a.registry, monitor, logger)
	voiceServer := wyoming.NewServer(wyoming.Config{
		Address: cfg.Wyoming.Address,
		Port:    cfg.Wyoming.Port,
		Model:   cfg.LLM.Model,
	}, a.agent, logger)

	errs := make(chan error, 2)
	go func() { errs <- httpServer.Start(ctx) }()
	go func() { errs <- voiceServer.Start(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		logger.Error("front end stopped", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := voiceServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("wyoming shutdown", "error", err)
	}
	if a.mqtt != nil {
		if err := a.mqtt.Stop(shutdownCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	logger.Info("closing conversations", "count", a.agent.Active())

	logger.Info("Jarvis stopped")
	return runErr
}
