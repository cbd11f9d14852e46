package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/parking-sensor/internal/config"
	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/dispatch"
	"github.com/sweeney/parking-sensor/internal/gpio"
	"github.com/sweeney/parking-sensor/internal/metrics"
	"github.com/sweeney/parking-sensor/internal/mqtt"
	"github.com/sweeney/parking-sensor/internal/status"
	"github.com/sweeney/parking-sensor/internal/web"
)

// statusRefresh is how often connection state is copied into the tracker.
const statusRefresh = 5 * time.Second

// publisher is an MQTT mirror that can report its connection.
type publisher interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
}

// deps are the collaborators serve needs from the outside world.
type deps struct {
	watcher   gpio.Watcher
	publisher publisher // nil disables the MQTT mirror
	logger    *slog.Logger
	signals   <-chan os.Signal
	client    *http.Client // nil uses the delivery default
}

func openPublisher(cfg *config.Config, logger *slog.Logger) (publisher, error) {
	if cfg.MQTT.Broker == "" {
		return nil, nil
	}
	pub, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topics:   mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix, Lot: cfg.Lot},
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init mqtt: %w", err)
	}
	return pub, nil
}

// serve runs the dispatcher, status server, MQTT mirror and heartbeat until
// ctx is cancelled or a signal arrives.
func serve(ctx context.Context, cfg *config.Config, d deps) error {
	logger := d.logger
	inputs := cfg.MonitoredInputs()

	clientOpts := []delivery.Option{delivery.WithLogger(logger)}
	if d.client != nil {
		clientOpts = append(clientOpts, delivery.WithHTTPClient(d.client))
	}
	client, err := delivery.New(cfg.Delivery(), clientOpts...)
	if err != nil {
		return fmt.Errorf("init delivery: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Tracker exists before STARTUP so the snapshot is available.
	tracker := status.NewTracker(time.Now(), status.Config{
		Lot:         cfg.Lot,
		Endpoint:    client.Endpoint(),
		GPIOMode:    cfg.GPIO.Mode,
		DebounceMs:  cfg.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		MaxAttempts: cfg.Endpoint.MaxAttempts,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP,
	}, inputs)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	reporters := dispatch.Reporters{tracker, m}
	var mirror *mqtt.Mirror
	if d.publisher != nil {
		mirror = mqtt.NewMirror(d.publisher, cfg.Lot, logger)
		reporters = append(reporters, mirror)
		tracker.SetMQTTConnected(d.publisher.IsConnected())
	}

	publishSystem(d.publisher, tracker, logger, "STARTUP", "")

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, reg, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http_server_failed", "addr", cfg.HTTP, "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		logger.Info("http_listening", "addr", cfg.HTTP)
	}

	dispatcher := dispatch.New(cfg.Lot, inputs, d.watcher, client,
		dispatch.WithReporter(reporters),
		dispatch.WithLogger(logger),
		dispatch.WithQueueDepth(cfg.QueueDepth),
		dispatch.WithResync(cfg.GPIO.ResyncInterval),
		dispatch.WithRestartDelay(cfg.RestartDelay),
	)

	logger.Info("started",
		"lot", cfg.Lot,
		"inputs", len(inputs),
		"endpoint", client.Endpoint(),
		"gpio_mode", cfg.GPIO.Mode,
		"debounce", cfg.Debounce,
		"heartbeat", cfg.Heartbeat,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	reason := "CONTEXT_DONE"
	g.Go(func() error {
		select {
		case s := <-d.signals:
			reason = signalName(s)
			logger.Info("shutdown_requested", "signal", s.String())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	g.Go(func() error {
		heartbeatLoop(gctx, cfg.Heartbeat, d.publisher, tracker, logger)
		return nil
	})

	err = g.Wait()
	publishSystem(d.publisher, tracker, logger, "SHUTDOWN", reason)
	logger.Info("stopped", "reason", reason)
	return err
}

// heartbeatLoop publishes periodic status snapshots and keeps connection
// state in the tracker current. A zero interval disables heartbeats.
func heartbeatLoop(ctx context.Context, interval time.Duration, pub publisher, tracker *status.Tracker, logger *slog.Logger) {
	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	var beat <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		beat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if pub != nil {
				tracker.SetMQTTConnected(pub.IsConnected())
			}
		case <-beat:
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			snap := tracker.Snapshot()
			totals := snap.Totals()
			logger.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"occupied", snap.Occupied(),
				"capacity", len(snap.Spaces),
				"occupied_events", totals.Occupied,
				"vacated_events", totals.Vacated,
			)
			publishSystem(pub, tracker, logger, "HEARTBEAT", "")
		}
	}
}

// publishSystem sends a lifecycle event carrying the full status snapshot.
func publishSystem(pub publisher, tracker *status.Tracker, logger *slog.Logger, event, reason string) {
	if pub == nil {
		return
	}
	tracker.SetMQTTConnected(pub.IsConnected())
	snap := tracker.Snapshot()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.Warn("system_publish_failed", "event", event, "error", err)
		return
	}
	logger.Debug("system_published", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
