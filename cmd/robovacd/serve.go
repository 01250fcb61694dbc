package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/bridge"
	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/config"
	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/robovac"
	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/server"
	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/tuya"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll devices and serve the MQTT bridge and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := robovac.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "robovacd_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	vacuums := make([]*robovac.Vacuum, 0, len(cfg.Devices))
	sessions := make([]*tuya.Session, 0, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		session, err := tuya.NewSession(tuya.Config{
			DeviceID: dev.ID,
			Host:     dev.Host,
			LocalKey: dev.LocalKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.ID, err)
		}
		sessions = append(sessions, session)

		vacuum := robovac.NewVacuum(robovac.VacuumConfig{
			DeviceID: dev.ID,
			Name:     dev.Name,
			Session:  session,
			Rooms:    robovac.RoomMap(dev.Rooms),
			Logger:   logger,
			Metrics:  metrics,
		})
		metrics.Track(vacuum)
		vacuums = append(vacuums, vacuum)

		// Failure here is not fatal: the session redials on the next poll.
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := session.Connect(dialCtx); err != nil {
			logger.Warn("initial device connection failed",
				zap.String("device_id", dev.ID), zap.Error(err))
		}
		cancel()
	}
	defer func() {
		for _, session := range sessions {
			session.Close()
		}
	}()

	var onRefresh func(*robovac.Vacuum)
	var mqttBridge *bridge.Bridge
	if cfg.BridgeEnabled() {
		mqttBridge = bridge.New(bridge.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			TopicRoot:       cfg.MQTT.TopicRoot,
		}, vacuums, logger)
		if err := mqttBridge.Connect(); err != nil {
			return err
		}
		defer mqttBridge.Close()
		onRefresh = mqttBridge.PublishState
		logger.Info("mqtt bridge connected", zap.String("broker", cfg.MQTT.Broker))
	} else {
		logger.Info("mqtt bridge disabled, no broker configured")
	}

	for _, vacuum := range vacuums {
		poller := robovac.NewPoller(vacuum, cfg.PollInterval(), logger, onRefresh)
		go poller.Run(ctx)
	}

	httpServer := server.New(cfg.HTTPAddr, registry, vacuums)
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	logger.Info("robovacd up",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("devices", len(vacuums)))

	select {
	case err := <-httpErr:
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log_level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
