package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetwatch/core-go/internal/config"
	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/httpapi"
	"fleetwatch/core-go/internal/hub"
	"fleetwatch/core-go/internal/inclusion"
	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/monitor"
	"fleetwatch/core-go/internal/staleness"
	"fleetwatch/core-go/internal/timespan"
	"fleetwatch/core-go/internal/transport"
)

func main() {
	addr := envOr("HTTP_ADDR", ":8081")
	logLevel := envOr("LOG_LEVEL", "info")
	databaseURL := envOr("DATABASE_URL", "")
	hubURL := envOr("HUB_URL", "")
	hubToken := envOr("HUB_TOKEN", "")
	configPath := envOr("CONFIG_PATH", "")

	logger := httpapi.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
		cfg = loaded
	}

	client, err := hub.NewClient(hub.Config{BaseURL: hubURL, Token: hubToken})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure hub client")
	}

	var pool *db.Pool
	if databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		if err := p.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare run archive schema")
		}
		pool = p
	}

	rules := inclusion.NewRules(logger, inclusion.Config{
		Transports:              transport.NormalizeList(cfg.Filter.Transports),
		WantedClasses:           cfg.Filter.Classes,
		ExcludedClasses:         cfg.Filter.ExcludedClasses,
		IncludeNames:            cfg.Filter.IncludeNames,
		ExcludeNames:            cfg.Filter.ExcludeNames,
		VirtualClassCounts:      cfg.Filter.VirtualClassCounts,
		ExcludeOverridesVirtual: cfg.Filter.ExcludeOverridesVirtual,
	})

	m := metrics.New()

	mon := monitor.New(logger, monitor.Deps{
		Directory: client,
		Zones:     client,
		Writer:    client,
		Sink:      client,
		Archive:   pool,
		Metrics:   m,
	}, rules, monitor.Options{
		Threshold: staleness.Threshold{
			Window: cfg.Monitor.ThresholdWindow(),
			Unit:   timespan.Minutes,
		},
		WakeDelay:               cfg.Monitor.WakeDelayDuration(),
		PollInterval:            cfg.Monitor.PollIntervalDuration(),
		RunTimeout:              cfg.Monitor.RunTimeoutDuration(),
		BatteryThresholdPercent: cfg.Battery.ThresholdPercent,
		BatteryAlarmCountsAsLow: cfg.Battery.AlarmCountsAsLow,
	})
	go mon.Run(ctx)

	h := httpapi.NewHandler(logger, pool, m, mon)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("fleetwatch listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
