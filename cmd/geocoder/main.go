package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/medintel/geocoding-service/internal/adapter/here"
	httpadapter "github.com/medintel/geocoding-service/internal/adapter/http"
	kafkaadapter "github.com/medintel/geocoding-service/internal/adapter/kafka"
	"github.com/medintel/geocoding-service/internal/adapter/mapbox"
	"github.com/medintel/geocoding-service/internal/adapter/nominatim"
	"github.com/medintel/geocoding-service/internal/cache"
	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
	"github.com/medintel/geocoding-service/internal/pipeline"
	"github.com/medintel/geocoding-service/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	geocodeCache := cache.NewMemory(cfg.CacheTTL, clock, logger, metrics)

	limiter := ratelimit.New(clock, cfg.RateMaxWait, metrics)
	providers := make([]domain.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		limiter.Register(pc.Name, pc.Rate, pc.Capacity)
		switch pc.Name {
		case config.ProviderMapbox:
			providers = append(providers, mapbox.NewClient(pc, clock, logger, metrics))
		case config.ProviderHERE:
			providers = append(providers, here.NewClient(pc, clock, logger, metrics))
		case config.ProviderNominatim:
			providers = append(providers, nominatim.NewClient(pc, clock, logger, metrics))
		}
		logger.Info("provider enabled",
			"provider", pc.Name, "rate", pc.Rate, "capacity", pc.Capacity, "timeout", pc.Timeout)
	}

	var sink domain.ResultSink
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaSinkEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		sink = kafkaWriter
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic)
	}

	resolver := pipeline.NewResolver(providers, limiter, geocodeCache, clock, logger, metrics)
	coordinator := pipeline.NewCoordinator(
		resolver, geocodeCache, sink, cfg.Policy(), cfg.WorkerPoolSize, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, coordinator, coordinator, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go geocodeCache.Sweep(ctx, cfg.CacheSweepInterval)

	var kafkaReader *kafkaadapter.Reader
	if cfg.KafkaSourceEnabled {
		kafkaReader = kafkaadapter.NewReader(cfg, coordinator, logger)
		go func() {
			if err := kafkaReader.Run(ctx); err != nil {
				logger.Error("kafka source error", "error", err)
			}
		}()
		logger.Info("kafka source enabled", "topic", cfg.KafkaSourceTopic)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := coordinator.Run(ctx); err != nil {
			logger.Error("coordinator error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaReader != nil {
		if err := kafkaReader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
