// Package main provides the operational API server entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinspree/ath-notifier/internal/api"
	"github.com/coinspree/ath-notifier/internal/config"
	"github.com/coinspree/ath-notifier/internal/email"
	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger(logging.LevelError, logging.FormatJSON).Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	).WithField("component", "server")
	logging.SetDefault(logger)

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	defer redisStore.Close()

	deps := map[string]api.Pinger{
		"redis": redisStore,
	}

	var stats api.StatsReader
	if clickhouseDB, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse); err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, stats endpoint disabled")
	} else {
		defer clickhouseDB.Close()
		deps["clickhouse"] = clickhouseDB
		archive, err := storage.NewDeliveryArchive(context.Background(), clickhouseDB)
		if err != nil {
			logger.WithError(err).Warn("Failed to prepare delivery archive, stats endpoint disabled")
		} else {
			stats = archive
		}
	}

	queue, err := email.NewQueue(&email.QueueConfig{
		Redis:     redisStore,
		Sender:    email.NewProviderClient(&cfg.Email),
		Templates: email.NewTemplateStore(redisStore),
		Email:     &cfg.Email,
		Queue:     &cfg.Queue,
	})
	if err != nil {
		logger.Errorf("Failed to create delivery queue: %v", err)
		os.Exit(1)
	}

	server, err := api.NewServer(&api.ServerConfig{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Events: storage.NewEventRepository(redisStore),
		Queue:  queue,
		Stats:  stats,
		Logger: logger,
		Deps:   deps,
	})
	if err != nil {
		logger.Errorf("Failed to create server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	if err := server.Start(); err != nil {
		logger.Errorf("Server error: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
