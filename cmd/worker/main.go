// Package main provides the pipeline worker: periodic ATH detection ticks and
// email delivery queue ticks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinspree/ath-notifier/internal/config"
	"github.com/coinspree/ath-notifier/internal/detector"
	"github.com/coinspree/ath-notifier/internal/email"
	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/market"
	"github.com/coinspree/ath-notifier/internal/notify"
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
	).WithField("component", "worker")
	logging.SetDefault(logger)
	logger.Info("ATH notification worker starting")

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	defer redisStore.Close()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.Errorf("Failed to connect to Postgres: %v", err)
		os.Exit(1)
	}
	defer postgres.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	// The delivery archive is optional: the pipeline keeps notifying even
	// when analytics storage is down.
	var archive email.DeliveryArchiver
	if clickhouseDB, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse); err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, continuing without delivery archive")
	} else {
		defer clickhouseDB.Close()
		deliveryArchive, err := storage.NewDeliveryArchive(ctx, clickhouseDB)
		if err != nil {
			logger.WithError(err).Warn("Failed to prepare delivery archive, continuing without it")
		} else {
			archive = deliveryArchive
		}
	}

	states := storage.NewAssetStateRepository(redisStore)
	events := storage.NewEventRepository(redisStore)
	notificationLog := storage.NewNotificationLogRepository(redisStore)
	users := storage.NewUserRepository(postgres)
	subscriptions := storage.NewSubscriptionRepository(postgres)

	queue, err := email.NewQueue(&email.QueueConfig{
		Redis:     redisStore,
		Sender:    email.NewProviderClient(&cfg.Email),
		Templates: email.NewTemplateStore(redisStore),
		Archive:   archive,
		Email:     &cfg.Email,
		Queue:     &cfg.Queue,
	})
	if err != nil {
		logger.Errorf("Failed to create delivery queue: %v", err)
		os.Exit(1)
	}

	service, err := detector.NewService(&detector.ServiceConfig{
		Market:    market.NewClient(&cfg.Market, redisStore),
		Engine:    detector.NewEngine(states),
		Gate:      detector.NewFrequencyGate(states, cfg.Detection.MinNotifyInterval),
		Resolver:  notify.NewResolver(users, subscriptions),
		Fanout:    notify.NewFanout(queue, notificationLog, cfg.Queue.FanoutBatchSize, cfg.Queue.FanoutDelay),
		Events:    events,
		TopAssets: cfg.Detection.TopAssets,
	})
	if err != nil {
		logger.Errorf("Failed to create detection service: %v", err)
		os.Exit(1)
	}

	logger.WithFields(map[string]interface{}{
		"detectionInterval": cfg.Detection.Interval.String(),
		"queueInterval":     cfg.Queue.Interval.String(),
		"topAssets":         cfg.Detection.TopAssets,
	}).Info("Worker configured, entering tick loop")

	runTicks(ctx, cfg, service, queue)
	logger.Info("Worker stopped")
}

// runTicks drives the two periodic triggers until the context is cancelled.
// Each tick runs to completion; a slow tick delays the next one rather than
// overlapping it within this process.
func runTicks(ctx context.Context, cfg *config.Config, service *detector.Service, queue *email.Queue) {
	logger := logging.FromContext(ctx)

	detectionTicker := time.NewTicker(cfg.Detection.Interval)
	defer detectionTicker.Stop()
	queueTicker := time.NewTicker(cfg.Queue.Interval)
	defer queueTicker.Stop()

	// Initial detection run so a restart does not wait a full interval.
	runDetection(ctx, service)

	for {
		select {
		case <-ctx.Done():
			return
		case <-detectionTicker.C:
			runDetection(ctx, service)
		case <-queueTicker.C:
			result, err := queue.ProcessQueue(ctx)
			if err != nil {
				logger.WithError(err).Error("Queue tick failed")
				continue
			}
			if result.Processed > 0 {
				logger.WithFields(map[string]interface{}{
					"processed": result.Processed,
					"sent":      result.Sent,
					"failed":    result.Failed,
					"remaining": result.Remaining,
				}).Info("Queue tick complete")
			}
		}
	}
}

func runDetection(ctx context.Context, service *detector.Service) {
	if _, err := service.RunDetectionTick(ctx); err != nil {
		// A failed tick produces zero events and is retried next interval.
		logging.FromContext(ctx).WithError(err).Error("Detection tick failed")
	}
}
