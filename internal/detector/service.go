package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/market"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/notify"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/google/uuid"
)

// MarketSource fetches ranked asset snapshots.
type MarketSource interface {
	FetchRanked(ctx context.Context, offset, count int) (*market.Snapshot, error)
}

// RecipientResolver computes the eligible recipient set for an event.
type RecipientResolver interface {
	ResolveEligible(ctx context.Context) ([]*models.User, error)
}

// Notifier fans an event out to recipients.
type Notifier interface {
	Notify(ctx context.Context, event *models.ATHEvent, users []*models.User) *notify.FanoutResult
}

// TickResult summarizes one detection tick for logging and tests.
type TickResult struct {
	AssetsScanned  int
	EventsDetected int
	EventsNotified int
	Recipients     int
	Stale          bool
}

// Service drives one detection tick: fetch, diff, gate, fan out. It holds no
// cross-tick state of its own; everything that must survive a tick lives in
// the stores.
type Service struct {
	market    MarketSource
	engine    *Engine
	gate      *FrequencyGate
	resolver  RecipientResolver
	fanout    Notifier
	events    *storage.EventRepository
	topAssets int
	now       func() time.Time
}

// ServiceConfig holds the collaborators of a detection service.
type ServiceConfig struct {
	Market    MarketSource
	Engine    *Engine
	Gate      *FrequencyGate
	Resolver  RecipientResolver
	Fanout    Notifier
	Events    *storage.EventRepository
	TopAssets int
}

// NewService creates a detection service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("market source is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("diff engine is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("frequency gate is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("recipient resolver is required")
	}
	if cfg.Fanout == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event repository is required")
	}

	topAssets := cfg.TopAssets
	if topAssets <= 0 {
		topAssets = 100
	}

	return &Service{
		market:    cfg.Market,
		engine:    cfg.Engine,
		gate:      cfg.Gate,
		resolver:  cfg.Resolver,
		fanout:    cfg.Fanout,
		events:    cfg.Events,
		topAssets: topAssets,
		now:       time.Now,
	}, nil
}

// RunDetectionTick executes one detection cycle. A total upstream outage
// aborts the cycle with an error; per-asset and per-event failures are logged
// and isolated. Stale market reads update state bookkeeping but never create
// events.
func (s *Service) RunDetectionTick(ctx context.Context) (*TickResult, error) {
	logger := logging.FromContext(ctx)
	result := &TickResult{}

	snapshot, err := s.market.FetchRanked(ctx, 0, s.topAssets)
	if err != nil {
		return result, fmt.Errorf("market fetch failed: %w", err)
	}
	result.AssetsScanned = len(snapshot.Assets)
	result.Stale = snapshot.Stale

	detected := s.engine.Detect(ctx, snapshot.Assets)
	result.EventsDetected = len(detected)

	if snapshot.Stale {
		if len(detected) > 0 {
			logger.WithField("events", len(detected)).Warn("Skipping notifications for events from stale market data")
		}
		return result, nil
	}

	for i := range detected {
		if err := s.processEvent(ctx, &detected[i], result); err != nil {
			logger.WithError(err).WithField("asset", detected[i].Asset.ID).Error("Failed to process ATH event")
		}
	}

	logger.WithFields(map[string]interface{}{
		"scanned":    result.AssetsScanned,
		"detected":   result.EventsDetected,
		"notified":   result.EventsNotified,
		"recipients": result.Recipients,
	}).Info("Detection tick complete")

	return result, nil
}

func (s *Service) processEvent(ctx context.Context, detected *models.DetectedEvent, result *TickResult) error {
	logger := logging.FromContext(ctx)
	assetID := detected.Asset.ID

	if !s.gate.ShouldNotify(ctx, assetID) {
		logger.WithField("asset", assetID).Debug("Notification suppressed by frequency gate")
		return nil
	}

	now := s.now().UTC()
	event := &models.ATHEvent{
		ID:          uuid.New().String(),
		CryptoID:    assetID,
		Symbol:      detected.Asset.Symbol,
		Name:        detected.Asset.Name,
		NewATH:      detected.NewATH,
		PreviousATH: detected.PreviousATH,
		SentAt:      now,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return fmt.Errorf("event creation failed: %w", err)
	}

	if err := s.gate.RecordNotified(ctx, assetID, now); err != nil {
		// The event exists; a failed cooldown write risks one duplicate
		// notification, which the pipeline tolerates.
		logger.WithError(err).WithField("asset", assetID).Warn("Failed to record notification time")
	}

	users, err := s.resolver.ResolveEligible(ctx)
	if err != nil {
		return fmt.Errorf("recipient resolution failed: %w", err)
	}

	fanout := s.fanout.Notify(ctx, event, users)
	for _, ferr := range fanout.Errors {
		logger.WithError(ferr).WithField("event", event.ID).Error("Fan-out enqueue failed")
	}

	if err := s.events.UpdateRecipientCount(ctx, event.ID, fanout.RecipientCount); err != nil {
		logger.WithError(err).WithField("event", event.ID).Error("Failed to update recipient count")
	}

	result.EventsNotified++
	result.Recipients += fanout.RecipientCount
	return nil
}
