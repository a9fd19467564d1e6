// Package detector implements ATH detection: diffing fresh market data
// against stored per-asset state and driving the notification tick.
package detector

import (
	"context"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/storage"
)

// Engine compares freshly fetched assets against stored historical state and
// produces the qualifying ATH events.
type Engine struct {
	states *storage.AssetStateRepository
	now    func() time.Time
}

// NewEngine creates a diff engine over the asset state repository.
func NewEngine(states *storage.AssetStateRepository) *Engine {
	return &Engine{
		states: states,
		now:    time.Now,
	}
}

// Detect returns one DetectedEvent per asset whose fresh data qualifies as a
// new all-time high. Two independent triggers qualify:
//
//   - real-time: the live price exceeds the stored ATH
//   - missed: the upstream-reported ath exceeds the stored ATH (a peak
//     occurred between polls, whether or not the price has since receded)
//
// The notification price is the highest peak known for the asset: the
// reported ath when it exceeds the live price, the live price otherwise.
// The stored state is updated to that same value the moment a detection
// qualifies, before any notification work, so overlapping runs do not
// reprocess the same peak. A read or write failure for one asset skips that
// asset only.
func (e *Engine) Detect(ctx context.Context, fresh []models.CryptoAsset) []models.DetectedEvent {
	logger := logging.FromContext(ctx)

	var events []models.DetectedEvent
	for i := range fresh {
		asset := fresh[i]
		if asset.ID == "" {
			continue
		}

		state, err := e.states.Get(ctx, asset.ID)
		if err != nil {
			logger.WithError(err).WithField("asset", asset.ID).Error("Failed to read asset state, skipping")
			continue
		}

		var previousATH float64
		if state != nil {
			previousATH = state.ATH
		}

		if asset.CurrentPrice <= previousATH && asset.ATH <= previousATH {
			continue
		}

		newATH := asset.CurrentPrice
		if asset.ATH > newATH {
			newATH = asset.ATH
		}

		if err := e.states.SetATH(ctx, asset.ID, newATH, e.now().UTC()); err != nil {
			logger.WithError(err).WithField("asset", asset.ID).Error("Failed to persist new ATH, skipping")
			continue
		}

		events = append(events, models.DetectedEvent{
			Asset:       asset,
			PreviousATH: previousATH,
			NewATH:      newATH,
		})
	}

	return events
}
