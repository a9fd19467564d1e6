package detector

import (
	"context"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/storage"
)

// DefaultMinNotifyInterval is the per-asset notification cooldown.
const DefaultMinNotifyInterval = 5 * time.Minute

// FrequencyGate enforces a minimum interval between notifications for the
// same asset. The check itself is side-effect-free; the caller records the
// notification time after the event record is created.
type FrequencyGate struct {
	states      *storage.AssetStateRepository
	minInterval time.Duration
	now         func() time.Time
}

// NewFrequencyGate creates a gate with the given cooldown. A non-positive
// interval falls back to the default.
func NewFrequencyGate(states *storage.AssetStateRepository, minInterval time.Duration) *FrequencyGate {
	if minInterval <= 0 {
		minInterval = DefaultMinNotifyInterval
	}
	return &FrequencyGate{
		states:      states,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// ShouldNotify reports whether the cooldown for an asset has elapsed. A
// storage read failure fails open: missing a dedup window is preferable to
// silently dropping a real ATH on a transient storage blip.
func (g *FrequencyGate) ShouldNotify(ctx context.Context, assetID string) bool {
	lastNotified, err := g.states.LastNotifiedAt(ctx, assetID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("asset", assetID).
			Warn("Frequency gate read failed, allowing notification")
		return true
	}
	if lastNotified.IsZero() {
		return true
	}
	return g.now().Sub(lastNotified) >= g.minInterval
}

// RecordNotified stores the notification timestamp for an asset. Called by
// the tick after successful event creation, never from the check path.
func (g *FrequencyGate) RecordNotified(ctx context.Context, assetID string, notifiedAt time.Time) error {
	return g.states.RecordNotified(ctx, assetID, notifiedAt)
}
