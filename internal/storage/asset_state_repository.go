package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/redis/go-redis/v9"

	pipelineerrors "github.com/coinspree/ath-notifier/internal/errors"
)

// AssetStateRepository persists per-asset historical state: the last known
// all-time high at asset:{id} and the frequency-gate timestamp at
// asset:{id}:lastNotified. Records are created on first observation and never
// deleted under normal operation.
type AssetStateRepository struct {
	redis *RedisStore
}

// NewAssetStateRepository creates a new asset state repository
func NewAssetStateRepository(redis *RedisStore) *AssetStateRepository {
	return &AssetStateRepository{redis: redis}
}

func assetKey(assetID string) string {
	return "asset:" + assetID
}

func lastNotifiedKey(assetID string) string {
	return assetKey(assetID) + ":lastNotified"
}

// Get returns the stored state for an asset, or nil if the asset has never
// been observed.
func (r *AssetStateRepository) Get(ctx context.Context, assetID string) (*models.StoredAssetState, error) {
	key := assetKey(assetID)

	fields, err := r.redis.Client().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, pipelineerrors.NewStorageReadError(key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	state := &models.StoredAssetState{AssetID: assetID}
	if raw, ok := fields["ath"]; ok {
		state.ATH, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt ath value for %s: %w", assetID, err)
		}
	}
	if raw, ok := fields["updatedAt"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			state.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	if raw, ok := fields["lastNotifiedAt"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			state.LastNotifiedAt = time.Unix(unix, 0).UTC()
		}
	}

	return state, nil
}

// SetATH records a newly confirmed all-time high for an asset. Called as soon
// as a detection qualifies, before any notification work, so overlapping runs
// do not reprocess the same peak.
func (r *AssetStateRepository) SetATH(ctx context.Context, assetID string, ath float64, observedAt time.Time) error {
	key := assetKey(assetID)

	err := r.redis.Client().HSet(ctx, key,
		"ath", strconv.FormatFloat(ath, 'f', -1, 64),
		"updatedAt", strconv.FormatInt(observedAt.Unix(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store ath for %s: %w", assetID, err)
	}
	return nil
}

// LastNotifiedAt returns the frequency-gate timestamp for an asset. A zero
// time with nil error means the asset has never been notified about.
func (r *AssetStateRepository) LastNotifiedAt(ctx context.Context, assetID string) (time.Time, error) {
	key := lastNotifiedKey(assetID)

	raw, err := r.redis.Get(ctx, key)
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, pipelineerrors.NewStorageReadError(key, err)
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt lastNotified value for %s: %w", assetID, err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// RecordNotified stores the frequency-gate timestamp and mirrors it into the
// asset hash for observability.
func (r *AssetStateRepository) RecordNotified(ctx context.Context, assetID string, notifiedAt time.Time) error {
	unix := strconv.FormatInt(notifiedAt.Unix(), 10)

	if err := r.redis.Set(ctx, lastNotifiedKey(assetID), unix, 0); err != nil {
		return fmt.Errorf("failed to record notification time for %s: %w", assetID, err)
	}
	if err := r.redis.Client().HSet(ctx, assetKey(assetID), "lastNotifiedAt", unix).Err(); err != nil {
		return fmt.Errorf("failed to mirror notification time for %s: %w", assetID, err)
	}
	return nil
}
