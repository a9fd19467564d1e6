package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/redis/go-redis/v9"
)

// NotificationLogRepository keeps the append-only per-user audit trail at
// user:{id}:notifications, a time-ordered index of notification log entries.
type NotificationLogRepository struct {
	redis *RedisStore
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(redis *RedisStore) *NotificationLogRepository {
	return &NotificationLogRepository{redis: redis}
}

func userNotificationsKey(userID string) string {
	return "user:" + userID + ":notifications"
}

// Append records one (user, event) delivery entry. Entries are never updated
// or removed.
func (r *NotificationLogRepository) Append(ctx context.Context, entry *models.UserNotificationLogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal notification log entry: %w", err)
	}

	err = r.redis.Client().ZAdd(ctx, userNotificationsKey(entry.UserID), redis.Z{
		Score:  float64(entry.SentAt.Unix()),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append notification log for %s: %w", entry.UserID, err)
	}
	return nil
}

// ListByUser returns up to limit entries for a user, newest first.
func (r *NotificationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.UserNotificationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	raws, err := r.redis.Client().ZRevRange(ctx, userNotificationsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification log for %s: %w", userID, err)
	}

	entries := make([]*models.UserNotificationLogEntry, 0, len(raws))
	for _, raw := range raws {
		var entry models.UserNotificationLogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("corrupt notification log entry for %s: %w", userID, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
