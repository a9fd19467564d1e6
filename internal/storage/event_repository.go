package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/redis/go-redis/v9"
)

// eventIndexKey is the time-ordered index of event ids, scored by sentAt.
const eventIndexKey = "events:index"

// EventRepository persists ATH event records at event:{id} with a
// time-ordered index for recency queries. Events are immutable after
// creation except for the single recipient-count update that follows
// fan-out.
type EventRepository struct {
	redis *RedisStore
}

// NewEventRepository creates a new event repository
func NewEventRepository(redis *RedisStore) *EventRepository {
	return &EventRepository{redis: redis}
}

func eventKey(id string) string {
	return "event:" + id
}

// Create persists a new event record and indexes it by sentAt. Event creation
// requires newATH > previousATH; anything else is a programming error
// upstream and is rejected here.
func (r *EventRepository) Create(ctx context.Context, event *models.ATHEvent) error {
	if event.NewATH <= event.PreviousATH {
		return fmt.Errorf("refusing to create event for %s: newATH %.8f not above previousATH %.8f",
			event.CryptoID, event.NewATH, event.PreviousATH)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	client := r.redis.Client()
	if err := client.HSet(ctx, eventKey(event.ID), "data", raw).Err(); err != nil {
		return fmt.Errorf("failed to store event %s: %w", event.ID, err)
	}
	err = client.ZAdd(ctx, eventIndexKey, redis.Z{
		Score:  float64(event.SentAt.Unix()),
		Member: event.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index event %s: %w", event.ID, err)
	}
	return nil
}

// Get returns an event by id, or nil if it does not exist.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.ATHEvent, error) {
	raw, err := r.redis.Client().HGet(ctx, eventKey(id), "data").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}

	var event models.ATHEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("corrupt event record %s: %w", id, err)
	}
	return &event, nil
}

// UpdateRecipientCount records the number of successful enqueues after
// fan-out completes. This is the only mutation an event sees post-creation.
func (r *EventRepository) UpdateRecipientCount(ctx context.Context, id string, count int) error {
	event, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event not found: %s", id)
	}

	event.RecipientCount = count
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.redis.Client().HSet(ctx, eventKey(id), "data", raw).Err(); err != nil {
		return fmt.Errorf("failed to update recipient count for %s: %w", id, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]*models.ATHEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	ids, err := r.redis.Client().ZRevRange(ctx, eventIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event index: %w", err)
	}

	events := make([]*models.ATHEvent, 0, len(ids))
	for _, id := range ids {
		event, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, nil
}
