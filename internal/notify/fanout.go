package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
)

// Fan-out defaults: batch size bounds concurrent load on the email provider,
// the inter-batch delay is simple backpressure.
const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 100 * time.Millisecond
)

type nowFunc func() time.Time

func defaultNow() time.Time { return time.Now().UTC() }

// Enqueuer places email jobs into the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.EmailJobType, recipient models.User, payload interface{}, delay time.Duration) (string, error)
}

// NotificationLog appends per-user delivery audit entries.
type NotificationLog interface {
	Append(ctx context.Context, entry *models.UserNotificationLogEntry) error
}

// FanoutResult reports the outcome of one fan-out: how many recipients were
// successfully enqueued and the per-recipient failures. Errors alongside a
// non-zero recipient count is a partial result, not a failure.
type FanoutResult struct {
	RecipientCount int
	Errors         []error
}

// Fanout batches eligible recipients and enqueues one templated email job per
// recipient, recording an audit log entry for each success.
type Fanout struct {
	queue      Enqueuer
	log        NotificationLog
	batchSize  int
	batchDelay time.Duration
	now        nowFunc
}

// NewFanout creates a fan-out over the given queue and audit log.
// Non-positive batch parameters fall back to the defaults.
func NewFanout(queue Enqueuer, log NotificationLog, batchSize int, batchDelay time.Duration) *Fanout {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchDelay <= 0 {
		batchDelay = DefaultBatchDelay
	}
	return &Fanout{
		queue:      queue,
		log:        log,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		now:        defaultNow,
	}
}

// Notify enqueues an ath_notification job for every user. Recipients are
// processed in fixed-size batches; within a batch each enqueue runs in its
// own goroutine and failures are collected without aborting the rest.
func (f *Fanout) Notify(ctx context.Context, event *models.ATHEvent, users []*models.User) *FanoutResult {
	logger := logging.FromContext(ctx)
	result := &FanoutResult{}

	detected := models.DetectedEvent{PreviousATH: event.PreviousATH, NewATH: event.NewATH}
	payload := &models.ATHNotificationData{
		EventID:            event.ID,
		CryptoID:           event.CryptoID,
		Symbol:             event.Symbol,
		Name:               event.Name,
		NewATH:             event.NewATH,
		PreviousATH:        event.PreviousATH,
		PercentageIncrease: detected.PercentageIncrease(),
	}

	var mu sync.Mutex
	for start := 0; start < len(users); start += f.batchSize {
		end := start + f.batchSize
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]

		var wg sync.WaitGroup
		for _, user := range batch {
			wg.Add(1)
			go func(user *models.User) {
				defer wg.Done()

				if _, err := f.queue.Enqueue(ctx, models.JobATHNotification, *user, payload, 0); err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, fmt.Errorf("enqueue for %s: %w", user.ID, err))
					mu.Unlock()
					return
				}

				entry := &models.UserNotificationLogEntry{
					UserID:         user.ID,
					NotificationID: event.ID,
					CryptoID:       event.CryptoID,
					SentAt:         f.now(),
				}
				if err := f.log.Append(ctx, entry); err != nil {
					// The job is already queued; a missing audit row is
					// logged, not counted as a recipient failure.
					logger.WithError(err).WithField("user", user.ID).Error("Failed to append notification log")
				}

				mu.Lock()
				result.RecipientCount++
				mu.Unlock()
			}(user)
		}
		wg.Wait()

		if end < len(users) {
			select {
			case <-time.After(f.batchDelay):
			case <-ctx.Done():
				result.Errors = append(result.Errors, ctx.Err())
				return result
			}
		}
	}

	logger.WithFields(map[string]interface{}{
		"event":      event.ID,
		"crypto":     event.CryptoID,
		"recipients": result.RecipientCount,
		"failures":   len(result.Errors),
	}).Info("Notification fan-out complete")

	return result
}
