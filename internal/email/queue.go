package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coinspree/ath-notifier/internal/config"
	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue key layout. The live queue is a sorted set of job documents scored by
// scheduledFor; in-flight job ids live in a set so concurrent workers never
// process the same job twice; each dead letter gets its own hash.
const (
	queueKey        = "email:queue"
	processingKey   = "email:processing"
	failedKeyPrefix = "email:failed:"
)

// DeliveryArchiver records terminal send outcomes for analytics. Optional:
// the queue works without one.
type DeliveryArchiver interface {
	Append(ctx context.Context, record *storage.DeliveryRecord) error
}

// ProcessResult reports one queue tick for observability.
type ProcessResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Queue is the Redis-backed email delivery queue. Jobs move
// queued -> processing -> sent | retry-scheduled | dead-lettered; retries use
// exponential backoff and exhausted jobs are parked for manual retry.
// ProcessQueue is a polling tick driven by the caller; the queue never loops
// on its own.
type Queue struct {
	redis       *storage.RedisStore
	sender      Sender
	templates   *TemplateStore
	archive     DeliveryArchiver
	from        string
	replyTo     string
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

// QueueConfig holds the collaborators and tuning of a delivery queue.
type QueueConfig struct {
	Redis     *storage.RedisStore
	Sender    Sender
	Templates *TemplateStore
	Archive   DeliveryArchiver // optional
	Email     *config.EmailConfig
	Queue     *config.QueueConfig
}

// NewQueue creates a delivery queue.
func NewQueue(cfg *QueueConfig) (*Queue, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis store is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if cfg.Email == nil {
		return nil, fmt.Errorf("email config is required")
	}

	batchSize := 10
	maxAttempts := models.DefaultMaxAttempts
	if cfg.Queue != nil {
		if cfg.Queue.BatchSize > 0 {
			batchSize = cfg.Queue.BatchSize
		}
		if cfg.Queue.MaxAttempts > 0 {
			maxAttempts = cfg.Queue.MaxAttempts
		}
	}

	return &Queue{
		redis:       cfg.Redis,
		sender:      cfg.Sender,
		templates:   cfg.Templates,
		archive:     cfg.Archive,
		from:        cfg.Email.From,
		replyTo:     cfg.Email.ReplyTo,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

// Enqueue creates a job and places it in the queue, optionally delayed.
// Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, jobType models.EmailJobType, recipient models.User, payload interface{}, delay time.Duration) (string, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := q.now().UTC()
	job := &models.QueuedEmailJob{
		ID:           uuid.New().String(),
		Type:         jobType,
		Recipient:    recipient,
		Payload:      rawPayload,
		Attempts:     0,
		MaxAttempts:  q.maxAttempts,
		ScheduledFor: now.Add(delay),
		CreatedAt:    now,
	}

	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *Queue) push(ctx context.Context, job *models.QueuedEmailJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.redis.Client().ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(job.ScheduledFor.Unix()),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ProcessQueue pulls due jobs (scheduledFor <= now), at most batchSize per
// invocation, and attempts each send. Safe to call repeatedly from a periodic
// trigger; concurrent invocations coordinate through the processing set.
func (q *Queue) ProcessQueue(ctx context.Context) (*ProcessResult, error) {
	logger := logging.FromContext(ctx)
	result := &ProcessResult{}
	now := q.now().UTC()

	raws, err := q.redis.Client().ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(q.batchSize),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	for _, raw := range raws {
		var job models.QueuedEmailJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// A record that cannot be decoded would wedge the queue head
			// forever; remove it and log.
			logger.WithError(err).Error("Dropping undecodable queue record")
			_ = q.redis.Client().ZRem(ctx, queueKey, raw).Err()
			continue
		}

		claimed, err := q.redis.Client().SAdd(ctx, processingKey, job.ID).Result()
		if err != nil {
			logger.WithError(err).WithField("job", job.ID).Error("Failed to claim job")
			continue
		}
		if claimed == 0 {
			// Another worker holds this job.
			continue
		}
		if err := q.redis.Client().ZRem(ctx, queueKey, raw).Err(); err != nil {
			logger.WithError(err).WithField("job", job.ID).Error("Failed to remove claimed job from queue")
		}

		result.Processed++
		if q.handleJob(ctx, &job) {
			result.Sent++
		} else {
			result.Failed++
		}

		if err := q.redis.Client().SRem(ctx, processingKey, job.ID).Err(); err != nil {
			logger.WithError(err).WithField("job", job.ID).Error("Failed to release processing marker")
		}
	}

	remaining, err := q.redis.Client().ZCount(ctx, queueKey, "-inf", fmt.Sprintf("%d", q.now().UTC().Unix())).Result()
	if err == nil {
		result.Remaining = int(remaining)
	}

	return result, nil
}

// handleJob attempts one send and applies the retry policy. Returns true when
// the job was sent.
func (q *Queue) handleJob(ctx context.Context, job *models.QueuedEmailJob) bool {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job":  job.ID,
		"type": string(job.Type),
	})

	sendErr := q.send(ctx, job)
	if sendErr == nil {
		logger.Info("Email sent")
		q.archiveOutcome(ctx, job, storage.DeliverySent, "")
		return true
	}

	if errors.Is(sendErr, ErrAdminRecipient) {
		// Safety invariant, not a transient failure: drop without retry.
		logger.WithError(sendErr).Error("Send blocked by admin guard, dropping job")
		q.archiveOutcome(ctx, job, storage.DeliveryFailed, sendErr.Error())
		return false
	}

	// Provider errors are retried uniformly; the system does not distinguish
	// permanent from transient provider failures.
	newAttempts := job.Attempts + 1
	if newAttempts >= job.MaxAttempts {
		job.Attempts = newAttempts
		logger.WithError(sendErr).Error("Retry budget exhausted, dead-lettering job")
		q.deadLetter(ctx, job, sendErr)
		q.archiveOutcome(ctx, job, storage.DeliveryDeadLetter, sendErr.Error())
		return false
	}

	retryDelay := time.Duration(1<<uint(job.Attempts)) * time.Minute
	job.Attempts = newAttempts
	job.ScheduledFor = q.now().UTC().Add(retryDelay)

	logger.WithError(sendErr).WithFields(map[string]interface{}{
		"attempts": job.Attempts,
		"delay":    retryDelay.String(),
	}).Warn("Send failed, rescheduling")

	if err := q.push(ctx, job); err != nil {
		logger.WithError(err).Error("Failed to reschedule job, dead-lettering instead")
		q.deadLetter(ctx, job, sendErr)
		q.archiveOutcome(ctx, job, storage.DeliveryDeadLetter, sendErr.Error())
		return false
	}
	q.archiveOutcome(ctx, job, storage.DeliveryFailed, sendErr.Error())
	return false
}

// send resolves the template, renders it and delegates to the provider.
func (q *Queue) send(ctx context.Context, job *models.QueuedEmailJob) error {
	if err := guardRecipient(job.Type, &job.Recipient); err != nil {
		return err
	}

	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}

	tpl := q.templates.Resolve(ctx, job.Type).Render(templateData(&job.Recipient, payload))

	_, err = q.sender.Send(ctx, &SendRequest{
		From:    q.from,
		To:      job.Recipient.Email,
		Subject: tpl.Subject,
		HTML:    tpl.HTML,
		Text:    tpl.Text,
		ReplyTo: q.replyTo,
		Tags:    map[string]string{"type": string(job.Type)},
	})
	return err
}

func (q *Queue) deadLetter(ctx context.Context, job *models.QueuedEmailJob, cause error) {
	record := &models.DeadLetterRecord{
		Job:      *job,
		Reason:   cause.Error(),
		FailedAt: q.now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to marshal dead letter record")
		return
	}
	if err := q.redis.Client().HSet(ctx, failedKeyPrefix+job.ID, "data", raw).Err(); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("job", job.ID).Error("Failed to store dead letter record")
	}
}

func (q *Queue) archiveOutcome(ctx context.Context, job *models.QueuedEmailJob, status storage.DeliveryStatus, reason string) {
	if q.archive == nil {
		return
	}
	record := &storage.DeliveryRecord{
		JobID:          job.ID,
		JobType:        string(job.Type),
		RecipientID:    job.Recipient.ID,
		RecipientEmail: job.Recipient.Email,
		Status:         status,
		Attempts:       job.Attempts,
		Error:          reason,
		OccurredAt:     q.now().UTC(),
	}
	if err := q.archive.Append(ctx, record); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("job", job.ID).Error("Failed to archive delivery outcome")
	}
}

// ListFailed returns all dead-lettered jobs.
func (q *Queue) ListFailed(ctx context.Context) ([]*models.DeadLetterRecord, error) {
	keys, err := q.redis.Keys(ctx, failedKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	records := make([]*models.DeadLetterRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := q.redis.Client().HGet(ctx, key, "data").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dead letter %s: %w", key, err)
		}
		var record models.DeadLetterRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("corrupt dead letter %s: %w", key, err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// RetryFailed re-enqueues a dead-lettered job for immediate processing with
// its attempt counter reset, and removes the dead letter record.
func (q *Queue) RetryFailed(ctx context.Context, jobID string) error {
	key := failedKeyPrefix + jobID

	raw, err := q.redis.Client().HGet(ctx, key, "data").Result()
	if err == redis.Nil {
		return fmt.Errorf("dead letter not found: %s", jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to read dead letter %s: %w", jobID, err)
	}

	var record models.DeadLetterRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("corrupt dead letter %s: %w", jobID, err)
	}

	job := record.Job
	job.Attempts = 0
	job.ScheduledFor = q.now().UTC()
	if err := q.push(ctx, &job); err != nil {
		return err
	}

	if err := q.redis.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to remove dead letter %s: %w", jobID, err)
	}
	return nil
}

// Depth returns the total number of live jobs, due or not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.redis.Client().ZCard(ctx, queueKey).Result()
}
