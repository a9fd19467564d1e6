package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EmailJobType tags the payload variant carried by a queued email job.
type EmailJobType string

const (
	JobATHNotification    EmailJobType = "ath_notification"
	JobWelcome            EmailJobType = "welcome"
	JobSubscriptionExpiry EmailJobType = "subscription_expiry"
	JobPasswordReset      EmailJobType = "password_reset"
)

// DefaultMaxAttempts is the retry budget for a queued email job.
const DefaultMaxAttempts = 3

// ATHNotificationData is the payload for an ath_notification job.
type ATHNotificationData struct {
	EventID            string  `json:"eventId"`
	CryptoID           string  `json:"cryptoId"`
	Symbol             string  `json:"symbol"`
	Name               string  `json:"name"`
	NewATH             float64 `json:"newAth"`
	PreviousATH        float64 `json:"previousAth"`
	PercentageIncrease float64 `json:"percentageIncrease"`
}

// WelcomeData is the payload for a welcome job.
type WelcomeData struct {
	Name string `json:"name"`
}

// SubscriptionExpiryData is the payload for a subscription_expiry job.
type SubscriptionExpiryData struct {
	Name    string    `json:"name"`
	EndDate time.Time `json:"endDate"`
}

// PasswordResetData is the payload for a password_reset job.
type PasswordResetData struct {
	Name     string `json:"name"`
	ResetURL string `json:"resetUrl"`
}

// QueuedEmailJob is one unit of work in the email delivery queue. The Payload
// bytes decode into the variant selected by Type; DecodePayload performs the
// exhaustive dispatch.
type QueuedEmailJob struct {
	ID           string          `json:"id"`
	Type         EmailJobType    `json:"type"`
	Recipient    User            `json:"recipient"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// DecodePayload unmarshals the job payload into its type-specific variant.
// Unknown job types are an error so the worker never silently drops a
// malformed record.
func (j *QueuedEmailJob) DecodePayload() (interface{}, error) {
	switch j.Type {
	case JobATHNotification:
		var d ATHNotificationData
		if err := json.Unmarshal(j.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode ath_notification payload: %w", err)
		}
		return &d, nil
	case JobWelcome:
		var d WelcomeData
		if err := json.Unmarshal(j.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode welcome payload: %w", err)
		}
		return &d, nil
	case JobSubscriptionExpiry:
		var d SubscriptionExpiryData
		if err := json.Unmarshal(j.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode subscription_expiry payload: %w", err)
		}
		return &d, nil
	case JobPasswordReset:
		var d PasswordResetData
		if err := json.Unmarshal(j.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode password_reset payload: %w", err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("unknown email job type: %s", j.Type)
	}
}

// DeadLetterRecord is the parked snapshot of a job whose retry budget is
// exhausted, kept for manual inspection and retry.
type DeadLetterRecord struct {
	Job      QueuedEmailJob `json:"job"`
	Reason   string         `json:"reason"`
	FailedAt time.Time      `json:"failedAt"`
}
