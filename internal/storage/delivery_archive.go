package storage

import (
	"context"
	"fmt"
	"time"
)

// DeliveryStatus is the terminal outcome of an email send attempt as recorded
// in the archive.
type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryRecord is one archived send outcome.
type DeliveryRecord struct {
	JobID          string
	JobType        string
	RecipientID    string
	RecipientEmail string
	Status         DeliveryStatus
	Attempts       int
	Error          string
	OccurredAt     time.Time
}

// DeliveryStats aggregates archived outcomes for the stats endpoint.
type DeliveryStats struct {
	JobType string `json:"jobType"`
	Status  string `json:"status"`
	Count   uint64 `json:"count"`
}

// DeliveryArchive is the append-only ClickHouse log of email send outcomes,
// used for delivery analytics. The live queue remains in Redis; the archive
// only ever receives terminal and retry outcomes.
type DeliveryArchive struct {
	db *ClickHouseDB
}

// NewDeliveryArchive creates the archive and ensures its table exists.
func NewDeliveryArchive(ctx context.Context, db *ClickHouseDB) (*DeliveryArchive, error) {
	archive := &DeliveryArchive{db: db}
	if err := archive.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return archive, nil
}

func (a *DeliveryArchive) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS email_deliveries (
			job_id          String,
			job_type        LowCardinality(String),
			recipient_id    String,
			recipient_email String,
			status          LowCardinality(String),
			attempts        UInt8,
			error           String,
			occurred_at     DateTime
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, job_type)
	`
	if err := a.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create email_deliveries table: %w", err)
	}
	return nil
}

// Append records one send outcome.
func (a *DeliveryArchive) Append(ctx context.Context, record *DeliveryRecord) error {
	query := `
		INSERT INTO email_deliveries
			(job_id, job_type, recipient_id, recipient_email, status, attempts, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := a.db.Exec(ctx, query,
		record.JobID,
		record.JobType,
		record.RecipientID,
		record.RecipientEmail,
		string(record.Status),
		uint8(record.Attempts),
		record.Error,
		record.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive delivery record: %w", err)
	}
	return nil
}

// Stats returns delivery counts grouped by job type and status since the
// given time.
func (a *DeliveryArchive) Stats(ctx context.Context, since time.Time) ([]DeliveryStats, error) {
	query := `
		SELECT job_type, status, count() AS cnt
		FROM email_deliveries
		WHERE occurred_at >= ?
		GROUP BY job_type, status
		ORDER BY job_type, status
	`

	rows, err := a.db.Conn().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery stats: %w", err)
	}
	defer rows.Close()

	var stats []DeliveryStats
	for rows.Next() {
		var s DeliveryStats
		if err := rows.Scan(&s.JobType, &s.Status, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery stats: %w", err)
	}

	return stats, nil
}
