package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepository reads subscription records from the billing
// database. Read-only: expiry transitions belong to the billing subsystem.
type SubscriptionRepository struct {
	db *PostgresDB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *PostgresDB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetByUserID returns the subscription for a user, or nil if the user has
// none.
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `
		SELECT user_id, status, end_date
		FROM subscriptions
		WHERE user_id = $1
	`

	var sub models.Subscription
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&sub.UserID,
		&sub.Status,
		&sub.EndDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription for %s: %w", userID, err)
	}

	return &sub, nil
}
