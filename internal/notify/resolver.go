// Package notify resolves eligible recipients and fans ATH notifications out
// to the email delivery queue.
package notify

import (
	"context"
	"fmt"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
)

// UserDirectory lists users from the account-management store.
type UserDirectory interface {
	ListAll(ctx context.Context) ([]*models.User, error)
}

// SubscriptionSource reads billing subscriptions. A nil subscription with nil
// error means the user has none.
type SubscriptionSource interface {
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
}

// Resolver computes the set of users entitled to ATH notifications. It is
// read-only and idempotent; subscription expiry transitions belong to the
// billing subsystem.
type Resolver struct {
	users         UserDirectory
	subscriptions SubscriptionSource
	now           nowFunc
}

// NewResolver creates a recipient resolver.
func NewResolver(users UserDirectory, subscriptions SubscriptionSource) *Resolver {
	return &Resolver{
		users:         users,
		subscriptions: subscriptions,
		now:           defaultNow,
	}
}

// ResolveEligible returns every non-admin, active, notifications-enabled user
// holding a currently active, non-expired subscription. Admins are excluded
// unconditionally; the sender enforces the same invariant again at send time.
// A subscription read failure excludes that user only.
func (r *Resolver) ResolveEligible(ctx context.Context) ([]*models.User, error) {
	logger := logging.FromContext(ctx)

	users, err := r.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	now := r.now()
	eligible := make([]*models.User, 0, len(users))
	for _, user := range users {
		if user.IsAdmin() || !user.IsActive || !user.NotificationsEnabled {
			continue
		}

		sub, err := r.subscriptions.GetByUserID(ctx, user.ID)
		if err != nil {
			logger.WithError(err).WithField("user", user.ID).Error("Failed to read subscription, excluding user")
			continue
		}
		if sub == nil || !sub.IsCurrent(now) {
			continue
		}

		eligible = append(eligible, user)
	}

	return eligible, nil
}
