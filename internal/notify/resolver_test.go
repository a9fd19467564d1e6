package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	users []*models.User
	err   error
}

func (f *fakeDirectory) ListAll(ctx context.Context) ([]*models.User, error) {
	return f.users, f.err
}

type fakeSubscriptions struct {
	byUser map[string]*models.Subscription
	errFor map[string]error
}

func (f *fakeSubscriptions) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	if err, ok := f.errFor[userID]; ok {
		return nil, err
	}
	return f.byUser[userID], nil
}

func activeUser(id string) *models.User {
	return &models.User{
		ID:                   id,
		Email:                id + "@example.com",
		Role:                 models.RoleUser,
		IsActive:             true,
		NotificationsEnabled: true,
	}
}

func TestResolveEligible(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := base.Add(30 * 24 * time.Hour)
	past := base.Add(-24 * time.Hour)

	t.Run("filters by role, activity and preference", func(t *testing.T) {
		admin := activeUser("admin")
		admin.Role = models.RoleAdmin
		inactive := activeUser("inactive")
		inactive.IsActive = false
		muted := activeUser("muted")
		muted.NotificationsEnabled = false
		ok := activeUser("ok")

		subs := &fakeSubscriptions{byUser: map[string]*models.Subscription{}}
		for _, id := range []string{"admin", "inactive", "muted", "ok"} {
			subs.byUser[id] = &models.Subscription{UserID: id, Status: models.SubscriptionActive, EndDate: future}
		}

		r := NewResolver(&fakeDirectory{users: []*models.User{admin, inactive, muted, ok}}, subs)
		r.now = func() time.Time { return base }

		eligible, err := r.ResolveEligible(ctx)
		require.NoError(t, err)
		require.Len(t, eligible, 1)
		assert.Equal(t, "ok", eligible[0].ID)
	})

	t.Run("excludes expired end date even when status is active", func(t *testing.T) {
		user := activeUser("u1")
		subs := &fakeSubscriptions{byUser: map[string]*models.Subscription{
			"u1": {UserID: "u1", Status: models.SubscriptionActive, EndDate: past},
		}}

		r := NewResolver(&fakeDirectory{users: []*models.User{user}}, subs)
		r.now = func() time.Time { return base }

		eligible, err := r.ResolveEligible(ctx)
		require.NoError(t, err)
		assert.Empty(t, eligible)
	})

	t.Run("excludes non-active subscription statuses", func(t *testing.T) {
		users := []*models.User{activeUser("pending"), activeUser("expired"), activeUser("blocked")}
		subs := &fakeSubscriptions{byUser: map[string]*models.Subscription{
			"pending": {UserID: "pending", Status: models.SubscriptionPending, EndDate: future},
			"expired": {UserID: "expired", Status: models.SubscriptionExpired, EndDate: future},
			"blocked": {UserID: "blocked", Status: models.SubscriptionBlocked, EndDate: future},
		}}

		r := NewResolver(&fakeDirectory{users: users}, subs)
		r.now = func() time.Time { return base }

		eligible, err := r.ResolveEligible(ctx)
		require.NoError(t, err)
		assert.Empty(t, eligible)
	})

	t.Run("excludes users with no subscription", func(t *testing.T) {
		r := NewResolver(&fakeDirectory{users: []*models.User{activeUser("u1")}}, &fakeSubscriptions{})
		r.now = func() time.Time { return base }

		eligible, err := r.ResolveEligible(ctx)
		require.NoError(t, err)
		assert.Empty(t, eligible)
	})

	t.Run("subscription read failure excludes that user only", func(t *testing.T) {
		subs := &fakeSubscriptions{
			byUser: map[string]*models.Subscription{
				"good": {UserID: "good", Status: models.SubscriptionActive, EndDate: future},
			},
			errFor: map[string]error{"bad": errors.New("connection reset")},
		}

		r := NewResolver(&fakeDirectory{users: []*models.User{activeUser("bad"), activeUser("good")}}, subs)
		r.now = func() time.Time { return base }

		eligible, err := r.ResolveEligible(ctx)
		require.NoError(t, err)
		require.Len(t, eligible, 1)
		assert.Equal(t, "good", eligible[0].ID)
	})

	t.Run("user list failure propagates", func(t *testing.T) {
		r := NewResolver(&fakeDirectory{err: errors.New("db down")}, &fakeSubscriptions{})

		eligible, err := r.ResolveEligible(ctx)
		require.Error(t, err)
		assert.Nil(t, eligible)
	})
}
