package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coinspree/ath-notifier/internal/market"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/notify"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	snapshot *market.Snapshot
	err      error
}

func (f *fakeMarket) FetchRanked(ctx context.Context, offset, count int) (*market.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeResolver struct {
	users []*models.User
}

func (f *fakeResolver) ResolveEligible(ctx context.Context) ([]*models.User, error) {
	return f.users, nil
}

type capturingEnqueuer struct {
	mu   sync.Mutex
	jobs []capturedJob
}

type capturedJob struct {
	jobType   models.EmailJobType
	recipient models.User
	payload   interface{}
}

func (c *capturingEnqueuer) Enqueue(ctx context.Context, jobType models.EmailJobType, recipient models.User, payload interface{}, delay time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, capturedJob{jobType: jobType, recipient: recipient, payload: payload})
	return "job-id", nil
}

type capturingLog struct {
	mu      sync.Mutex
	entries []*models.UserNotificationLogEntry
}

func (c *capturingLog) Append(ctx context.Context, entry *models.UserNotificationLogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

type serviceFixture struct {
	service  *Service
	states   *storage.AssetStateRepository
	events   *storage.EventRepository
	market   *fakeMarket
	enqueuer *capturingEnqueuer
	log      *capturingLog
	mr       *miniredis.Miniredis
}

func setupTestService(t *testing.T, users []*models.User) *serviceFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisStore := storage.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	states := storage.NewAssetStateRepository(redisStore)
	events := storage.NewEventRepository(redisStore)

	fm := &fakeMarket{}
	enqueuer := &capturingEnqueuer{}
	log := &capturingLog{}

	service, err := NewService(&ServiceConfig{
		Market:    fm,
		Engine:    NewEngine(states),
		Gate:      NewFrequencyGate(states, 5*time.Minute),
		Resolver:  &fakeResolver{users: users},
		Fanout:    notify.NewFanout(enqueuer, log, 50, time.Millisecond),
		Events:    events,
		TopAssets: 100,
	})
	require.NoError(t, err)

	return &serviceFixture{
		service:  service,
		states:   states,
		events:   events,
		market:   fm,
		enqueuer: enqueuer,
		log:      log,
		mr:       mr,
	}
}

func TestRunDetectionTickScenario(t *testing.T) {
	ctx := context.Background()

	users := []*models.User{
		{ID: "u1", Email: "one@example.com", Role: models.RoleUser, IsActive: true, NotificationsEnabled: true},
		{ID: "u2", Email: "two@example.com", Role: models.RoleUser, IsActive: true, NotificationsEnabled: true},
	}
	f := setupTestService(t, users)

	require.NoError(t, f.states.SetATH(ctx, "bitcoin", 69000, time.Now()))
	f.market.snapshot = &market.Snapshot{
		Assets: []models.CryptoAsset{{
			ID: "bitcoin", Symbol: "btc", Name: "Bitcoin",
			CurrentPrice: 70000, ATH: 70000,
		}},
		FetchedAt: time.Now(),
	}

	result, err := f.service.RunDetectionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssetsScanned)
	assert.Equal(t, 1, result.EventsDetected)
	assert.Equal(t, 1, result.EventsNotified)
	assert.Equal(t, 2, result.Recipients)

	events, err := f.events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bitcoin", events[0].CryptoID)
	assert.Equal(t, 70000.0, events[0].NewATH)
	assert.Equal(t, 69000.0, events[0].PreviousATH)
	assert.Equal(t, 2, events[0].RecipientCount)

	require.Len(t, f.enqueuer.jobs, 2)
	for _, job := range f.enqueuer.jobs {
		assert.Equal(t, models.JobATHNotification, job.jobType)
		payload, ok := job.payload.(*models.ATHNotificationData)
		require.True(t, ok)
		assert.InDelta(t, 1.45, payload.PercentageIncrease, 0.01)
	}
	assert.Len(t, f.log.entries, 2)

	lastNotified, err := f.states.LastNotifiedAt(ctx, "bitcoin")
	require.NoError(t, err)
	assert.False(t, lastNotified.IsZero())

	// Same data again: state already holds the new ATH, nothing fires.
	result, err = f.service.RunDetectionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventsDetected)
	assert.Len(t, f.enqueuer.jobs, 2)
}

func TestRunDetectionTickFrequencyGateSuppression(t *testing.T) {
	ctx := context.Background()

	users := []*models.User{
		{ID: "u1", Email: "one@example.com", Role: models.RoleUser, IsActive: true, NotificationsEnabled: true},
	}
	f := setupTestService(t, users)

	f.market.snapshot = &market.Snapshot{
		Assets: []models.CryptoAsset{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 70000, ATH: 70000}},
	}
	_, err := f.service.RunDetectionTick(ctx)
	require.NoError(t, err)
	require.Len(t, f.enqueuer.jobs, 1)

	// A higher peak inside the cooldown is detected but not notified.
	f.market.snapshot = &market.Snapshot{
		Assets: []models.CryptoAsset{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 71000, ATH: 71000}},
	}
	result, err := f.service.RunDetectionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsDetected)
	assert.Equal(t, 0, result.EventsNotified)
	assert.Len(t, f.enqueuer.jobs, 1)

	// The suppressed peak still advanced the stored state.
	state, err := f.states.Get(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 71000.0, state.ATH)
}

func TestRunDetectionTickStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, nil)

	f.market.snapshot = &market.Snapshot{
		Assets: []models.CryptoAsset{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 70000, ATH: 70000}},
		Stale:  true,
	}

	result, err := f.service.RunDetectionTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsDetected)
	assert.Equal(t, 0, result.EventsNotified)
	assert.Empty(t, f.enqueuer.jobs)

	events, err := f.events.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRunDetectionTickMarketFailure(t *testing.T) {
	ctx := context.Background()
	f := setupTestService(t, nil)

	f.market.err = assert.AnError

	result, err := f.service.RunDetectionTick(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, result.EventsDetected)
}
