package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	events []*models.ATHEvent
	err    error
}

func (f *fakeEvents) Recent(ctx context.Context, limit int) ([]*models.ATHEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type fakeQueueAdmin struct {
	failed   []*models.DeadLetterRecord
	depth    int64
	retried  []string
	retryErr error
}

func (f *fakeQueueAdmin) ListFailed(ctx context.Context) ([]*models.DeadLetterRecord, error) {
	return f.failed, nil
}

func (f *fakeQueueAdmin) RetryFailed(ctx context.Context, jobID string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retried = append(f.retried, jobID)
	return nil
}

func (f *fakeQueueAdmin) Depth(ctx context.Context) (int64, error) {
	return f.depth, nil
}

type fakeStats struct {
	stats []storage.DeliveryStats
}

func (f *fakeStats) Stats(ctx context.Context, since time.Time) ([]storage.DeliveryStats, error) {
	return f.stats, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()
	if cfg.Events == nil {
		cfg.Events = &fakeEvents{}
	}
	if cfg.Queue == nil {
		cfg.Queue = &fakeQueueAdmin{}
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)
	return server
}

func doRequest(server *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy when all dependencies respond", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{
			Deps: map[string]Pinger{"redis": &fakePinger{}, "clickhouse": &fakePinger{}},
		})

		rec := doRequest(server, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("degraded when a dependency fails", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{
			Deps: map[string]Pinger{
				"redis":      &fakePinger{},
				"clickhouse": &fakePinger{err: errors.New("connection refused")},
			},
		})

		rec := doRequest(server, http.MethodGet, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestHandleRecentEvents(t *testing.T) {
	events := []*models.ATHEvent{
		{ID: "evt-1", CryptoID: "bitcoin", NewATH: 70000, PreviousATH: 69000},
		{ID: "evt-2", CryptoID: "ethereum", NewATH: 5000, PreviousATH: 4900},
	}
	server := newTestServer(t, &ServerConfig{Events: &fakeEvents{events: events}})

	t.Run("returns events", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/events/recent")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Events []*models.ATHEvent `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Events, 2)
	})

	t.Run("honors limit", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/events/recent?limit=1")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Events []*models.ATHEvent `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Events, 1)
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		for _, limit := range []string{"0", "-1", "999", "abc"} {
			rec := doRequest(server, http.MethodGet, "/api/v1/events/recent?limit="+limit)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{Events: &fakeEvents{err: errors.New("redis down")}})
		rec := doRequest(server, http.MethodGet, "/api/v1/events/recent")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleFailedJobs(t *testing.T) {
	t.Run("lists dead letters with queue depth", func(t *testing.T) {
		queue := &fakeQueueAdmin{
			failed: []*models.DeadLetterRecord{{
				Job:    models.QueuedEmailJob{ID: "job-1", Type: models.JobATHNotification, Attempts: 3},
				Reason: "provider send failed with status 500",
			}},
			depth: 7,
		}
		server := newTestServer(t, &ServerConfig{Queue: queue})

		rec := doRequest(server, http.MethodGet, "/api/v1/emails/failed")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Failed     []*models.DeadLetterRecord `json:"failed"`
			QueueDepth int64                      `json:"queueDepth"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Failed, 1)
		assert.Equal(t, "job-1", body.Failed[0].Job.ID)
		assert.Equal(t, int64(7), body.QueueDepth)
	})

	t.Run("retry requeues the job", func(t *testing.T) {
		queue := &fakeQueueAdmin{}
		server := newTestServer(t, &ServerConfig{Queue: queue})

		rec := doRequest(server, http.MethodPost, "/api/v1/emails/failed/job-1/retry")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"job-1"}, queue.retried)
	})

	t.Run("retry of unknown job is a 404", func(t *testing.T) {
		queue := &fakeQueueAdmin{retryErr: errors.New("dead letter not found: nope")}
		server := newTestServer(t, &ServerConfig{Queue: queue})

		rec := doRequest(server, http.MethodPost, "/api/v1/emails/failed/nope/retry")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleStats(t *testing.T) {
	t.Run("answers 503 without an archive", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{})
		rec := doRequest(server, http.MethodGet, "/api/v1/stats")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("returns aggregated stats", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{
			Stats: &fakeStats{stats: []storage.DeliveryStats{
				{JobType: "ath_notification", Status: string(storage.DeliverySent), Count: 42},
			}},
		})

		rec := doRequest(server, http.MethodGet, "/api/v1/stats")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Stats []storage.DeliveryStats `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Stats, 1)
		assert.Equal(t, uint64(42), body.Stats[0].Count)
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		server := newTestServer(t, &ServerConfig{Stats: &fakeStats{}})
		rec := doRequest(server, http.MethodGet, "/api/v1/stats?since=yesterday")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
