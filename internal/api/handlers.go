package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth pings every registered dependency and reports per-dependency
// status. Any failing dependency degrades the overall status to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps))
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "healthy"
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 200")
			return
		}
		limit = parsed
	}

	events, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list recent events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	records, err := s.queue.ListFailed(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list dead letters")
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		depth = -1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failed":     records,
		"queueDepth": depth,
	})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if err := s.queue.RetryFailed(r.Context(), jobID); err != nil {
		s.logger.WithError(err).WithField("job", jobID).Error("Failed to retry dead letter")
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "jobId": jobID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery archive not configured")
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	stats, err := s.stats.Stats(r.Context(), since)
	if err != nil {
		s.logger.WithError(err).Error("Failed to query delivery stats")
		writeError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since": since,
		"stats": stats,
	})
}
