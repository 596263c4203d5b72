package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 200
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"reachable": watch.IsReachable(s.deps.Bridge),
	})
}

// handleNextWorkout returns the resolved snapshot, or null when nothing is
// pending today.
func (s *Server) handleNextWorkout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Watch.NextWorkout(r.Context()))
}

type pushResult struct {
	Snapshot  *watch.WorkoutSnapshot `json:"snapshot"`
	Delivered bool                   `json:"delivered"`
	Error     string                 `json:"error,omitempty"`
}

// handlePush resolves and pushes the next workout. A push that could not be
// delivered still returns 200; the companion picks up the next one.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Watch.RefreshWatch(r.Context())
	res := pushResult{Snapshot: snap, Delivered: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Watch.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxSessionLimit)
	}

	student, err := s.deps.History.GetStudent(r.Context(), s.deps.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if student == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "student not found"})
		return
	}

	sessions, err := s.deps.History.RecentSessions(r.Context(), student.ID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDebugLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Bridge.ReadDebugLogs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleClearDebugLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Bridge.ClearDebugLogs(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatchLink(w http.ResponseWriter, r *http.Request) {
	if s.deps.Link == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "companion link not available"})
		return
	}
	s.log.Info("companion link requested", "remote", r.RemoteAddr, "login", loginFromContext(r))
	s.deps.Link.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
