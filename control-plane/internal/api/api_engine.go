package api

import (
	"context"
	"net/http"
	"strconv"
)

// defaultRepairLimit caps ?source=store reads without a limit.
const defaultRepairLimit = 100

// =============================================================================
// STATE
// =============================================================================

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot().Components)
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot().Issues)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot().Alerts)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot().Actions)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot().Prediction)
}

// handleRepairs returns the in-memory log, or the durable one with
// ?source=store.
func (s *Server) handleRepairs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if r.URL.Query().Get("source") == "store" {
		if s.history == nil {
			s.writeError(w, http.StatusServiceUnavailable, "repair history store not configured")
			return
		}
		if limit == 0 {
			limit = defaultRepairLimit
		}
		entries, err := s.history.ListRepairs(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list repairs", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list repairs")
			return
		}
		s.writeJSON(w, http.StatusOK, entries)
		return
	}

	snap := s.engine.Snapshot()
	entries := snap.RepairLog
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":      entries,
		"success_rate": snap.SuccessRate,
	})
}

// =============================================================================
// CONTROL
// =============================================================================

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleToggle(set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toggleRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Enabled == nil {
			s.writeError(w, http.StatusBadRequest, "enabled is required")
			return
		}

		set(*req.Enabled)
		s.logger.Info("toggle changed", "path", r.URL.Path, "enabled", *req.Enabled)
		s.writeJSON(w, http.StatusOK, s.engine.Flags())
	}
}

func (s *Server) handleRunCycle(run func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := run(r.Context()); err != nil {
			s.writeEngineError(w, err)
			return
		}
		snap := s.engine.Snapshot()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":        "completed",
			"system_health": snap.SystemHealth,
			"issues":        len(snap.Issues),
			"actions":       len(snap.Actions),
		})
	}
}

func (s *Server) handleExecute(start func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := start(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"id":     id,
		})
	}
}
