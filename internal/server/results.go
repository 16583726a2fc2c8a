package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/speakscore/speakscore/internal/results"
)

// writeJSON encodes v with the given status code. Encoding failures fall
// back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// notFound is the shared 404 body for unknown submission keys.
func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "submission not found"})
}

// handleListSubmissions lists the keys of all in-memory aggregates.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	keys := s.store.ListAll()
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(keys),
		"submissions": keys,
	})
}

// handleGetResults returns the normalized, ordered per-question results
// for one submission. The key is the path-escaped submission URL.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	ordered, err := s.store.GetTransformed(key)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submission_url": key,
		"finalized":      s.store.IsFinalized(key),
		"results":        ordered,
	})
}

// handleGetRaw returns the stored aggregate without normalization,
// including questions that have not reported yet.
func (s *Server) handleGetRaw(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	agg, err := s.store.GetRaw(key)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submission_url":  agg.SubmissionKey,
		"total_questions": agg.TotalQuestions,
		"received":        len(agg.Results),
		"finalized":       agg.Finalized,
		"updated_at":      agg.UpdatedAt,
		"results":         agg.Results,
	})
}

// handleClearResults drops the aggregate for one submission so a
// redelivered pipeline run can rebuild it from scratch.
func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.store.Has(key) {
		notFound(w)
		return
	}

	s.store.Clear(key)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "cleared",
		"submission_url": key,
	})
}

// handleFileSessions reports every audio file still awaiting cleanup.
func (s *Server) handleFileSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.files.ActiveSessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleForceCleanup removes one session's file regardless of pending
// dependencies.
func (s *Server) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.files.SessionInfo(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	s.files.ForceCleanup(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "cleaned",
		"session_id": id,
	})
}

// handlePeriodicCleanup runs one expiry sweep on demand.
func (s *Server) handlePeriodicCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := s.files.PeriodicCleanup()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"cleaned": cleaned,
	})
}

// handlePurgePending drops retained fan-in and fan-out state whose
// retention window has expired.
func (s *Server) handlePurgePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"purged_questions": s.coord.Purge(),
		"purged_analyses":  s.orch.Purge(),
	})
}

// handleFinalize re-runs finalization for a submission whose earlier
// attempt exhausted its retry budget.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	agg, err := s.store.GetRaw(key)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := s.agg.Finalize(r.Context(), key, agg.TotalQuestions); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "finalized",
		"submission_url": key,
	})
}
