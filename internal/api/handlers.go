package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"driftsync/internal/database"
	"driftsync/internal/models"
	"driftsync/internal/queue"
	"driftsync/internal/syncengine"
)

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleEnqueue(w, r)
	case http.MethodGet:
		s.handleListPending(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OperationType string          `json:"operation_type"`
		Payload       json.RawMessage `json:"payload"`
		Priority      int             `json:"priority"`
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.queue.Enqueue(r.Context(), body.OperationType, body.Payload, body.Priority)
	if err != nil {
		if queue.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue operation")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	ops, err := s.queue.GetPendingOperations(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list pending failed")
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *HTTPServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/queue/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/resolve"); ok {
		s.handleResolveConflict(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		op, err := s.queue.GetOperation(r.Context(), rest)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "operation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load operation")
			return
		}
		writeJSON(w, http.StatusOK, op)

	case http.MethodDelete:
		if err := s.queue.Delete(r.Context(), rest); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "operation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to delete operation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleResolveConflict(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.queue.ResolveConflict(r.Context(), id, body.Resolution); err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			writeError(w, http.StatusNotFound, "operation not found")
		case errors.Is(err, queue.ErrNotConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *HTTPServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.queue.GetStats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("stats failed")
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": stats})
}

func (s *HTTPServer) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		OlderThan string `json:"older_than"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var olderThan *time.Time
	if body.OlderThan != "" {
		age, err := time.ParseDuration(body.OlderThan)
		if err != nil || age < 0 {
			writeError(w, http.StatusBadRequest, "older_than must be a duration like 24h")
			return
		}
		cutoff := time.Now().Add(-age)
		olderThan = &cutoff
	}

	removed, err := s.queue.ClearCompleted(r.Context(), olderThan)
	if err != nil {
		s.logger.Error().Err(err).Msg("clear completed failed")
		writeError(w, http.StatusInternalServerError, "failed to clear operations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *HTTPServer) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.GetStatusInfo())
}

func (s *HTTPServer) handleCheckConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	online := s.monitor.CheckConnectivity(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"online": online,
		"state":  s.monitor.GetStatusInfo(),
	})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.engine.Sync(r.Context())
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("manual sync failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"in_flight":         s.engine.InFlight(),
		"auto_sync":         s.engine.AutoSyncEnabled(),
		"conflict_strategy": s.engine.ConflictStrategy(),
		"last_result":       s.engine.LastResult(),
	})
}

func (s *HTTPServer) handleStartAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.StartAutoSync()
	writeJSON(w, http.StatusOK, map[string]bool{"auto_sync": true})
}

func (s *HTTPServer) handleStopAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.StopAutoSync()
	writeJSON(w, http.StatusOK, map[string]bool{"auto_sync": false})
}

func (s *HTTPServer) handleConflictStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.SetConflictStrategy(body.Strategy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conflict_strategy": body.Strategy})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
