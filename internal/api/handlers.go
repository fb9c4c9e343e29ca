package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/driftscope/backend/internal/detect"
	"github.com/driftscope/backend/internal/model"
	"github.com/driftscope/backend/internal/store"
)

const maxEventListLimit = 500

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleDetect runs an on-demand drift scan for one user. force=true
// skips the cooldown gate.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["user_id"])
	if userID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, "force must be a boolean")
			return
		}
		force = parsed
	}

	events, err := s.detector.DetectDrift(r.Context(), userID, force)
	if err != nil {
		switch {
		case errors.Is(err, detect.ErrInsufficientData):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, detect.ErrCooldownActive):
			s.writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			s.log.Error("[API] Detection failed", "user_id", userID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "drift detection failed")
		}
		return
	}

	if events == nil {
		events = []*model.DriftEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         userID,
		"events_detected": len(events),
		"events":          events,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["user_id"])
	if userID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	filter, errMsg := parseEventFilter(r.URL.Query())
	if errMsg != "" {
		s.writeError(w, http.StatusUnprocessableEntity, errMsg)
		return
	}

	events, err := s.events.ListByUser(r.Context(), userID, filter)
	if err != nil {
		s.log.Error("[API] Event listing failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list drift events")
		return
	}
	if events == nil {
		events = []*model.DriftEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(events),
		"events":  events,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["user_id"])
	eventID := strings.TrimSpace(vars["event_id"])

	event, err := s.events.GetByID(r.Context(), eventID)
	if err != nil {
		s.log.Error("[API] Event lookup failed", "event_id", eventID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load drift event")
		return
	}
	if event == nil || event.UserID != userID {
		s.writeError(w, http.StatusNotFound, "drift event not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"event": event})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["user_id"])
	eventID := strings.TrimSpace(vars["event_id"])

	event, err := s.events.GetByID(r.Context(), eventID)
	if err != nil {
		s.log.Error("[API] Event lookup failed", "event_id", eventID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load drift event")
		return
	}
	if event == nil || event.UserID != userID {
		s.writeError(w, http.StatusNotFound, "drift event not found")
		return
	}

	now := s.clock.Now().Unix()
	if _, err := s.events.Acknowledge(r.Context(), eventID, now); err != nil {
		s.log.Error("[API] Acknowledge failed", "event_id", eventID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to acknowledge drift event")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"drift_event_id":  eventID,
		"acknowledged_at": now,
	})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.CountByStatus(r.Context())
	if err != nil {
		s.log.Error("[API] Job stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load job statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"statistics": stats})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["user_id"])
	if userID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxEventListLimit {
			s.writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 500")
			return
		}
		limit = v
	}

	jobs, err := s.jobs.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("[API] Job listing failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list scan jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.ScanJob{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(jobs),
		"jobs":    jobs,
	})
}

// parseEventFilter validates query filters; the second return is a
// non-empty message on validation failure.
func parseEventFilter(q map[string][]string) (store.EventFilter, string) {
	var f store.EventFilter
	get := func(key string) string {
		if vals := q[key]; len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}

	if raw := get("drift_type"); raw != "" {
		dt := model.DriftType(strings.ToUpper(raw))
		if !dt.Valid() {
			return f, "invalid drift_type filter"
		}
		f.DriftType = dt
	}
	if raw := get("severity"); raw != "" {
		sev := model.Severity(strings.ToUpper(raw))
		switch sev {
		case model.SeverityNone, model.SeverityWeak, model.SeverityModerate, model.SeverityStrong:
			f.Severity = sev
		default:
			return f, "invalid severity filter"
		}
	}
	if raw := get("start_date"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return f, "start_date must be a unix timestamp"
		}
		f.StartDate = v
	}
	if raw := get("end_date"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return f, "end_date must be a unix timestamp"
		}
		f.EndDate = v
	}
	if f.StartDate > 0 && f.EndDate > 0 && f.EndDate < f.StartDate {
		return f, "end_date precedes start_date"
	}
	if raw := get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxEventListLimit {
			return f, "limit must be between 1 and 500"
		}
		f.Limit = v
	}
	if raw := get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, "offset must be non-negative"
		}
		f.Offset = v
	}
	return f, ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	body["timestamp"] = s.clock.Now().Unix()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("[API] Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
