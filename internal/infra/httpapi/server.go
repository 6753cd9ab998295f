package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"study_engagement_bot/internal/app"
	"study_engagement_bot/internal/domain/participant"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Ledger is the slice of the engagement ledger the ingress adapter calls.
type Ledger interface {
	RecordActivity(ctx context.Context, chatID string, isActive bool, occurredAt time.Time) (*app.ActivityResult, error)
	RecordAnswer(ctx context.Context, chatID string, questionID string) error
}

// NewRouter builds the ingress HTTP router. The tracking pixel in the study
// app calls /track_active_day; the survey platform calls /survey_completed on
// completion; the uptime monitor polls /.
func NewRouter(ledger Ledger, baseLogger *logrus.Entry) *mux.Router {
	h := &handlers{ledger: ledger, logger: baseLogger.WithField("handler_group", "httpapi")}

	r := mux.NewRouter()
	r.HandleFunc("/track_active_day", h.trackActiveDay).Methods(http.MethodGet)
	r.HandleFunc("/survey_completed", h.surveyCompleted).Methods(http.MethodGet)
	r.HandleFunc("/", h.healthCheck).Methods(http.MethodGet, http.MethodPost)
	return r
}

type handlers struct {
	ledger Ledger
	logger *logrus.Entry
}

func (h *handlers) trackActiveDay(w http.ResponseWriter, req *http.Request) {
	studyID := req.URL.Query().Get("STUDY_ID")
	if studyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing STUDY_ID"})
		return
	}
	active := req.URL.Query().Get("active") == "true"

	logCtx := h.logger.WithField("chat_id", studyID).WithField("active", active)

	res, err := h.ledger.RecordActivity(req.Context(), studyID, active, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, participant.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Participant not found"})
		case errors.Is(err, app.ErrRetryable):
			logCtx.WithError(err).Warn("Activity report deferred, asking caller to retry")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Temporarily unavailable, please retry"})
		default:
			logCtx.WithError(err).Error("Activity report failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record activity"})
		}
		return
	}

	switch {
	case active && res.NewlyActiveToday:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Active day recorded",
			"active_days": res.ActiveDayCount,
		})
	case active:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Today has already been counted as an active day",
			"active_days": res.ActiveDayCount,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "Tracking updated successfully",
			"STUDY_ID": studyID,
			"active":   active,
		})
	}
}

func (h *handlers) surveyCompleted(w http.ResponseWriter, req *http.Request) {
	studyID := req.URL.Query().Get("STUDY_ID")
	questionID := req.URL.Query().Get("QUESTION_ID")
	if studyID == "" || questionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing STUDY_ID or QUESTION_ID"})
		return
	}

	err := h.ledger.RecordAnswer(req.Context(), studyID, questionID)
	if err != nil {
		switch {
		case errors.Is(err, participant.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Participant or question not found"})
		case errors.Is(err, app.ErrRetryable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Temporarily unavailable, please retry"})
		default:
			h.logger.WithError(err).WithField("chat_id", studyID).Error("Answer callback failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record answer"})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Answer recorded"})
}

// healthCheck mirrors the uptime-monitor contract: a plain GET reports status,
// a POST must carry a "monitoring" field to be acknowledged.
func (h *handlers) healthCheck(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Bot is running"})
		return
	}

	var body map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid request"})
		return
	}
	if _, ok := body["monitoring"]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Monitoring request received"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
