package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taranggg/lms-sub000/internal/middleware"
	"github.com/taranggg/lms-sub000/internal/models"
)

const dateLayout = "2006-01-02"

type SessionService interface {
	Join(ctx context.Context, trainerID string, meta models.ClientMeta) (*models.TrainerSession, bool, error)
	Heartbeat(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error)
	End(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error)
	History(ctx context.Context, filter models.SessionFilter) ([]*models.TrainerSession, error)
}

type SessionHandler struct {
	sessions SessionService
	loc      *time.Location
}

func NewSessionHandler(sessions SessionService, loc *time.Location) *SessionHandler {
	if loc == nil {
		loc = time.Local
	}
	return &SessionHandler{sessions: sessions, loc: loc}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrainerID string `json:"trainerId"`
		Device    string `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	trainerID := strings.TrimSpace(req.TrainerID)
	if trainerID == "" {
		trainerID = middleware.GetUserID(r.Context())
	}
	device := req.Device
	if device == "" {
		device = r.UserAgent()
	}

	session, resumed, err := h.sessions.Join(r.Context(), trainerID, models.ClientMeta{
		IPAddress: remoteIP(r),
		Device:    device,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"sessionId": session.ID,
		"resumed":   resumed,
	})
}

func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Heartbeat(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"lastActiveAt": session.LastActiveAt,
	})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.End(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var duration int64
	if session.DurationMs != nil {
		duration = *session.DurationMs
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"duration": duration,
		"status":   session.Status,
	})
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SessionFilter{TrainerID: strings.TrimSpace(q.Get("trainerId"))}

	for _, bound := range []struct {
		param string
		dst   **time.Time
	}{
		{"startDate", &filter.StartDate},
		{"endDate", &filter.EndDate},
	} {
		raw := q.Get(bound.param)
		if raw == "" {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, raw, h.loc)
		if err != nil {
			validationFailed(w, r, bound.param, "must be a date in YYYY-MM-DD format")
			return
		}
		*bound.dst = &day
	}

	sessions, err := h.sessions.History(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    sessions,
	})
}

func (h *SessionHandler) decodeSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return uuid.Nil, false
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		validationFailed(w, r, "sessionId", "must be a valid session id")
		return uuid.Nil, false
	}
	return id, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
