package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/presence"
)

// handleListOnline returns the online presence rows for a workspace.
func (s *Server) handleListOnline(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	records, err := s.presence.ListOnline(workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "presence_query_failed", err.Error())
		return
	}
	if records == nil {
		records = []presence.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": workspaceID,
		"online":       records,
	})
}

type notificationIntakeRequest struct {
	UserID  string         `json:"user_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// handleNotificationIntake persists a notification and forwards it to the
// owning user's channel. This is the one place non-presence business logic
// reaches the dispatcher.
func (s *Server) handleNotificationIntake(w http.ResponseWriter, r *http.Request) {
	var req notificationIntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "user_id is required")
		return
	}
	if req.Kind == "" {
		req.Kind = "generic"
	}

	record, err := s.notify.Create(req.UserID, req.Kind, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "notification_create_failed", err.Error())
		return
	}

	report := s.realtime.NotifyUser(req.UserID, map[string]any{
		"id":      record.ID,
		"kind":    record.Kind,
		"payload": record.Payload,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"notification": record,
		"delivery":     report,
	})
}

// handleListUnread returns a user's unread notifications for reconnect
// re-fetch.
func (s *Server) handleListUnread(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	records, err := s.notify.ListUnread(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "notification_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"unread":  records,
	})
}

type entityEventRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Action      string         `json:"action"`
	Payload     map[string]any `json:"payload"`
}

// handleEntityEvent broadcasts an entity change to its workspace channel.
func (s *Server) handleEntityEvent(w http.ResponseWriter, r *http.Request) {
	var req entityEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.WorkspaceID == "" || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "workspace_id and entity_id are required")
		return
	}

	s.realtime.NotifyEntityUpdated(req.WorkspaceID, map[string]any{
		"entity_type": req.EntityType,
		"entity_id":   req.EntityID,
		"action":      req.Action,
		"payload":     req.Payload,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleStats returns hub statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.realtime.Stats())
}

// handleLogs serves the in-memory log buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	buffer := log.Buffer()
	if buffer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"lines": []string{}})
		return
	}

	n := buffer.Capacity()
	if q := r.URL.Query().Get("n"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": buffer.Lines(n)})
}
