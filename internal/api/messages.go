package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/notify-core/internal/notification"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 500
)

type sendMessageRequest struct {
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Data       json.RawMessage `json:"data,omitempty"`
	UserIDs    []string        `json:"user_ids,omitempty"`
	ActiveOnly bool            `json:"active_only,omitempty"`
}

// handleSendMessage stores a notification and fans it out. Any
// authenticated caller may send; an empty user_ids list addresses every
// active user.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	n, err := s.dispatcher.Send(r.Context(), notification.SendRequest{
		Title:      req.Title,
		Body:       req.Body,
		Data:       req.Data,
		UserIDs:    req.UserIDs,
		ActiveOnly: req.ActiveOnly,
		Sender:     claims.Subject,
	})
	switch {
	case errors.Is(err, notification.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Title or body are required"})
		return
	case errors.Is(err, notification.ErrInvalidData):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		s.logger.Error("send notification failed", "sender", claims.Subject, "error", err)
		writeInternalError(w, "failed to send notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Notifications sent successfully",
		"recipients": n,
	})
}

// handleListMessages returns the caller's inbox, newest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	limit := defaultInboxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInboxLimit)
	}

	items, err := s.dispatcher.Inbox(r.Context(), claims.Subject, limit)
	if err != nil {
		s.logger.Error("list messages failed", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": items,
		"count":    len(items),
	})
}
