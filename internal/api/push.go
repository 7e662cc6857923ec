package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/notify-core/internal/push"
)

type registerPushDeviceRequest struct {
	Token    string        `json:"token"`
	Platform push.Platform `json:"platform"`
	Name     string        `json:"name"`
}

type unregisterPushDeviceRequest struct {
	Token string `json:"token"`
}

// handleListPushDevices returns the caller's push registrations.
func (s *Server) handleListPushDevices(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeUnavailable(w, "push notifications are not configured")
		return
	}
	claims := claimsFromContext(r.Context())

	devices, err := s.push.Devices(r.Context(), claims.Subject)
	if err != nil {
		s.logger.Error("list push devices failed", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to list push devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleRegisterPushDevice stores a push token for the caller. A token
// registered by another user moves to the caller.
func (s *Server) handleRegisterPushDevice(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeUnavailable(w, "push notifications are not configured")
		return
	}
	claims := claimsFromContext(r.Context())

	var req registerPushDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &push.Device{UserID: claims.Subject, Token: req.Token, Platform: req.Platform, Name: req.Name}
	if err := s.push.Register(r.Context(), d); err != nil {
		if errors.Is(err, push.ErrInvalidToken) || errors.Is(err, push.ErrInvalidPlatform) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("register push device failed", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to register push device")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleUnregisterPushDevice removes one of the caller's push tokens.
func (s *Server) handleUnregisterPushDevice(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeUnavailable(w, "push notifications are not configured")
		return
	}
	claims := claimsFromContext(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		var req unregisterPushDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "token is required")
			return
		}
		token = req.Token
	}
	if token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	if err := s.push.Unregister(r.Context(), claims.Subject, token); err != nil {
		if errors.Is(err, push.ErrDeviceNotFound) {
			writeNotFound(w, "push device not found")
			return
		}
		s.logger.Error("unregister push device failed", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to unregister push device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
