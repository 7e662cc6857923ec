package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nerrad567/notify-core/internal/auth"
)

// webhookSecretHeader carries the shared secret on broker webhook calls.
const webhookSecretHeader = "X-Webhook-Token"

// handleWebhook relays a broker lifecycle event to the webhook adapter and
// writes its terminal response verbatim.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	resp := s.webhook.Handle(r.Context(), r.Header.Get(webhookSecretHeader), body)
	writeJSON(w, resp.Status, resp.Body)
}

// handleACL answers the broker's authorisation hook.
func (s *Server) handleACL(w http.ResponseWriter, r *http.Request) {
	var req auth.ACLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	decision := s.acl.CheckTopic(req)
	if decision == auth.Deny {
		s.logger.Debug("acl denied",
			"username", req.Username,
			"client_id", req.ClientID,
			"topic", req.Topic,
			"action", req.Action,
		)
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(decision)})
}
