package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net"

	"github.com/nerrad567/notify-core/internal/auth"
)

// Handler turns broker webhook calls into Presence Store updates.
type Handler struct {
	auth     Authenticator
	presence PresenceRecorder
	logger   Logger
}

// NewHandler creates a webhook handler.
func NewHandler(a Authenticator, p PresenceRecorder) *Handler {
	return &Handler{auth: a, presence: p, logger: noopLogger{}}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// Handle processes one webhook call and returns its single terminal
// response. Checks run in a fixed order and the first failure wins:
//
//  1. shared secret (403 Forbidden)
//  2. body is a JSON object (400 Invalid JSON)
//  3. event, client ID and user present (400 Invalid data)
//  4. the backend's own client is acknowledged without a state change
//  5. event dispatch (400 Unknown event)
func (h *Handler) Handle(ctx context.Context, secretHeader string, body []byte) Response {
	if err := h.auth.VerifyWebhookSecret(secretHeader); err != nil {
		h.logger.Warn("webhook rejected, bad secret")
		return respForbidden
	}

	// Numbers stay json.Number so large integer IDs keep every digit.
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil || dec.More() {
		return respInvalidJSON
	}

	ev, ok := decodeEvent(fields)
	if !ok {
		return respInvalidData
	}

	if auth.IsBackendSubject(ev.UserID) {
		return respSuccess
	}

	return h.apply(ctx, ev)
}

// apply dispatches a validated event to the Presence Store.
func (h *Handler) apply(ctx context.Context, ev Event) Response {
	var err error
	switch ev.Name {
	case EventClientConnected:
		err = h.presence.RecordConnected(ctx, ev.UserID, ev.ClientID, ev.IP)
	case EventClientDisconnected:
		err = h.presence.RecordDisconnected(ctx, ev.UserID, ev.ClientID)
	default:
		h.logger.Debug("unknown webhook event", "event", ev.Name)
		return respUnknownEvent
	}
	if err != nil {
		h.logger.Error("applying webhook event failed", "event", ev.Name, "client_id", ev.ClientID, "error", err)
		return respInternal
	}
	return respSuccess
}

// decodeEvent extracts the event fields, accepting both the EMQX rule
// engine names and the short names.
func decodeEvent(fields map[string]any) (Event, bool) {
	ev := Event{
		Name:     stringField(fields, "event"),
		ClientID: idField(fields, "clientid", "client_id"),
		UserID:   idField(fields, "user_id", "username"),
		IP:       stringField(fields, "ip_address", "ipaddress"),
	}
	if ev.IP == "" {
		ev.IP = peerHost(stringField(fields, "peername"))
	}
	if ev.Name == "" || ev.ClientID == "" || ev.UserID == "" {
		return Event{}, false
	}
	return ev, true
}

// stringField returns the first non-empty string among keys.
func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// idField is stringField that also accepts integer JSON numbers, which
// some broker setups send for numeric user IDs.
func idField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			if _, err := v.Int64(); err == nil {
				return v.String()
			}
		}
	}
	return ""
}

// peerHost returns the host part of a "host:port" peer name.
func peerHost(peer string) string {
	if peer == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		return peer
	}
	return host
}
