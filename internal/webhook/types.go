package webhook

import (
	"context"
	"net/http"
)

// Broker lifecycle event names.
const (
	EventClientConnected    = "client.connected"
	EventClientDisconnected = "client.disconnected"
)

// Response is the terminal outcome of one webhook call.
type Response struct {
	Status int
	Body   map[string]string
}

var (
	respSuccess      = Response{Status: http.StatusOK, Body: map[string]string{"status": "success"}}
	respForbidden    = Response{Status: http.StatusForbidden, Body: map[string]string{"error": "Forbidden"}}
	respInvalidJSON  = Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "Invalid JSON"}}
	respInvalidData  = Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "Invalid data"}}
	respUnknownEvent = Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "Unknown event"}}
	respInternal     = Response{Status: http.StatusInternalServerError, Body: map[string]string{"error": "Internal error"}}
)

// Authenticator verifies the shared webhook secret. *auth.AccessControl
// implements it.
type Authenticator interface {
	VerifyWebhookSecret(header string) error
}

// PresenceRecorder applies lifecycle events. *presence.Store implements it.
type PresenceRecorder interface {
	RecordConnected(ctx context.Context, userID, clientID, ip string) error
	RecordDisconnected(ctx context.Context, userID, clientID string) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Event is a decoded lifecycle event.
type Event struct {
	Name     string
	ClientID string
	UserID   string
	IP       string
}
