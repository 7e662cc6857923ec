package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Message is an immutable notification as submitted by a sender.
type Message struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedBy *string         `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Delivery records that a message was attributed to a recipient. It is
// written before any channel is tried and says nothing about whether a
// device received it.
type Delivery struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	UserID      string    `json:"user_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// InboxItem is a message as seen by one recipient.
type InboxItem struct {
	Message
	DeliveredAt time.Time `json:"delivered_at"`
}

// SendRequest describes one notification fan-out.
type SendRequest struct {
	Title string
	Body  string
	Data  json.RawMessage

	// UserIDs selects the recipients. Unknown IDs are skipped. When empty,
	// every active user is a recipient unless ActiveOnly is set.
	UserIDs []string

	// ActiveOnly targets the owners of currently connected devices. It is
	// ignored when UserIDs is non-empty.
	ActiveOnly bool

	// Sender is the user ID of the author, empty for system messages.
	Sender string
}

// mqttPayload is the body published on a recipient's topic.
type mqttPayload struct {
	MsgID string `json:"msg_id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

var (
	// ErrEmptyMessage is returned when title, body and data are all empty.
	ErrEmptyMessage = errors.New("title, body or data is required")

	// ErrInvalidData is returned when data is not valid JSON.
	ErrInvalidData = errors.New("data must be valid JSON")
)

// hasData reports whether raw carries a value. null, "", {} and [] count
// as empty.
func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", `""`, "{}", "[]":
		return false
	}

	// Whitespace inside an empty container still counts as empty.
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		switch x := v.(type) {
		case map[string]any:
			return len(x) > 0
		case []any:
			return len(x) > 0
		}
	}
	return true
}
