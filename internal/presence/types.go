package presence

import (
	"errors"
	"time"
)

// Status is the last known connectivity status of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Device is one broker client connection slot, keyed by the broker-assigned
// client ID. Active is true exactly when LastStatus is online.
type Device struct {
	ID                 int64      `json:"id"`
	ClientID           string     `json:"client_id"`
	UserID             *string    `json:"user_id"`
	Active             bool       `json:"active"`
	LastStatus         Status     `json:"last_status"`
	LastConnectedAt    *time.Time `json:"last_connected_at"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at,omitempty"`
	IPAddress          *string    `json:"ip_address"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// EventKind classifies a presence change.
type EventKind string

const (
	// EventConnected fires for every applied connect, including the first.
	EventConnected EventKind = "connected"

	// EventNewDeviceConnected fires additionally when the client ID was
	// seen for the first time.
	EventNewDeviceConnected EventKind = "new_device_connected"

	// EventDisconnected fires when an online device went offline.
	EventDisconnected EventKind = "disconnected"
)

// Event describes an applied presence change.
type Event struct {
	Kind      EventKind `json:"kind"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives presence events after they were committed. Observers
// run synchronously on the caller's goroutine and must not block.
type Observer interface {
	OnPresence(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnPresence calls f(e).
func (f ObserverFunc) OnPresence(e Event) { f(e) }

var (
	// ErrDeviceNotFound is returned when a client ID has no device row.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrInvalidClientID is returned for an empty client ID.
	ErrInvalidClientID = errors.New("client id is required")
)
