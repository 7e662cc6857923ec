package push

import (
	"context"
	"errors"
	"time"
)

// Platform is the client platform of a push registration.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// IsValidPlatform reports whether p is a known platform.
func IsValidPlatform(p Platform) bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	}
	return false
}

// Device is a push registration token owned by a user.
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Token      string    `json:"token"`
	Platform   Platform  `json:"platform"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Notification is the channel-neutral content of one push.
//
// When Data is non-nil the push is sent as a high-priority data message
// carrying msg_id, title, body and the data entries; otherwise it is a
// display notification with title and body.
type Notification struct {
	MessageID string
	Title     string
	Body      string
	Data      map[string]string
}

// Result summarises a send to a set of tokens.
type Result struct {
	Success int
	Failure int

	// Unregistered lists tokens the push service reported as no longer
	// valid. They should be removed.
	Unregistered []string
}

// Sender delivers a notification to registration tokens. Implementations
// are the Firebase sender and NoopSender.
type Sender interface {
	Send(ctx context.Context, tokens []string, n Notification) (Result, error)
}

// NoopSender is the Sender used when no push channel is configured. It
// accepts everything and delivers nothing.
type NoopSender struct{}

// Send implements Sender.
func (NoopSender) Send(_ context.Context, tokens []string, _ Notification) (Result, error) {
	return Result{Success: len(tokens)}, nil
}

var (
	// ErrDeviceNotFound is returned when a token is not registered to the user.
	ErrDeviceNotFound = errors.New("push device not found")

	// ErrInvalidToken is returned for an empty registration token.
	ErrInvalidToken = errors.New("push token is required")

	// ErrInvalidPlatform is returned for an unknown platform.
	ErrInvalidPlatform = errors.New("invalid push platform")

	// ErrSendFailed is returned when some or all tokens could not be reached.
	ErrSendFailed = errors.New("push send failed")
)
