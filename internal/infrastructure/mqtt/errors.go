package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing or subscribing while the
	// client is not connected. Callers on the notification path log it and
	// move on.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the last attempt's error once the initial
	// connection loop gives up. The client returned alongside it is usable.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish cannot be handed to the broker.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics and wildcard publish topics.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrClosed is returned by operations on a client after Disconnect.
	ErrClosed = errors.New("mqtt: client closed")
)
