package emqx

import "errors"

var (
	// ErrInvalidConfig is returned when the management API settings are unusable.
	ErrInvalidConfig = errors.New("emqx: invalid configuration")

	// ErrUnauthorized is returned when the API key is rejected.
	ErrUnauthorized = errors.New("emqx: unauthorized")

	// ErrRequestFailed is returned when the API call fails or answers badly.
	ErrRequestFailed = errors.New("emqx: request failed")
)
