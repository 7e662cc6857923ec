package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish hands a message to the broker and returns without waiting for the
// acknowledgement. The wait happens in the background; a failed or timed-out
// acknowledgement is logged and never reported to the caller.
//
// Parameters:
//   - topic: Concrete topic, e.g. "user/usr-1/" (no wildcards)
//   - payload: Message body, max 1MB
//   - qos: Quality of Service level (0, 1, or 2)
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS or ErrPublishFailed for bad input,
//     ErrNotConnected or ErrClosed when the client cannot publish
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.UserTopic(userID), payload, 1)
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	cl, err := c.connectedClient()
	if err != nil {
		return err
	}

	token := cl.Publish(topic, qos, false, payload)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if !token.WaitTimeout(defaultAckTimeout) {
			c.logger.Error("mqtt publish not acknowledged", "topic", topic, "timeout", defaultAckTimeout)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		}
	}()

	return nil
}
