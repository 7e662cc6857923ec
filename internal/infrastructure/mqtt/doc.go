// Package mqtt provides the notify-core connection to the MQTT broker.
//
// This package manages:
//   - A bounded initial connection loop with a fixed retry delay
//   - A single reconnect attempt after the connection drops
//   - Fire-and-forget publishing with background acknowledgement logging
//   - Subscriptions that survive a reconnect
//   - The retained service status topic and its Last Will
//
// # Architecture
//
// The broker (EMQX) carries notifications from the core to end-user
// devices. Each user has a private namespace "user/{id}/#"; the core
// publishes into it with backend credentials and devices subscribe to it.
//
//	HTTP API → notify-core → MQTT Broker → user devices
//
// # Degraded Mode
//
// Connect never returns a nil client. When the broker is unreachable the
// client stays disconnected and Publish fails fast with ErrNotConnected,
// so the HTTP API keeps serving and notifications are still persisted.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, creds, logger)
//	if err != nil {
//	    logger.Warn("continuing without broker", "error", err)
//	}
//	defer client.Disconnect()
//
//	topic := mqtt.Topics{}.UserTopic(userID)
//	client.Publish(topic, payload, 1)
package mqtt
