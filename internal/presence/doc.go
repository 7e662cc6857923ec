// Package presence keeps the authoritative record of which broker clients
// are connected and who owns them.
//
// Broker webhooks deliver connect and disconnect events at least once and
// possibly out of order. The Store applies them so that a replay converges
// to the same state:
//
//   - RecordConnected upserts the device keyed by client ID
//   - RecordDisconnected only touches an online device with the same owner
//   - Events naming an unknown user are ignored
//   - Device rows are never deleted
//
// Committed changes are published to registered Observers, which feed the
// live WebSocket presence stream and the optional InfluxDB metrics.
package presence
