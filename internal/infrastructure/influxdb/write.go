package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPresence = "device_presence"
	MeasurementDispatch = "notification_dispatch"
)

// disconnectedKind is the presence event kind that marks a device offline.
const disconnectedKind = "disconnected"

// WritePresence records one presence transition. kind is the event name
// ("connected" or "disconnected"); userID may be empty for rows closed by
// reconciliation.
func (r *Recorder) WritePresence(kind, userID, clientID string, at time.Time) {
	online := 1
	if kind == disconnectedKind {
		online = 0
	}

	point := write.NewPointWithMeasurement(MeasurementPresence).
		AddTag("event", kind).
		AddField("client_id", clientID).
		AddField("online", online).
		SetTime(at)
	if userID != "" {
		point.AddTag("user_id", userID)
	}
	r.write(point)
}

// DispatchStats summarises one notification fan-out.
type DispatchStats struct {
	MessageID       string
	Recipients      int
	PublishFailures int
	PushFailures    int
	Duration        time.Duration
}

// WriteDispatch records the outcome of one notification send.
func (r *Recorder) WriteDispatch(stats DispatchStats) {
	r.write(write.NewPointWithMeasurement(MeasurementDispatch).
		AddField("message_id", stats.MessageID).
		AddField("recipients", stats.Recipients).
		AddField("publish_failures", stats.PublishFailures).
		AddField("push_failures", stats.PushFailures).
		AddField("duration_ms", stats.Duration.Milliseconds()).
		SetTime(time.Now()))
}
