// Package influxdb records notify-core metrics in InfluxDB.
//
// A Recorder writes two measurements through the batching writer of
// influxdb-client-go v2:
//   - device_presence: one point per committed connect or disconnect
//   - notification_dispatch: one point per notification fan-out
//
// Metrics are optional. Open returns ErrDisabled when they are turned off
// and ErrUnreachable when the server does not answer, and every method is
// a no-op on a nil *Recorder:
//
//	rec, err := influxdb.Open(ctx, cfg.InfluxDB, logger)
//	if err != nil {
//	    logger.Warn("metrics disabled", "error", err)
//	}
//	defer rec.Close()
//
//	rec.WritePresence("connected", userID, clientID, time.Now())
package influxdb
