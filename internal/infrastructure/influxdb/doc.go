// Package influxdb records the fleet's time series in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - device_events: one point per aggregated device event, tagged with
//     device and topic, with top-level JSON payload members as fields
//   - dispatch: one point per dispatch attempt, tagged with device, action
//     and outcome, with the latency as a field
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEvent(ev)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); batch
// failures reach the SetOnError callback wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
