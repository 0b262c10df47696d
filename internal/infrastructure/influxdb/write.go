package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-fleet/internal/events"
)

// Measurement names.
const (
	MeasurementEvents   = "device_events"
	MeasurementDispatch = "dispatch"
)

// WriteEvent records one device event.
//
// A payload in event catalogue form becomes one field per reading. Otherwise
// top-level numeric, boolean and string members of a JSON object payload
// become fields of their own. Other payloads are recorded by size only.
func (c *Client) WriteEvent(ev events.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(EventPoint(ev))
}

// WriteDispatch records one dispatch outcome.
func (c *Client) WriteDispatch(deviceID, action, outcome string, d time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(DispatchPoint(deviceID, action, outcome, d, at))
}

// EventPoint converts an event to a point.
func EventPoint(ev events.Event) *write.Point {
	fields := map[string]any{
		"seq":  ev.Seq,
		"size": len(ev.Payload),
	}

	if cat, err := ev.Decode(); err == nil && !cat.IsEmpty() {
		for _, r := range cat.Readings() {
			if _, reserved := fields[r.Name]; reserved {
				continue
			}
			switch v := r.Value.(type) {
			case uint8:
				fields[r.Name] = int64(v)
			default:
				fields[r.Name] = v
			}
		}
	} else {
		var obj map[string]any
		if json.Unmarshal(ev.Payload, &obj) == nil {
			for k, v := range obj {
				if _, reserved := fields[k]; reserved {
					continue
				}
				switch v.(type) {
				case float64, bool, string:
					fields[k] = v
				}
			}
		}
	}

	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		MeasurementEvents,
		map[string]string{
			"device_id": ev.DeviceID,
			"topic":     ev.Topic,
		},
		fields,
		at,
	)
}

// DispatchPoint converts a dispatch outcome to a point.
func DispatchPoint(deviceID, action, outcome string, d time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDispatch,
		map[string]string{
			"device_id": deviceID,
			"action":    action,
			"outcome":   outcome,
		},
		map[string]any{
			"duration_ms": float64(d) / float64(time.Millisecond),
		},
		at,
	)
}
