package influxdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// History query bounds.
const (
	defaultHistoryWindow = time.Hour
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 1000
)

// EventRecord is one stored device event.
type EventRecord struct {
	Time     time.Time      `json:"time"`
	DeviceID string         `json:"device_id"`
	Topic    string         `json:"topic"`
	Seq      uint64         `json:"seq"`
	Size     int64          `json:"size"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// columns produced by Flux that are not event fields.
var fluxColumns = map[string]struct{}{
	"result": {}, "table": {}, "_start": {}, "_stop": {}, "_time": {},
	"_measurement": {}, "device_id": {}, "topic": {}, "seq": {}, "size": {},
}

// EventHistory returns the newest events of one device within window,
// newest first. Zero window and limit take defaults; limit is capped.
func (c *Client) EventHistory(ctx context.Context, deviceID string, window time.Duration, limit int) ([]EventRecord, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrQueryFailed)
	}
	if window <= 0 {
		window = defaultHistoryWindow
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	result, err := c.queryAPI.Query(ctx, historyQuery(c.cfg.Bucket, deviceID, window, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var records []EventRecord
	for result.Next() {
		rec := result.Record()
		er := EventRecord{
			Time:     rec.Time(),
			DeviceID: stringValue(rec.ValueByKey("device_id")),
			Topic:    stringValue(rec.ValueByKey("topic")),
			Seq:      uint64(intValue(rec.ValueByKey("seq"))),
			Size:     intValue(rec.ValueByKey("size")),
		}
		for k, v := range rec.Values() {
			if _, skip := fluxColumns[k]; skip || v == nil {
				continue
			}
			if er.Fields == nil {
				er.Fields = make(map[string]any)
			}
			er.Fields[k] = v
		}
		records = append(records, er)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	// Rows arrive per Flux table; merge them into one newest-first list.
	sort.SliceStable(records, func(i, j int) bool { return records[i].Time.After(records[j].Time) })
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// historyQuery builds the Flux query for EventHistory.
func historyQuery(bucket, deviceID string, window time.Duration, limit int) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		fluxString(bucket), fluxDuration(window), MeasurementEvents, fluxString(deviceID), limit)
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}

// fluxDuration renders d in whole seconds, at least one.
func fluxDuration(d time.Duration) string {
	secs := max(int64(d/time.Second), 1)
	return strconv.FormatInt(secs, 10) + "s"
}

func stringValue(v any) string {
	s, _ := v.(string) //nolint:errcheck // missing column reads as empty
	return s
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n) // #nosec G115 -- sequence numbers stay far below 2^63
	case float64:
		return int64(n)
	}
	return 0
}
