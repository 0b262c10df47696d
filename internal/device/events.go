package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventCatalogue lists the events a device publishes. The same document is
// both the descriptor's "events" member and the payload of every message the
// device sends, with Value holding the current reading.
//
//	{
//	  "bool_events": [{"name": "door", "description": "Door open", "value": true}],
//	  "u8_events": [{"name": "temperature", "value": 4}],
//	  "periodic_u8_events": [{"event": {"name": "humidity", "value": 40}, "interval": {"secs": 5, "nanos": 0}}]
//	}
type EventCatalogue struct {
	BoolEvents         []BoolEvent         `json:"bool_events,omitempty"`
	U8Events           []U8Event           `json:"u8_events,omitempty"`
	PeriodicBoolEvents []PeriodicBoolEvent `json:"periodic_bool_events,omitempty"`
	PeriodicU8Events   []PeriodicU8Event   `json:"periodic_u8_events,omitempty"`
}

// BoolEvent is a named boolean reading.
type BoolEvent struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Value       bool   `json:"value"`
}

// U8Event is a named 8-bit reading.
type U8Event struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Value       uint8  `json:"value"`
}

// PeriodicBoolEvent is a boolean reading published every Interval.
type PeriodicBoolEvent struct {
	Event    BoolEvent `json:"event"`
	Interval Interval  `json:"interval"`
}

// PeriodicU8Event is an 8-bit reading published every Interval.
type PeriodicU8Event struct {
	Event    U8Event  `json:"event"`
	Interval Interval `json:"interval"`
}

// Interval is a duration encoded as {"secs": n, "nanos": n}.
// A bare number is read as seconds.
type Interval time.Duration

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration { return time.Duration(i) }

// MarshalJSON encodes the interval as secs and nanos.
func (i Interval) MarshalJSON() ([]byte, error) {
	d := time.Duration(i)
	return json.Marshal(struct {
		Secs  int64 `json:"secs"`
		Nanos int64 `json:"nanos"`
	}{int64(d / time.Second), int64(d % time.Second)})
}

// UnmarshalJSON decodes {"secs", "nanos"} or a number of seconds.
func (i *Interval) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		if secs < 0 {
			return fmt.Errorf("negative interval %v", secs)
		}
		*i = Interval(secs * float64(time.Second))
		return nil
	}

	var v struct {
		Secs  *int64 `json:"secs"`
		Nanos int64  `json:"nanos"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Secs == nil || *v.Secs < 0 || v.Nanos < 0 || v.Nanos >= int64(time.Second) {
		return fmt.Errorf("invalid interval %s", data)
	}
	*i = Interval(time.Duration(*v.Secs)*time.Second + time.Duration(v.Nanos))
	return nil
}

// Reading is one flattened catalogue entry.
type Reading struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Kind        string        `json:"kind"`
	Value       any           `json:"value"`
	Interval    time.Duration `json:"interval,omitempty"`
}

// Reading kinds.
const (
	ReadingBool = "bool"
	ReadingU8   = "u8"
)

// IsEmpty reports whether the catalogue lists no events.
func (c EventCatalogue) IsEmpty() bool {
	return len(c.BoolEvents) == 0 && len(c.U8Events) == 0 &&
		len(c.PeriodicBoolEvents) == 0 && len(c.PeriodicU8Events) == 0
}

// Readings flattens the catalogue in bool, u8, periodic bool, periodic u8 order.
func (c EventCatalogue) Readings() []Reading {
	out := make([]Reading, 0, len(c.BoolEvents)+len(c.U8Events)+len(c.PeriodicBoolEvents)+len(c.PeriodicU8Events))
	for _, e := range c.BoolEvents {
		out = append(out, Reading{Name: e.Name, Description: e.Description, Kind: ReadingBool, Value: e.Value})
	}
	for _, e := range c.U8Events {
		out = append(out, Reading{Name: e.Name, Description: e.Description, Kind: ReadingU8, Value: e.Value})
	}
	for _, p := range c.PeriodicBoolEvents {
		out = append(out, Reading{
			Name: p.Event.Name, Description: p.Event.Description,
			Kind: ReadingBool, Value: p.Event.Value, Interval: p.Interval.Duration(),
		})
	}
	for _, p := range c.PeriodicU8Events {
		out = append(out, Reading{
			Name: p.Event.Name, Description: p.Event.Description,
			Kind: ReadingU8, Value: p.Event.Value, Interval: p.Interval.Duration(),
		})
	}
	return out
}

func (c EventCatalogue) validate() error {
	seen := make(map[string]bool)
	for _, r := range c.Readings() {
		if r.Name == "" {
			return fmt.Errorf("%w: event without a name", ErrInvalidDescriptor)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate event %q", ErrInvalidDescriptor, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// ParseEvents decodes an event payload in catalogue form.
func ParseEvents(payload []byte) (EventCatalogue, error) {
	var c EventCatalogue
	if err := json.Unmarshal(payload, &c); err != nil {
		return EventCatalogue{}, fmt.Errorf("%w: %w", ErrInvalidEvents, err)
	}
	return c, nil
}

func (c EventCatalogue) clone() EventCatalogue {
	return EventCatalogue{
		BoolEvents:         append([]BoolEvent(nil), c.BoolEvents...),
		U8Events:           append([]U8Event(nil), c.U8Events...),
		PeriodicBoolEvents: append([]PeriodicBoolEvent(nil), c.PeriodicBoolEvents...),
		PeriodicU8Events:   append([]PeriodicU8Event(nil), c.PeriodicU8Events...),
	}
}
