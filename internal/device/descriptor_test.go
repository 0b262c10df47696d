package device

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

const fridgeDescriptor = `{
	"kind": "Fridge",
	"product ID": "FR-1",
	"environment": "Os",
	"main route": "/fridge/",
	"route_configs": [
		{"name": "/increase-temperature", "description": "Raise temperature",
		 "hazards": ["ElectricEnergyConsumption", "SpoiledFood"],
		 "parameters": {"increment": {"RangeF64": {"min": 1, "max": 4, "step": 0.5, "default": 2}}},
		 "REST kind": "Put", "response kind": "Ok"},
		{"name": "/info", "REST kind": "Get", "response kind": "Info"}
	],
	"events": {"broker_data": {"address": "10.0.0.1", "port": 1883}}
}`

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(fridgeDescriptor))
	if err != nil {
		t.Fatalf("ParseDescriptor() error = %v", err)
	}

	dev := Device{ID: "fridge", Properties: map[string]string{"mac": "aa:bb:cc:dd:ee:ff"}}
	d.Apply(&dev, "tosca", "events")

	if dev.Kind != "Fridge" || dev.ProductID != "FR-1" {
		t.Errorf("Kind/ProductID = %q/%q", dev.Kind, dev.ProductID)
	}
	if dev.MainRoute != "/fridge" {
		t.Errorf("MainRoute = %q, want /fridge", dev.MainRoute)
	}
	if got := dev.ActionNames(); len(got) != 2 || got[0] != "increase-temperature" || got[1] != "info" {
		t.Errorf("ActionNames() = %v", got)
	}

	inc, ok := dev.Action("/increase-temperature")
	if !ok {
		t.Fatal("Action(/increase-temperature) not found")
	}
	if inc.Method != MethodPut || inc.Response != ResponseOk || inc.Route != "/increase-temperature" {
		t.Errorf("increase-temperature = %+v", inc)
	}
	if !inc.Hazards.Equal(hazard.NewSet(hazard.ElectricEnergyConsumption, hazard.SpoiledFood)) {
		t.Errorf("Hazards = %v", inc.Hazards)
	}

	info, _ := dev.Action("info")
	if info.Method != MethodGet || info.Response != ResponseInfo || !info.Hazards.IsEmpty() {
		t.Errorf("info = %+v", info)
	}

	if dev.Broker == nil {
		t.Fatal("Broker = nil")
	}
	if dev.Broker.Address() != "10.0.0.1:1883" {
		t.Errorf("Broker.Address() = %q", dev.Broker.Address())
	}
	if dev.Broker.Topic != "tosca/AABBCCDDEEFF/events" {
		t.Errorf("Broker.Topic = %q, want tosca/AABBCCDDEEFF/events", dev.Broker.Topic)
	}
	if !dev.Hazards().Contains(hazard.SpoiledFood) {
		t.Errorf("Hazards() = %v", dev.Hazards())
	}
}

func TestParseDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not json", `nope`},
		{"bad environment", `{"environment": "Wasm", "route_configs": []}`},
		{"unnamed route", `{"route_configs": [{"name": "/", "REST kind": "Get"}]}`},
		{"duplicate route", `{"route_configs": [{"name": "/a", "REST kind": "Get"}, {"name": "a", "REST kind": "Put"}]}`},
		{"bad method", `{"route_configs": [{"name": "/a", "REST kind": "Patch"}]}`},
		{"bad response", `{"route_configs": [{"name": "/a", "REST kind": "Get", "response kind": "Video"}]}`},
		{"broker without address", `{"route_configs": [], "events": {"broker_data": {"port": 1883}}}`},
		{"broker bad port", `{"route_configs": [], "events": {"broker_data": {"address": "h", "port": 0}}}`},
		{"duplicate event", `{"route_configs": [], "events": {"broker_data": {"address": "h", "port": 1883},
			"events": {"bool_events": [{"name": "door", "value": false}], "u8_events": [{"name": "door", "value": 1}]}}}`},
		{"unnamed event", `{"route_configs": [], "events": {"broker_data": {"address": "h", "port": 1883},
			"events": {"u8_events": [{"value": 1}]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tt.src))
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("ParseDescriptor() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestDescriptor_DefaultsAndTopic(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"kind": "Light", "main route": "",
		"route_configs": [{"name": "on", "REST kind": "post"}],
		"events": {"broker_data": {"address": "b", "port": 1883}, "topic": "custom/light"}
	}`))
	if err != nil {
		t.Fatalf("ParseDescriptor() error = %v", err)
	}

	dev := Device{ID: "light"}
	d.Apply(&dev, "tosca", "events")

	if dev.Environment != EnvironmentOS {
		t.Errorf("Environment = %q, want Os", dev.Environment)
	}
	if dev.MainRoute != "" {
		t.Errorf("MainRoute = %q, want empty", dev.MainRoute)
	}
	on, _ := dev.Action("on")
	if on.Method != MethodPost || on.Response != ResponseOk {
		t.Errorf("on = %+v", on)
	}
	if dev.Broker.Topic != "custom/light" {
		t.Errorf("Broker.Topic = %q, want custom/light", dev.Broker.Topic)
	}
}

func TestEventTopic(t *testing.T) {
	tests := []struct {
		prefix, hw, suffix, want string
	}{
		{"tosca", "AABB", "events", "tosca/AABB/events"},
		{"/tosca/", "AABB", "", "tosca/AABB"},
		{"", "AABB", "events", "AABB/events"},
	}
	for _, tt := range tests {
		if got := EventTopic(tt.prefix, tt.hw, tt.suffix); got != tt.want {
			t.Errorf("EventTopic(%q, %q, %q) = %q, want %q", tt.prefix, tt.hw, tt.suffix, got, tt.want)
		}
	}
}

func TestDevice_HardwareID(t *testing.T) {
	tests := []struct {
		props map[string]string
		want  string
	}{
		{map[string]string{"mac": "aa:bb:cc:00:11:22"}, "AABBCC001122"},
		{map[string]string{"id": "aa-bb"}, "AABB"},
		{nil, ""},
	}
	for _, tt := range tests {
		d := Device{Properties: tt.props}
		if got := d.HardwareID(); got != tt.want {
			t.Errorf("HardwareID(%v) = %q, want %q", tt.props, got, tt.want)
		}
	}
}

func TestDescriptor_EventCatalogue(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"kind": "Fridge",
		"route_configs": [],
		"events": {
			"broker_data": {"address": "10.0.0.1", "port": 1883},
			"topic": "tosca/fridge/events",
			"events": {
				"bool_events": [{"name": "door_open", "description": "Door is open", "value": false}],
				"periodic_u8_events": [{"event": {"name": "temperature", "value": 4}, "interval": {"secs": 1, "nanos": 500000000}}]
			}
		}
	}`))
	if err != nil {
		t.Fatalf("ParseDescriptor() error = %v", err)
	}

	dev := Device{ID: "fridge"}
	d.Apply(&dev, "tosca", "events")

	got := dev.Broker.Events.Readings()
	if len(got) != 2 {
		t.Fatalf("Readings() = %+v, want 2", got)
	}
	if got[0].Name != "door_open" || got[0].Kind != ReadingBool || got[0].Description != "Door is open" {
		t.Errorf("Readings()[0] = %+v", got[0])
	}
	if got[1].Name != "temperature" || got[1].Kind != ReadingU8 || got[1].Interval != 1500*time.Millisecond {
		t.Errorf("Readings()[1] = %+v", got[1])
	}

	// Copies do not share the catalogue.
	cpy := dev.DeepCopy()
	cpy.Broker.Events.BoolEvents[0].Name = "changed"
	if dev.Broker.Events.BoolEvents[0].Name != "door_open" {
		t.Error("DeepCopy() shares the event catalogue")
	}
}

func TestDescriptor_BrokerWithoutTopic(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"route_configs": [], "events": {"broker_data": {"address": "b", "port": 1883}}}`))
	if err != nil {
		t.Fatalf("ParseDescriptor() error = %v", err)
	}

	dev := Device{ID: "light"}
	d.Apply(&dev, "tosca", "events")

	if dev.Broker == nil || dev.Broker.Topic != "" {
		t.Errorf("Broker = %+v, want endpoint with empty topic", dev.Broker)
	}
}
