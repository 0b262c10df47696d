package device

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

// Descriptor is the JSON document a device serves at its base URL.
//
//	{
//	  "kind": "Fridge",
//	  "environment": "Os",
//	  "main route": "/fridge",
//	  "route_configs": [
//	    {"name": "/cool", "description": "Lower temperature",
//	     "hazards": ["ElectricEnergyConsumption"],
//	     "parameters": {"temperature": {"RangeF64": {"min": 2, "max": 8, "step": 0.5, "default": 4}}},
//	     "REST kind": "Put", "response kind": "Ok"}
//	  ],
//	  "events": {"broker_data": {"address": "192.168.1.20", "port": 1883}, "topic": "tosca/AABBCCDDEEFF/events",
//	             "events": {"u8_events": [{"name": "temperature", "value": 4}]}}
//	}
type Descriptor struct {
	Kind        string             `json:"kind"`
	ProductID   *string            `json:"product ID,omitempty"`
	Environment Environment        `json:"environment"`
	MainRoute   string             `json:"main route"`
	Routes      []RouteConfig      `json:"route_configs"`
	Events      *EventsDescription `json:"events,omitempty"`
}

// RouteConfig describes one action route in a descriptor.
type RouteConfig struct {
	Name         string     `json:"name"`
	Path         string     `json:"path,omitempty"`
	Description  string     `json:"description,omitempty"`
	Hazards      hazard.Set `json:"hazards"`
	Parameters   Schema     `json:"parameters"`
	RESTKind     string     `json:"REST kind"`
	ResponseKind string     `json:"response kind"`
}

// EventsDescription names the broker and topic a device publishes on and
// the events it publishes there.
type EventsDescription struct {
	Broker BrokerData     `json:"broker_data"`
	Topic  string         `json:"topic,omitempty"`
	Events EventCatalogue `json:"events"`
}

// BrokerData is the broker address advertised by a device.
type BrokerData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// ParseDescriptor decodes and validates a descriptor document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	switch d.Environment {
	case EnvironmentOS, EnvironmentESP32:
	case "":
		d.Environment = EnvironmentOS
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidDescriptor, d.Environment)
	}

	if d.Events != nil {
		if d.Events.Broker.Address == "" {
			return fmt.Errorf("%w: events broker address is required", ErrInvalidDescriptor)
		}
		if d.Events.Broker.Port < 1 || d.Events.Broker.Port > 65535 {
			return fmt.Errorf("%w: events broker port %d out of range", ErrInvalidDescriptor, d.Events.Broker.Port)
		}
		if err := d.Events.Events.validate(); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(d.Routes))
	for i, r := range d.Routes {
		name := ActionName(r.Name)
		if name == "" {
			return fmt.Errorf("%w: route %d has no name", ErrInvalidDescriptor, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate route %q", ErrInvalidDescriptor, name)
		}
		seen[name] = true

		if _, ok := ParseMethod(r.RESTKind); !ok {
			return fmt.Errorf("%w: route %q has unknown REST kind %q", ErrInvalidDescriptor, name, r.RESTKind)
		}
		if _, ok := ParseResponseKind(r.ResponseKind); !ok {
			return fmt.Errorf("%w: route %q has unknown response kind %q", ErrInvalidDescriptor, name, r.ResponseKind)
		}
	}
	return nil
}

// Actions converts the descriptor's routes into actions keyed by name.
func (d *Descriptor) Actions() map[string]Action {
	actions := make(map[string]Action, len(d.Routes))
	for _, r := range d.Routes {
		name := ActionName(r.Name)
		route := r.Path
		if route == "" {
			route = r.Name
		}
		method, _ := ParseMethod(r.RESTKind)
		resp, _ := ParseResponseKind(r.ResponseKind)
		actions[name] = Action{
			Name:        name,
			Route:       "/" + ActionName(route),
			Description: r.Description,
			Method:      method,
			Params:      r.Parameters,
			Hazards:     r.Hazards,
			Response:    resp,
		}
	}
	return actions
}

// Apply copies the descriptor's content into dev, replacing actions,
// kind, environment, main route and broker endpoint.
// topicPrefix and topicSuffix build the event topic when the descriptor
// does not name one and the device advertises a hardware ID. Without
// either, the broker endpoint keeps an empty topic and is never subscribed.
func (d *Descriptor) Apply(dev *Device, topicPrefix, topicSuffix string) {
	dev.Kind = d.Kind
	if d.ProductID != nil {
		dev.ProductID = *d.ProductID
	}
	dev.Environment = d.Environment
	dev.MainRoute = "/" + strings.Trim(d.MainRoute, "/")
	if dev.MainRoute == "/" {
		dev.MainRoute = ""
	}
	dev.Actions = d.Actions()

	dev.Broker = nil
	if d.Events != nil {
		topic := d.Events.Topic
		if topic == "" {
			if hw := dev.HardwareID(); hw != "" {
				topic = EventTopic(topicPrefix, hw, topicSuffix)
			}
		}
		dev.Broker = &BrokerEndpoint{
			Host:   d.Events.Broker.Address,
			Port:   d.Events.Broker.Port,
			Topic:  topic,
			Events: d.Events.Events.clone(),
		}
	}
}

// EventTopic builds the default device event topic prefix/HWID/suffix.
func EventTopic(prefix, hardwareID, suffix string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, hardwareID, suffix} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
