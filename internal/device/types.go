package device

import (
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

// Device is a network-attached device discovered over mDNS.
//
// ID is the mDNS instance name. It is unique and stable for the lifetime of
// the controller; a refresh overwrites every other field except DiscoveredAt.
type Device struct {
	// Identity
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	HostName  string `json:"host_name"`
	Kind      string `json:"kind"`
	ProductID string `json:"product_id,omitempty"`

	Environment Environment `json:"environment"`

	// Network
	Addresses  []net.IP          `json:"addresses"`
	Port       int               `json:"port"`
	Scheme     string            `json:"scheme"`
	Properties map[string]string `json:"properties,omitempty"`

	// BaseURL is scheme://address:port of the address that served the descriptor.
	BaseURL   string `json:"base_url"`
	MainRoute string `json:"main_route"`

	Actions map[string]Action `json:"actions"`

	// Broker is nil for devices that publish no events.
	Broker *BrokerEndpoint `json:"broker,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Action is one invocable route of a device. Actions are immutable once parsed.
type Action struct {
	Name        string       `json:"name"`
	Route       string       `json:"route"`
	Description string       `json:"description,omitempty"`
	Method      Method       `json:"method"`
	Params      Schema       `json:"params"`
	Hazards     hazard.Set   `json:"hazards"`
	Response    ResponseKind `json:"response"`
}

// BrokerEndpoint is the MQTT broker a device publishes its events to.
type BrokerEndpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Topic string `json:"topic"`
	// Events is the catalogue the device declared in its descriptor.
	Events EventCatalogue `json:"events"`
}

// Address returns host:port.
func (b BrokerEndpoint) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Environment is the firmware environment a device runs on. It changes how
// GET parameters are encoded.
type Environment string

// Environment constants.
const (
	EnvironmentOS    Environment = "Os"
	EnvironmentESP32 Environment = "Esp32"
)

// Method is the HTTP method of an action.
type Method string

// Method constants.
const (
	MethodGet    Method = "GET"
	MethodPut    Method = "PUT"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// ParseMethod accepts "Get", "GET", "get" and so on.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPut, MethodPost, MethodDelete:
		return m, true
	}
	return "", false
}

// ResponseKind is the shape of a successful action response.
type ResponseKind string

// ResponseKind constants.
const (
	// ResponseOk is an acknowledgement: {"action_terminated_correctly": true}.
	ResponseOk ResponseKind = "Ok"
	// ResponseSerial is an arbitrary JSON object.
	ResponseSerial ResponseKind = "Serial"
	// ResponseInfo is a device information object with energy and economy data.
	ResponseInfo ResponseKind = "Info"
	// ResponseStream is a byte stream handed to the caller unparsed.
	ResponseStream ResponseKind = "Stream"
)

// ParseResponseKind maps a descriptor value to a ResponseKind. Empty means Ok.
func ParseResponseKind(s string) (ResponseKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ok":
		return ResponseOk, true
	case "serial":
		return ResponseSerial, true
	case "info":
		return ResponseInfo, true
	case "stream":
		return ResponseStream, true
	}
	return "", false
}

// ActionName normalises a route name into an action key ("/on/" -> "on").
func ActionName(route string) string {
	return strings.Trim(strings.TrimSpace(route), "/")
}

// Action looks up an action by name. Leading and trailing slashes are ignored.
func (d *Device) Action(name string) (Action, bool) {
	a, ok := d.Actions[ActionName(name)]
	return a, ok
}

// ActionNames returns the device's action names, sorted.
func (d *Device) ActionNames() []string {
	return slices.Sorted(maps.Keys(d.Actions))
}

// Hazards returns the union of hazards over all actions.
func (d *Device) Hazards() hazard.Set {
	var all hazard.Set
	for _, a := range d.Actions {
		all = all.Union(a.Hazards)
	}
	return all
}

// HardwareID returns the device MAC from its TXT properties ("mac" or "id"),
// upper-cased with separators removed, or "" when absent.
func (d *Device) HardwareID() string {
	raw := d.Properties["mac"]
	if raw == "" {
		raw = d.Properties["id"]
	}
	raw = strings.NewReplacer(":", "", "-", "", ".", "").Replace(raw)
	return strings.ToUpper(raw)
}

// DeepCopy creates a complete independent copy of the Device.
// Slices and maps are cloned so modifications to the copy do not affect
// the original. Actions are immutable values and are shared.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Addresses != nil {
		cpy.Addresses = make([]net.IP, len(d.Addresses))
		for i, ip := range d.Addresses {
			cpy.Addresses[i] = slices.Clone(ip)
		}
	}
	if d.Properties != nil {
		cpy.Properties = maps.Clone(d.Properties)
	}
	if d.Actions != nil {
		cpy.Actions = maps.Clone(d.Actions)
	}
	if d.Broker != nil {
		b := *d.Broker
		b.Events = d.Broker.Events.clone()
		cpy.Broker = &b
	}

	return &cpy
}
