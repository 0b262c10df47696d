// Package devicetest provides fake devices for tests: canned descriptors and
// an HTTP server that serves a descriptor and records action requests.
package devicetest

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Fridge returns a fridge descriptor. Its increase-temperature action
// declares SpoiledFood and ElectricEnergyConsumption; cool declares
// ElectricEnergyConsumption only.
func Fridge(brokerHost string, brokerPort int) string {
	return fmt.Sprintf(`{
	"kind": "Fridge",
	"environment": "Os",
	"main route": "/fridge",
	"route_configs": [
		{"name": "/increase-temperature", "description": "Increase temperature",
		 "hazards": ["ElectricEnergyConsumption", "SpoiledFood"],
		 "parameters": {"increment": {"RangeF64": {"min": 1, "max": 4, "step": 0.5, "default": 2}}},
		 "REST kind": "Put", "response kind": "Ok"},
		{"name": "/decrease-temperature", "description": "Decrease temperature",
		 "hazards": ["ElectricEnergyConsumption"],
		 "parameters": {"decrement": {"RangeF64": {"min": 1, "max": 4, "step": 0.5, "default": 2}}},
		 "REST kind": "Put", "response kind": "Ok"},
		{"name": "/cool", "description": "Start a cooling cycle",
		 "hazards": ["ElectricEnergyConsumption"],
		 "REST kind": "Post", "response kind": "Ok"},
		{"name": "/info", "REST kind": "Get", "response kind": "Info"}
	],
	"events": {"broker_data": {"address": %q, "port": %d}, "topic": "tosca/fridge/events"}
}`, brokerHost, brokerPort)
}

// Light returns a light descriptor. Its on action declares
// ElectricEnergyConsumption and takes path-encoded GET parameters.
func Light(brokerHost string, brokerPort int) string {
	return fmt.Sprintf(`{
	"kind": "Light",
	"environment": "Os",
	"main route": "/light",
	"route_configs": [
		{"name": "/on", "description": "Turn light on",
		 "hazards": ["ElectricEnergyConsumption"],
		 "parameters": {"brightness": {"RangeU64": {"min": 0, "max": 255, "step": 1, "default": 128}},
		                "save-energy": {"Bool": {"default": false}}},
		 "REST kind": "Get", "response kind": "Ok"},
		{"name": "/off", "REST kind": "Put", "response kind": "Ok"},
		{"name": "/state", "REST kind": "Get", "response kind": "Serial"}
	],
	"events": {"broker_data": {"address": %q, "port": %d}, "topic": "tosca/light/events"}
}`, brokerHost, brokerPort)
}

// PlainLight returns a light descriptor whose actions declare no hazards.
func PlainLight(brokerHost string, brokerPort int) string {
	return fmt.Sprintf(`{
	"kind": "Light",
	"environment": "Os",
	"main route": "/light",
	"route_configs": [
		{"name": "/on", "description": "Turn light on", "REST kind": "Put", "response kind": "Ok"},
		{"name": "/off", "description": "Turn light off", "REST kind": "Put", "response kind": "Ok"}
	],
	"events": {"broker_data": {"address": %q, "port": %d}, "topic": "tosca/light/events"}
}`, brokerHost, brokerPort)
}

// Request is one action request received by a Server.
type Request struct {
	Method string
	Path   string
	Body   string
}

// Server is a fake device. GET / serves the descriptor; any other request
// is recorded and answered by a registered handler or an Ok acknowledgement.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	descriptor string
	handlers   map[string]http.HandlerFunc
	requests   []Request
}

// NewServer starts a fake device serving descriptor. It is closed when the test ends.
func NewServer(tb testing.TB, descriptor string) *Server {
	tb.Helper()
	s := &Server{
		descriptor: descriptor,
		handlers:   make(map[string]http.HandlerFunc),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Handle registers a handler for one method and path.
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	s.handlers[method+" "+path] = h
	s.mu.Unlock()
}

// Requests returns the action requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Addr returns the server's IP and port.
func (s *Server) Addr() (net.IP, int) {
	host, portStr, _ := net.SplitHostPort(s.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return net.ParseIP(host), port
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && (r.URL.Path == "/" || r.URL.Path == "") {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s.descriptor)
		return
	}

	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.EscapedPath(), Body: string(body)})
	h := s.handlers[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"action_terminated_correctly": true}`)
}
