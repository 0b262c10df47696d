package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-fleet/internal/events"
)

const namespace = "fleet"

// Metrics holds every collector the fleet controller exports.
type Metrics struct {
	registry *prometheus.Registry

	// Discovery
	DiscoveryRuns     *prometheus.CounterVec
	DiscoveryDuration prometheus.Histogram
	DevicesKnown      prometheus.Gauge

	// Dispatch
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Events
	EventsForwarded       *prometheus.CounterVec
	BrokerConnectFailures *prometheus.CounterVec
	ReceiverState         *prometheus.GaugeVec

	// API
	WebSocketClients prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		DiscoveryRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "runs_total",
				Help:      "Discovery runs by result (ok, error)",
			},
			[]string{"result"},
		),
		DiscoveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "duration_seconds",
				Help:      "Wall time of a discovery run including descriptor fetches",
				Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 30},
			},
		),
		DevicesKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "devices",
				Help:      "Devices currently in the registry",
			},
		),

		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Dispatch attempts by outcome (allowed, blocked, failed)",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Dispatch latency by outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		EventsForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "forwarded_total",
				Help:      "Events delivered into the aggregated stream",
			},
			[]string{"device"},
		),
		BrokerConnectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "connect_failures_total",
				Help:      "Failed broker connection attempts",
			},
			[]string{"device"},
		),
		ReceiverState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "receiver_state",
				Help:      "Receiver state per device (0=disconnected, 1=connecting, 2=subscribed, 3=receiving, 4=cancelled)",
			},
			[]string{"device"},
		),

		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "websocket_clients",
				Help:      "Connected WebSocket event stream clients",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DiscoveryRuns,
		m.DiscoveryDuration,
		m.DevicesKnown,
		m.Dispatches,
		m.DispatchDuration,
		m.EventsForwarded,
		m.BrokerConnectFailures,
		m.ReceiverState,
		m.WebSocketClients,
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDiscovery records one discovery run.
func (m *Metrics) ObserveDiscovery(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DiscoveryRuns.WithLabelValues(result).Inc()
	m.DiscoveryDuration.Observe(d.Seconds())
}

// SetDevices records the registry size.
func (m *Metrics) SetDevices(n int) {
	m.DevicesKnown.Set(float64(n))
}

// ObserveDispatch records one dispatch attempt.
func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	m.Dispatches.WithLabelValues(outcome).Inc()
	m.DispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// StateChanged implements events.Observer.
func (m *Metrics) StateChanged(deviceID string, _, to events.State) {
	m.ReceiverState.WithLabelValues(deviceID).Set(float64(to))
}

// ConnectFailed implements events.Observer.
func (m *Metrics) ConnectFailed(deviceID string) {
	m.BrokerConnectFailures.WithLabelValues(deviceID).Inc()
}

// EventForwarded implements events.Observer.
func (m *Metrics) EventForwarded(deviceID string) {
	m.EventsForwarded.WithLabelValues(deviceID).Inc()
}

// ForgetDevice drops the per-device series of a removed device.
func (m *Metrics) ForgetDevice(deviceID string) {
	m.EventsForwarded.DeleteLabelValues(deviceID)
	m.BrokerConnectFailures.DeleteLabelValues(deviceID)
	m.ReceiverState.DeleteLabelValues(deviceID)
}
