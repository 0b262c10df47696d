package events

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/mqtt"
)

// MQTTDialer opens one paho client per device broker.
//
// Library reconnection stays off: a dropped connection is reported through
// Session.Lost and the task decides when to dial again. Every dial for a
// device uses the same client ID, so with persistent sessions the broker
// hands over the events it queued while the device's task was reconnecting.
type MQTTDialer struct {
	clientIDPrefix string
	qos            byte
	keepAlive      int
	persistent     bool
	tls            bool
	auth           config.MQTTAuthConfig
	logger         mqtt.Logger
}

// NewMQTTDialer creates a dialer from the events config section.
func NewMQTTDialer(cfg config.EventsConfig) *MQTTDialer {
	prefix := cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "fleet"
	}
	return &MQTTDialer{
		clientIDPrefix: prefix,
		qos:            byte(cfg.QoS),
		keepAlive:      cfg.KeepAlive,
		persistent:     cfg.PersistentSession,
		tls:            cfg.TLS,
		auth:           cfg.Auth,
	}
}

// SetLogger sets the logger passed to every client for handler failures.
func (d *MQTTDialer) SetLogger(logger mqtt.Logger) {
	d.logger = logger
}

// ClientID returns the broker client ID for a device: the prefix and 12 hex
// characters derived from the device ID alone.
func (d *MQTTDialer) ClientID(deviceID string) string {
	id := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID)).String(), "-", "")
	return d.clientIDPrefix + "-" + id[:12]
}

// Dial connects to the device's broker.
func (d *MQTTDialer) Dial(ctx context.Context, deviceID string, endpoint device.BrokerEndpoint) (Session, error) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     endpoint.Host,
			Port:     endpoint.Port,
			TLS:      d.tls,
			ClientID: d.ClientID(deviceID),
		},
		Auth:              d.auth,
		QoS:               int(d.qos),
		KeepAlive:         d.keepAlive,
		PersistentSession: d.persistent,
	}

	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if d.logger != nil {
		client.SetLogger(d.logger)
	}

	s := &mqttSession{
		client: client,
		qos:    d.qos,
		lost:   make(chan error, 1),
	}
	client.SetOnDisconnect(s.onLost)

	// The connection may have dropped before the callback was installed.
	if !client.IsConnected() {
		s.onLost(mqtt.ErrNotConnected)
	}
	return s, nil
}

type mqttSession struct {
	client *mqtt.Client
	qos    byte
	lost   chan error
}

func (s *mqttSession) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	return s.client.Subscribe(topic, s.qos, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

func (s *mqttSession) Lost() <-chan error {
	return s.lost
}

func (s *mqttSession) Close() {
	_ = s.client.Close()
}

func (s *mqttSession) onLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}
