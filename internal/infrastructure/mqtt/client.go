package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
)

// Client is one paho connection to a device's event broker.
//
// A Client never reconnects on its own. A lost connection is reported through
// SetOnDisconnect and the owner dials a new Client.
//
// With cfg.PersistentSession the broker may start delivering queued messages
// before Subscribe has been called. Those are held until the first Subscribe
// registers a handler and then routed to it, so none are acknowledged unseen.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex
	ready         chan struct{} // closed by the first Subscribe
	readyOnce     sync.Once
	done          chan struct{} // closed by Close
	closeOnce     sync.Once

	connected bool
	connMu    sync.RWMutex

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	filter  string
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run one at a time on the paho router goroutine. A handler that
// blocks holds back later messages and their acknowledgements, which is how
// back-pressure from a full consumer reaches the broker.
//
// The returned error is logged but does not affect message acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker described by cfg.
//
// The attempt is bounded by ctx: if ctx carries a deadline the remaining
// time becomes the connect timeout, otherwise defaultConnectTimeout applies.
// Cancelling ctx abandons the attempt and returns ErrConnectionFailed
// wrapping the context error.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, context.DeadlineExceeded)
		}
	}

	c := newClient(cfg)
	opts := buildClientOptions(cfg, timeout)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.routeUnclaimed(msg.Topic(), msg.Payload())
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.shutdown(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(timeout):
		c.shutdown(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		c.shutdown(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// routeUnclaimed handles a message that matched no paho route yet. It waits
// for the first subscription, then hands the message to the handler whose
// filter matches. Messages are dropped only once the client is closed.
func (c *Client) routeUnclaimed(topic string, payload []byte) {
	select {
	case <-c.ready:
	case <-c.done:
		return
	}

	if h := c.handlerFor(topic); h != nil {
		c.invoke(h, topic, payload)
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT message matches no subscription", "topic", topic)
	}
}

func (c *Client) handlerFor(topic string) MessageHandler {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		if Match(sub.filter, topic) {
			return sub.handler
		}
	}
	return nil
}

// Close disconnects from the broker, giving in-flight operations
// defaultDisconnectQuiesce milliseconds to complete. Closing a client
// that is already disconnected is not an error.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.shutdown(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) shutdown(quiesce uint) {
	c.closeOnce.Do(func() { close(c.done) })
	c.client.Disconnect(quiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// It is not called for an explicit Close.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.invoke(handler, msg.Topic(), msg.Payload())
	}
}

// invoke runs handler with panic recovery and optional logging.
func (c *Client) invoke(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
