package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/mqtt"
)

// Defaults for Config fields left at zero.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReconnectDelay = 2 * time.Second
)

// Dialer opens a broker session on behalf of one device.
//
// Dial must honour ctx: the aggregator bounds every attempt with
// Config.ConnectTimeout through it and cancels it on shutdown.
type Dialer interface {
	Dial(ctx context.Context, deviceID string, endpoint device.BrokerEndpoint) (Session, error)
}

// Session is one live broker connection.
type Session interface {
	// Subscribe registers handler for topic. The session calls handler
	// sequentially in broker order; a blocked handler holds back later messages.
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	// Lost yields a value when the connection drops.
	Lost() <-chan error
	Close()
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls the per-device state machine timing.
type Config struct {
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
}

// ConfigFrom reads the events section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ConnectTimeout: cfg.GetConnectTimeout(),
		ReconnectDelay: cfg.GetReconnectDelay(),
	}
}

// Aggregator fans the event streams of many devices into one bounded channel.
//
// Each device with a broker endpoint gets its own task. Tasks block when the
// channel is full, so a slow consumer never loses events; it only stalls the
// devices whose events are waiting.
//
// An Aggregator is single-use: Start once, Shutdown once (further calls are
// no-ops).
type Aggregator struct {
	dialer   Dialer
	cfg      Config
	logger   Logger
	observer Observer

	mu       sync.Mutex
	started  bool
	closing  bool
	ctx      context.Context
	cancel   context.CancelFunc
	out      chan Event
	tasks    map[string]*task
	wg       sync.WaitGroup
	finished chan struct{}
}

// New creates an aggregator. Zero Config durations take their defaults.
func New(dialer Dialer, cfg Config) *Aggregator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Aggregator{
		dialer:   dialer,
		cfg:      cfg,
		logger:   noopLogger{},
		observer: noopObserver{},
		tasks:    make(map[string]*task),
		finished: make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (a *Aggregator) SetLogger(logger Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// SetObserver sets the lifecycle observer. Call before Start.
func (a *Aggregator) SetObserver(observer Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if observer == nil {
		observer = noopObserver{}
	}
	a.observer = observer
}

// Start spawns one task per device that has a broker endpoint with a valid
// topic and returns the
// consumer side of a channel holding at most capacity undelivered events.
func (a *Aggregator) Start(devices []device.Device, capacity int) (*Receiver, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil, ErrAlreadyStarted
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.out = make(chan Event, capacity)

	spawned := 0
	for i := range devices {
		if a.spawnLocked(&devices[i]) {
			spawned++
		}
	}
	a.logger.Info("event receivers started",
		"devices", spawned,
		"skipped", len(devices)-spawned,
		"capacity", capacity,
	)

	return &Receiver{ch: a.out}, nil
}

// Add starts a task for a device that was not part of the Start snapshot.
// It returns false if the aggregator is not running, the device has no
// broker endpoint or topic, or a task for the device already exists.
func (a *Aggregator) Add(dev device.Device) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.closing {
		return false
	}
	return a.spawnLocked(&dev)
}

// Remove cancels the task for id and waits for it to stop. The task stays
// registered until it has stopped, so an Add for the same id in the meantime
// returns false instead of starting a second task.
func (a *Aggregator) Remove(id string) bool {
	a.mu.Lock()
	t, ok := a.tasks[id]
	closing := a.closing
	a.mu.Unlock()

	if !ok || closing {
		return false
	}
	t.cancel()
	<-t.done

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tasks[id] != t || a.closing {
		return false
	}
	delete(a.tasks, id)
	return true
}

// States returns the current state of every task.
func (a *Aggregator) States() map[string]State {
	a.mu.Lock()
	defer a.mu.Unlock()

	states := make(map[string]State, len(a.tasks))
	for id, t := range a.tasks {
		states[id] = t.State()
	}
	return states
}

// Running reports whether the aggregator has started and not begun shutdown.
func (a *Aggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.closing
}

// Shutdown cancels every task, waits until each has reached StateCancelled
// and released the channel, then closes the channel. Events already buffered
// remain readable. Concurrent and repeated calls wait for the same shutdown.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	first := !a.closing
	a.closing = true
	a.mu.Unlock()

	if first {
		a.cancel()
		a.wg.Wait()
		close(a.out)
		a.logger.Info("event receivers stopped")
		close(a.finished)
	}
	<-a.finished
}

// spawnLocked starts a task for dev. a.mu must be held.
func (a *Aggregator) spawnLocked(dev *device.Device) bool {
	if dev.Broker == nil {
		a.logger.Debug("device has no event broker", "device", dev.ID)
		return false
	}
	if err := mqtt.ValidateTopic(dev.Broker.Topic); err != nil {
		a.logger.Warn("device event topic unusable, not subscribing",
			"device", dev.ID,
			"broker", dev.Broker.Address(),
			"error", err,
		)
		return false
	}
	if _, exists := a.tasks[dev.ID]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(a.ctx)
	t := &task{
		id:       dev.ID,
		endpoint: *dev.Broker,
		cfg:      a.cfg,
		dialer:   a.dialer,
		out:      a.out,
		logger:   a.logger,
		observer: a.observer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	a.tasks[dev.ID] = t

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t.run()
	}()
	return true
}
