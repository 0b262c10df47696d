package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/discovery"
	"github.com/nerrad567/gray-logic-fleet/internal/dispatch"
	"github.com/nerrad567/gray-logic-fleet/internal/events"
	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/policy"
	"github.com/nerrad567/gray-logic-fleet/internal/scheduler"
)

// auditTimeout bounds the write of one audit entry.
const auditTimeout = 2 * time.Second

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

// Controller composes discovery, the registry, the policy, the dispatcher
// and the event aggregator. It is the only writer of the registry and the
// policy; the dispatcher and the aggregator read them.
type Controller struct {
	opts   Options
	logger Logger

	registry   *device.Registry
	policy     atomic.Pointer[policy.Policy]
	discoverer *discovery.Discoverer
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler

	// evMu guards agg and closed.
	evMu   sync.Mutex
	agg    *events.Aggregator
	closed bool
}

// New validates opts and wires the components.
func New(opts Options) (*Controller, error) {
	if err := opts.Discovery.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if opts.Dialer == nil {
		opts.Dialer = events.NewMQTTDialer(config.EventsConfig{})
	}

	c := &Controller{
		opts:     opts,
		logger:   noopLogger{},
		registry: device.NewRegistry(),
	}

	initial := opts.Policy
	if initial == nil {
		initial = policy.New(hazard.Set{})
	}
	c.policy.Store(initial)

	var discoveryOpts []discovery.Option
	dispatchOpts := []dispatch.Option{dispatch.WithTimeout(opts.RequestTimeout)}
	if opts.HTTPClient != nil {
		discoveryOpts = append(discoveryOpts, discovery.WithHTTPClient(opts.HTTPClient))
		dispatchOpts = append(dispatchOpts, dispatch.WithHTTPClient(opts.HTTPClient))
	}
	c.discoverer = discovery.New(opts.Browser, discoveryOpts...)
	c.dispatcher = dispatch.New(c.registry, dispatch.PolicyFunc(c.Policy), dispatchOpts...)

	if l := opts.Logger; l != nil {
		c.logger = l.Component("controller")
		c.registry.SetLogger(l.Component("registry"))
		c.discoverer.SetLogger(l.Component("discovery"))
		c.dispatcher.SetLogger(l.Component("dispatch"))
	}
	var schedOpts []scheduler.Option
	if l := opts.Logger; l != nil {
		schedOpts = append(schedOpts, scheduler.WithLogger(l.Component("scheduler")))
	}
	c.scheduler = scheduler.New(c, schedOpts...)

	return c, nil
}

// Discover runs one discovery and merges the result into the registry.
//
// Every found device is added or refreshed; devices that were not found are
// kept (see Run for pruning). With AutoSubscribe, new devices get an event
// receiver if receivers are running.
func (c *Controller) Discover(ctx context.Context) ([]device.Device, error) {
	if c.isClosed() {
		return nil, ErrShutdown
	}

	start := time.Now()
	found, err := c.discoverer.Discover(ctx, c.opts.Discovery)
	if m := c.opts.Metrics; m != nil {
		m.ObserveDiscovery(time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	added := 0
	for _, d := range found {
		refreshed, err := c.registry.AddOrRefresh(d)
		if err != nil {
			c.logger.Warn("discovered device rejected", "id", d.ID, "error", err)
			continue
		}
		if refreshed {
			continue
		}
		added++
		if c.opts.AutoSubscribe {
			c.subscribeLate(d)
		}
	}

	if m := c.opts.Metrics; m != nil {
		m.SetDevices(c.registry.Len())
	}
	c.logger.Info("discovery merged", "found", len(found), "new", added, "known", c.registry.Len())
	return found, nil
}

// subscribeLate starts a receiver for a device added while receivers run.
func (c *Controller) subscribeLate(d device.Device) {
	c.evMu.Lock()
	agg := c.agg
	c.evMu.Unlock()

	if agg != nil && agg.Add(d) {
		c.logger.Info("event receiver added for new device", "id", d.ID)
	}
}

// Devices returns a snapshot of the registry sorted by ID.
func (c *Controller) Devices() []device.Device {
	return c.registry.List()
}

// Device returns a copy of one registered device.
func (c *Controller) Device(id string) (*device.Device, error) {
	return c.registry.Get(id)
}

// RemoveDevice forgets a device and stops its event receiver.
func (c *Controller) RemoveDevice(id string) bool {
	if !c.registry.Remove(id) {
		return false
	}

	c.evMu.Lock()
	agg := c.agg
	c.evMu.Unlock()
	if agg != nil {
		agg.Remove(id)
	}

	if m := c.opts.Metrics; m != nil {
		m.ForgetDevice(id)
		m.SetDevices(c.registry.Len())
	}
	return true
}

// Policy returns the current policy. The value is immutable.
func (c *Controller) Policy() *policy.Policy {
	return c.policy.Load()
}

// SetPolicy replaces the policy. Nil installs an empty policy.
func (c *Controller) SetPolicy(p *policy.Policy) {
	if p == nil {
		p = policy.New(hazard.Set{})
	}
	c.policy.Store(p)
	c.logger.Info("policy replaced", "blocked", p.Hazards().Strings(), "devices", len(p.Devices()))
}

// BlockDeviceOnHazards replaces one device's local block-set with hazards.
// The last call for a device wins; an empty set clears its block.
func (c *Controller) BlockDeviceOnHazards(deviceID string, hazards hazard.Set) *policy.Policy {
	for {
		old := c.policy.Load()
		next := old.BlockDeviceOnHazards(deviceID, hazards)
		if c.policy.CompareAndSwap(old, next) {
			c.logger.Info("device policy replaced", "id", deviceID, "hazards", hazards.Strings())
			return next
		}
	}
}

// Check reports the hazards that would block an action, without I/O.
func (c *Controller) Check(deviceID, action string) (device.Action, hazard.Set, error) {
	_, act, blocked, err := c.dispatcher.Check(deviceID, action)
	return act, blocked, err
}

// Dispatch invokes one action through the policy gate and records the
// outcome to the audit trail, metrics and time series when configured.
func (c *Controller) Dispatch(ctx context.Context, deviceID, action string, args map[string]any) (*dispatch.Response, error) {
	if c.isClosed() {
		return nil, ErrShutdown
	}

	start := time.Now()
	resp, err := c.dispatcher.Dispatch(ctx, deviceID, action, args)
	c.record(ctx, deviceID, action, start, err)
	return resp, err
}

// Schedule queues a batch of requests for later or periodic dispatch. Each
// request goes through Dispatch, so policy, audit and metrics apply.
func (c *Controller) Schedule(t scheduler.Task) (string, error) {
	if c.isClosed() {
		return "", ErrShutdown
	}
	return c.scheduler.Schedule(t)
}

// CancelScheduled stops a scheduled task. It reports whether it was pending.
func (c *Controller) CancelScheduled(id string) bool {
	return c.scheduler.Cancel(id)
}

// ScheduledTasks returns the IDs of pending tasks.
func (c *Controller) ScheduledTasks() []string {
	return c.scheduler.Pending()
}

func (c *Controller) record(ctx context.Context, deviceID, action string, start time.Time, err error) {
	elapsed := time.Since(start)

	entry := audit.Entry{
		DeviceID:  deviceID,
		Action:    action,
		Outcome:   audit.OutcomeAllowed,
		Duration:  elapsed,
		CreatedAt: start.UTC(),
	}
	if act, _, cerr := c.Check(deviceID, action); cerr == nil {
		entry.Hazards = act.Hazards
	}

	var blocked *dispatch.PolicyBlockedError
	switch {
	case err == nil:
	case errors.As(err, &blocked):
		entry.Outcome = audit.OutcomeBlocked
		entry.Blocked = blocked.Hazards
		entry.Error = err.Error()
	default:
		entry.Outcome = audit.OutcomeFailed
		entry.Error = err.Error()
	}

	if m := c.opts.Metrics; m != nil {
		m.ObserveDispatch(string(entry.Outcome), elapsed)
	}
	if s := c.opts.Series; s != nil {
		s.WriteDispatch(deviceID, action, string(entry.Outcome), elapsed, start)
	}
	if repo := c.opts.Audit; repo != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if aerr := repo.Create(actx, &entry); aerr != nil {
			c.logger.Error("audit write failed", "device_id", deviceID, "action", action, "error", aerr)
		}
	}
}

// StartEventReceivers starts one receiver per registered device with a
// broker and returns the aggregated stream. Devices added later are only
// picked up with AutoSubscribe or by a fresh start after
// StopEventReceivers.
func (c *Controller) StartEventReceivers(capacity int) (*events.Receiver, error) {
	c.evMu.Lock()
	defer c.evMu.Unlock()

	if c.closed {
		return nil, ErrShutdown
	}
	if c.agg != nil && c.agg.Running() {
		return nil, ErrEventsRunning
	}

	agg := events.New(c.opts.Dialer, c.opts.Events)
	if l := c.opts.Logger; l != nil {
		agg.SetLogger(l.Component("events"))
	}
	if m := c.opts.Metrics; m != nil {
		agg.SetObserver(m)
	}

	rx, err := agg.Start(c.registry.WithBroker(), capacity)
	if err != nil {
		return nil, err
	}
	c.agg = agg
	return rx, nil
}

// StopEventReceivers shuts the running receivers down and closes their
// stream. It is a no-op when none are running.
func (c *Controller) StopEventReceivers() {
	c.evMu.Lock()
	agg := c.agg
	c.evMu.Unlock()

	if agg != nil {
		agg.Shutdown()
	}
}

// EventStates returns the receiver state per device, or nil when receivers
// have never been started.
func (c *Controller) EventStates() map[string]events.State {
	c.evMu.Lock()
	agg := c.agg
	c.evMu.Unlock()

	if agg == nil {
		return nil
	}
	return agg.States()
}

// Run performs periodic rediscovery and pruning until ctx is done. Without
// a RefreshInterval it only waits for ctx.
func (c *Controller) Run(ctx context.Context) error {
	if c.opts.RefreshInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Controller) refresh(ctx context.Context) {
	if _, err := c.Discover(ctx); err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("periodic discovery failed", "error", err)
		}
		return
	}
	c.prune(time.Now())
}

// prune removes devices not seen since now-StaleAfter.
func (c *Controller) prune(now time.Time) []string {
	if c.opts.StaleAfter <= 0 {
		return nil
	}
	removed := c.registry.PruneStale(now.Add(-c.opts.StaleAfter))

	c.evMu.Lock()
	agg := c.agg
	c.evMu.Unlock()

	for _, id := range removed {
		if agg != nil {
			agg.Remove(id)
		}
		if m := c.opts.Metrics; m != nil {
			m.ForgetDevice(id)
		}
	}
	if m := c.opts.Metrics; m != nil && len(removed) > 0 {
		m.SetDevices(c.registry.Len())
	}
	return removed
}

// Shutdown cancels scheduled tasks, stops the event receivers and rejects
// further operations. It waits until the event stream is closed. Idempotent.
func (c *Controller) Shutdown() {
	c.evMu.Lock()
	c.closed = true
	agg := c.agg
	c.evMu.Unlock()

	c.scheduler.Close()
	if agg != nil {
		agg.Shutdown()
	}
	c.logger.Info("controller stopped")
}

func (c *Controller) isClosed() bool {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	return c.closed
}
