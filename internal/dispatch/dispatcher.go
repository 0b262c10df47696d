package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
	"github.com/nerrad567/gray-logic-fleet/internal/policy"
)

// DefaultTimeout bounds a dispatch when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Logger defines the logging interface used by the Dispatcher.
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

// DeviceSource resolves device IDs. *device.Registry implements it.
type DeviceSource interface {
	Get(id string) (*device.Device, error)
}

// PolicySource returns the policy in force. It is read once per dispatch.
type PolicySource interface {
	Policy() *policy.Policy
}

// PolicyFunc adapts a function to PolicySource.
type PolicyFunc func() *policy.Policy

// Policy calls f.
func (f PolicyFunc) Policy() *policy.Policy { return f() }

// StaticPolicy is a PolicySource that always returns p.
func StaticPolicy(p *policy.Policy) PolicySource {
	return PolicyFunc(func() *policy.Policy { return p })
}

// Dispatcher gates device actions through the policy and sends at most one
// HTTP request per call. It never retries.
//
// All public methods are thread-safe.
type Dispatcher struct {
	devices  DeviceSource
	policies PolicySource
	client   *http.Client
	timeout  time.Duration
	logger   Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// New creates a Dispatcher reading devices and policy from the given sources.
func New(devices DeviceSource, policies PolicySource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		devices:  devices,
		policies: policies,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Check resolves an action and evaluates the policy without any network I/O.
// It returns the device, the action and the blocked hazards (empty if allowed).
func (d *Dispatcher) Check(deviceID, actionName string) (*device.Device, device.Action, hazard.Set, error) {
	dev, err := d.devices.Get(deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, device.Action{}, hazard.Set{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		}
		return nil, device.Action{}, hazard.Set{}, err
	}

	action, ok := dev.Action(actionName)
	if !ok {
		return nil, device.Action{}, hazard.Set{}, fmt.Errorf("%w: %s on device %s", ErrUnknownAction, actionName, deviceID)
	}

	blocked := d.policies.Policy().Evaluate(deviceID, action.Hazards)
	return dev, action, blocked, nil
}

// Dispatch invokes one action on one device.
//
// Steps, in order: resolve device and action, evaluate the policy, validate
// arguments, send exactly one request, classify the response. A policy
// block returns *PolicyBlockedError before any network I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, actionName string, args map[string]any) (*Response, error) {
	dev, action, blocked, err := d.Check(deviceID, actionName)
	if err != nil {
		return nil, err
	}
	if !blocked.IsEmpty() {
		d.logger.Warn("action blocked by policy",
			"device_id", deviceID,
			"action", action.Name,
			"hazards", blocked.Strings(),
		)
		return nil, &PolicyBlockedError{DeviceID: deviceID, Action: action.Name, Hazards: blocked}
	}

	values, err := action.Params.Resolve(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	if dev.BaseURL == "" {
		return nil, fmt.Errorf("%w: device %s has no reachable address", ErrDeviceUnreachable, deviceID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	req, err := buildRequest(reqCtx, dev, action, values)
	if err != nil {
		cancel()
		return nil, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		err = classifyTransportError(err)
		d.logger.Warn("action request failed",
			"device_id", deviceID,
			"action", action.Name,
			"error", err,
		)
		return nil, err
	}

	out, err := classify(deviceID, action, resp, cancel)
	d.logger.Debug("action dispatched",
		"device_id", deviceID,
		"action", action.Name,
		"method", action.Method,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"error", err,
	)
	return out, err
}

// classifyTransportError maps an http.Client error onto the dispatch taxonomy.
func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrRequestTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrRequestFailed, err)
}
