package device

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory set of discovered devices.
//
// Reads (Get, List) may run concurrently; writes (AddOrRefresh, Remove,
// PruneStale) are serialised. Stored and returned devices are deep copies.
//
// All public methods are thread-safe.
type Registry struct {
	devices map[string]*Device
	mu      sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddOrRefresh inserts d, or refreshes the entry with the same ID.
//
// A refresh overwrites every field except ID and DiscoveredAt. LastSeen
// defaults to now when unset. It reports whether an existing entry was
// refreshed.
func (r *Registry) AddOrRefresh(d Device) (bool, error) {
	if d.ID == "" {
		return false, fmt.Errorf("%w: empty id", ErrInvalidDevice)
	}

	stored := d.DeepCopy()
	if stored.LastSeen.IsZero() {
		stored.LastSeen = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[d.ID]
	if ok {
		stored.DiscoveredAt = existing.DiscoveredAt
	} else if stored.DiscoveredAt.IsZero() {
		stored.DiscoveredAt = stored.LastSeen
	}
	r.devices[d.ID] = stored

	if ok {
		r.logger.Debug("device refreshed", "id", d.ID)
	} else {
		r.logger.Info("device registered", "id", d.ID, "kind", d.Kind, "actions", len(d.Actions))
	}
	return ok, nil
}

// Remove deletes a device. It reports whether the device was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info("device removed", "id", id)
	}
	return ok
}

// Get returns a copy of one device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// List returns a copy of every device, sorted by ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	r.mu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int { return cmp.Compare(a.ID, b.ID) })
	return devices
}

// WithBroker returns the devices that publish events, sorted by ID.
func (r *Registry) WithBroker() []Device {
	all := r.List()
	out := all[:0]
	for _, d := range all {
		if d.Broker != nil {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// PruneStale removes devices last seen before cutoff and returns their IDs.
func (r *Registry) PruneStale(cutoff time.Time) []string {
	r.mu.Lock()
	var removed []string
	for id, d := range r.devices {
		if d.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	slices.Sort(removed)
	for _, id := range removed {
		r.logger.Info("stale device pruned", "id", id)
	}
	return removed
}
