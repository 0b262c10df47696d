package policy

import (
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
)

// Policy decides which hazards are blocked, globally and per device.
//
// A Policy is immutable: BlockDeviceOnHazards returns a new Policy and leaves
// its receiver untouched, so any number of goroutines may call Evaluate on a
// shared *Policy while a writer builds and publishes a replacement.
//
// A nil *Policy blocks nothing.
type Policy struct {
	global hazard.Set
	local  map[string]hazard.Set
}

// New creates a policy blocking the given hazards on every device.
func New(global hazard.Set) *Policy {
	return &Policy{global: global}
}

// OnlyLocal creates a policy with an empty global set and one device entry.
func OnlyLocal(deviceID string, hazards hazard.Set) *Policy {
	return New(hazard.Set{}).BlockDeviceOnHazards(deviceID, hazards)
}

// FromConfig builds the startup policy from the YAML policy section.
func FromConfig(cfg config.PolicyConfig) *Policy {
	p := New(hazard.Parse(cfg.Block))
	for _, id := range slices.Sorted(maps.Keys(cfg.Devices)) {
		p = p.BlockDeviceOnHazards(id, hazard.Parse(cfg.Devices[id]))
	}
	return p
}

// BlockDeviceOnHazards returns a copy of p whose entry for deviceID is
// replaced by hazards. The last write for a device wins.
func (p *Policy) BlockDeviceOnHazards(deviceID string, hazards hazard.Set) *Policy {
	next := &Policy{local: make(map[string]hazard.Set)}
	if p != nil {
		next.global = p.global
		maps.Copy(next.local, p.local)
	}
	next.local[deviceID] = hazards
	return next
}

// Evaluate returns the hazards of an action that are blocked for deviceID:
// (global ∩ action) ∪ (local[deviceID] ∩ action).
// An empty result means the action is allowed.
func (p *Policy) Evaluate(deviceID string, action hazard.Set) hazard.Set {
	if p == nil || action.IsEmpty() {
		return hazard.Set{}
	}
	blocked := p.global.Intersect(action)
	if local, ok := p.local[deviceID]; ok {
		blocked = blocked.Union(local.Intersect(action))
	}
	return blocked
}

// Allows reports whether an action carrying the given hazards may run on deviceID.
func (p *Policy) Allows(deviceID string, action hazard.Set) bool {
	return p.Evaluate(deviceID, action).IsEmpty()
}

// Global returns the hazards blocked on every device.
func (p *Policy) Global() hazard.Set {
	if p == nil {
		return hazard.Set{}
	}
	return p.global
}

// Local returns the hazards blocked for one device only.
func (p *Policy) Local(deviceID string) (hazard.Set, bool) {
	if p == nil {
		return hazard.Set{}, false
	}
	s, ok := p.local[deviceID]
	return s, ok
}

// Devices returns the IDs with a device-specific entry, sorted.
func (p *Policy) Devices() []string {
	if p == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(p.local))
}

// Hazards returns every hazard the policy mentions.
func (p *Policy) Hazards() hazard.Set {
	if p == nil {
		return hazard.Set{}
	}
	all := p.global
	for _, s := range p.local {
		all = all.Union(s)
	}
	return all
}

// Snapshot is the JSON view of a policy.
type Snapshot struct {
	Global  hazard.Set            `json:"global"`
	Devices map[string]hazard.Set `json:"devices"`
}

// Snapshot returns a serialisable copy of the policy.
func (p *Policy) Snapshot() Snapshot {
	s := Snapshot{Global: p.Global(), Devices: make(map[string]hazard.Set)}
	if p != nil {
		maps.Copy(s.Devices, p.local)
	}
	return s
}
