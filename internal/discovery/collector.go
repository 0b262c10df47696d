package discovery

import (
	"net"
	"slices"
)

// collector deduplicates mDNS replies.
//
// A reply for a known instance replaces the earlier one. A reply from a
// different instance that shares an address and port with a kept instance
// is the same device announced twice and is dropped.
type collector struct {
	opts   Options
	logger Logger
	byName map[string]Record
	order  []string
}

func newCollector(opts Options, logger Logger) *collector {
	return &collector{
		opts:   opts,
		logger: logger,
		byName: make(map[string]Record),
	}
}

func (c *collector) add(r Record) {
	r.IPv4 = c.filter(r.IPv4)
	if c.opts.DisableIPv6 {
		r.IPv6 = nil
	} else {
		r.IPv6 = c.filter(r.IPv6)
	}

	if r.Instance == "" {
		c.logger.Debug("ignoring reply without instance name", "host", r.HostName)
		return
	}
	if len(r.IPv4) == 0 && len(r.IPv6) == 0 {
		c.logger.Warn("ignoring reply without usable address", "instance", r.Instance)
		return
	}
	if s := schemeOf(r); s != "http" && s != "https" {
		c.logger.Warn("ignoring reply with unsupported scheme", "instance", r.Instance, "scheme", s)
		return
	}

	if _, known := c.byName[r.Instance]; known {
		c.byName[r.Instance] = r
		return
	}
	for _, name := range c.order {
		if sameEndpoint(c.byName[name], r) {
			c.logger.Debug("ignoring duplicate announcement", "instance", r.Instance, "duplicate_of", name)
			return
		}
	}
	c.byName[r.Instance] = r
	c.order = append(c.order, r.Instance)
}

func (c *collector) records() []Record {
	out := make([]Record, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

func (c *collector) filter(ips []net.IP) []net.IP {
	if len(c.opts.DisabledIPs) == 0 {
		return ips
	}
	return slices.DeleteFunc(slices.Clone(ips), func(ip net.IP) bool {
		return slices.ContainsFunc(c.opts.DisabledIPs, ip.Equal)
	})
}

// sameEndpoint reports whether two records share a port and at least one address.
func sameEndpoint(a, b Record) bool {
	if a.Port != b.Port {
		return false
	}
	for _, ip := range a.Addresses() {
		if slices.ContainsFunc(b.Addresses(), ip.Equal) {
			return true
		}
	}
	return false
}
