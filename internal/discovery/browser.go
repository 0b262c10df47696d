package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Record is one resolved service instance from an mDNS reply.
type Record struct {
	Instance string
	FullName string
	HostName string
	Port     int
	IPv4     []net.IP
	IPv6     []net.IP
	Text     map[string]string
}

// Addresses returns IPv4 addresses first, then IPv6.
func (r Record) Addresses() []net.IP {
	return append(slices.Clone(r.IPv4), r.IPv6...)
}

// BrowseOptions restricts where a Browser listens.
type BrowseOptions struct {
	DisabledInterfaces []string
	DisableIPv6        bool
}

// Browser streams service instances for a DNS-SD service type. The returned
// channel is closed once ctx is done.
type Browser interface {
	Browse(ctx context.Context, service, domain string, opts BrowseOptions) (<-chan Record, error)
}

// ZeroconfBrowser browses with github.com/grandcat/zeroconf.
type ZeroconfBrowser struct{}

// Browse starts a multicast query on every up, multicast-capable interface
// that is not disabled.
func (ZeroconfBrowser) Browse(ctx context.Context, service, domain string, opts BrowseOptions) (<-chan Record, error) {
	ifaces, err := multicastInterfaces(opts.DisabledInterfaces)
	if err != nil {
		return nil, err
	}

	clientOpts := []zeroconf.ClientOption{zeroconf.SelectIfaces(ifaces)}
	if opts.DisableIPv6 {
		clientOpts = append(clientOpts, zeroconf.SelectIPTraffic(zeroconf.IPv4))
	}

	resolver, err := zeroconf.NewResolver(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating resolver: %w", ErrDiscoveryFailed, err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("%w: browsing %s: %w", ErrDiscoveryFailed, service, err)
	}

	out := make(chan Record, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				select {
				case out <- recordFromEntry(e):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func recordFromEntry(e *zeroconf.ServiceEntry) Record {
	return Record{
		Instance: e.Instance,
		FullName: e.ServiceInstanceName(),
		HostName: e.HostName,
		Port:     e.Port,
		IPv4:     e.AddrIPv4,
		IPv6:     e.AddrIPv6,
		Text:     parseText(e.Text),
	}
}

// parseText turns TXT strings ("key=value") into a map. Keys are
// case-insensitive per RFC 6763 and are lower-cased.
func parseText(txt []string) map[string]string {
	props := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, _ := strings.Cut(kv, "=")
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			props[k] = v
		}
	}
	return props
}

func multicastInterfaces(disabled []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: listing interfaces: %w", ErrDiscoveryFailed, err)
	}
	var ifaces []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if slices.Contains(disabled, iface.Name) {
			continue
		}
		ifaces = append(ifaces, iface)
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("%w: no multicast interface available", ErrDiscoveryFailed)
	}
	return ifaces, nil
}
