package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
)

const (
	// DefaultTimeout is the reply window when Options.Timeout is zero.
	DefaultTimeout = 2 * time.Second

	// defaultFetchLimit bounds concurrent descriptor fetches.
	defaultFetchLimit = 8

	// maxDescriptorSize bounds a descriptor body (1 MB).
	maxDescriptorSize = 1 << 20
)

// Logger defines the logging interface used by the Discoverer.
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

// Options configures one discovery run.
type Options struct {
	ServiceDomain  string
	Transport      string
	TopLevelDomain string

	// Timeout bounds the total wait for mDNS replies.
	Timeout time.Duration

	DisabledInterfaces []string
	DisableIPv6        bool
	DisabledIPs        []net.IP

	// TopicPrefix and TopicSuffix build event topics for devices whose
	// descriptor names a broker but no topic.
	TopicPrefix string
	TopicSuffix string
}

// OptionsFromConfig maps the discovery and events config sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServiceDomain:      cfg.Discovery.ServiceDomain,
		Transport:          cfg.Discovery.Transport,
		TopLevelDomain:     cfg.Discovery.TopLevelDomain,
		Timeout:            cfg.GetDiscoveryTimeout(),
		DisabledInterfaces: cfg.Discovery.DisabledInterfaces,
		DisableIPv6:        cfg.Discovery.DisableIPv6,
		DisabledIPs:        cfg.Discovery.ParsedDisabledIPs(),
		TopicPrefix:        cfg.Events.TopicPrefix,
		TopicSuffix:        cfg.Events.TopicSuffix,
	}
}

// ServiceType returns the DNS-SD service type, e.g. "_tosca._tcp".
func (o Options) ServiceType() string {
	return "_" + o.ServiceDomain + "._" + o.Transport
}

// Domain returns the browse domain with a trailing dot, e.g. "local.".
func (o Options) Domain() string {
	tld := strings.Trim(o.TopLevelDomain, ".")
	if tld == "" {
		tld = "local"
	}
	return tld + "."
}

// Validate checks the service label and transport.
func (o Options) Validate() error {
	if err := validateServiceDomain(o.ServiceDomain); err != nil {
		return err
	}
	if o.Transport != "tcp" && o.Transport != "udp" {
		return fmt.Errorf("%w: %q", ErrInvalidTransport, o.Transport)
	}
	return nil
}

// validateServiceDomain applies the RFC 6335 service name rules:
// 1-15 characters, letters, digits and hyphens, at least one letter,
// no leading, trailing or doubled hyphen.
func validateServiceDomain(s string) error {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %q %s", ErrInvalidServiceDomain, s, reason)
	}
	if len(s) == 0 || len(s) > 15 {
		return invalid("must be 1 to 15 characters")
	}
	if s[0] == '-' || s[len(s)-1] == '-' || strings.Contains(s, "--") {
		return invalid("has a misplaced hyphen")
	}
	hasLetter := false
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			hasLetter = true
		case c >= '0' && c <= '9', c == '-':
		default:
			return invalid("contains an invalid character")
		}
	}
	if !hasLetter {
		return invalid("needs at least one letter")
	}
	return nil
}

// Discoverer finds devices over mDNS and fetches their descriptors.
type Discoverer struct {
	browser    Browser
	client     *http.Client
	fetchLimit int
	logger     Logger
	now        func() time.Time
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithHTTPClient replaces the client used for descriptor fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Discoverer) { d.client = c }
}

// WithFetchLimit bounds concurrent descriptor fetches.
func WithFetchLimit(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.fetchLimit = n
		}
	}
}

// New creates a Discoverer. A nil browser selects ZeroconfBrowser.
func New(browser Browser, opts ...Option) *Discoverer {
	if browser == nil {
		browser = ZeroconfBrowser{}
	}
	d := &Discoverer{
		browser:    browser,
		client:     &http.Client{Timeout: DefaultTimeout},
		fetchLimit: defaultFetchLimit,
		logger:     noopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger sets the logger for the discoverer.
func (d *Discoverer) SetLogger(logger Logger) {
	d.logger = logger
}

// Discover browses for opts.Timeout, deduplicates replies and fetches each
// device's descriptor. Devices that cannot be reached or described are
// skipped with a warning. An empty result is not an error.
func (d *Discoverer) Discover(ctx context.Context, opts Options) ([]device.Device, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	records, err := d.collect(ctx, opts, timeout)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("mdns replies collected", "service", opts.ServiceType(), "instances", len(records))

	devices, err := d.describe(ctx, records, opts)
	if err != nil {
		return nil, err
	}

	d.logger.Info("discovery finished",
		"service", opts.ServiceType()+"."+opts.Domain(),
		"replies", len(records),
		"devices", len(devices),
	)
	return devices, nil
}

// collect gathers deduplicated records until the reply window closes.
func (d *Discoverer) collect(ctx context.Context, opts Options, timeout time.Duration) ([]Record, error) {
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := d.browser.Browse(browseCtx, opts.ServiceType(), opts.Domain(), BrowseOptions{
		DisabledInterfaces: opts.DisabledInterfaces,
		DisableIPv6:        opts.DisableIPv6,
	})
	if err != nil {
		if errors.Is(err, ErrDiscoveryFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	c := newCollector(opts, d.logger)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return c.records(), ctx.Err()
			}
			c.add(r)
		case <-browseCtx.Done():
			// Parent cancellation aborts; the window elapsing ends collection.
			return c.records(), ctx.Err()
		}
	}
}

// describe fetches descriptors concurrently and builds devices.
func (d *Discoverer) describe(ctx context.Context, records []Record, opts Options) ([]device.Device, error) {
	results := make([]*device.Device, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fetchLimit)
	for i, r := range records {
		g.Go(func() error {
			dev, err := d.describeOne(gctx, r, opts)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				d.logger.Warn("skipping device", "instance", r.Instance, "error", err)
				return nil
			}
			results[i] = dev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	devices := make([]device.Device, 0, len(results))
	for _, dev := range results {
		if dev != nil {
			devices = append(devices, *dev)
		}
	}
	slices.SortFunc(devices, func(a, b device.Device) int { return cmp.Compare(a.ID, b.ID) })
	return devices, nil
}

// describeOne tries each address in order until one serves a valid descriptor.
func (d *Discoverer) describeOne(ctx context.Context, r Record, opts Options) (*device.Device, error) {
	scheme := schemeOf(r)

	var lastErr error
	for _, ip := range r.Addresses() {
		base := scheme + "://" + net.JoinHostPort(ip.String(), strconv.Itoa(r.Port))
		desc, err := d.fetchDescriptor(ctx, base)
		if err != nil {
			lastErr = err
			d.logger.Debug("descriptor fetch failed", "instance", r.Instance, "url", base, "error", err)
			continue
		}

		dev := device.Device{
			ID:         r.Instance,
			FullName:   r.FullName,
			HostName:   r.HostName,
			Addresses:  r.Addresses(),
			Port:       r.Port,
			Scheme:     scheme,
			Properties: r.Text,
			BaseURL:    base,
			LastSeen:   d.now(),
		}
		desc.Apply(&dev, opts.TopicPrefix, opts.TopicSuffix)
		return &dev, nil
	}
	return nil, fmt.Errorf("no address served a descriptor: %w", lastErr)
}

func (d *Discoverer) fetchDescriptor(ctx context.Context, base string) (*device.Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("descriptor status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorSize))
	if err != nil {
		return nil, err
	}
	return device.ParseDescriptor(body)
}

// schemeOf returns the record's "scheme" TXT property, defaulting to http.
func schemeOf(r Record) string {
	if s := strings.ToLower(strings.TrimSpace(r.Text["scheme"])); s != "" {
		return s
	}
	return "http"
}
