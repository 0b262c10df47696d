package discovery

import "errors"

var (
	// ErrDiscoveryFailed is returned when the mDNS resolver cannot be
	// started, for example when no usable interface exists or the socket
	// cannot be bound.
	ErrDiscoveryFailed = errors.New("discovery: failed")

	// ErrInvalidServiceDomain is returned for a service label that is not a
	// valid DNS-SD service name.
	ErrInvalidServiceDomain = errors.New("discovery: invalid service domain")

	// ErrInvalidTransport is returned when the transport is neither tcp nor udp.
	ErrInvalidTransport = errors.New("discovery: invalid transport")
)
