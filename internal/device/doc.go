// Package device models the devices found on the network and holds the
// in-memory Registry the controller reads from.
//
// A Device is built from two sources: the mDNS reply that announced it
// (instance name, addresses, port, TXT properties) and the JSON descriptor
// it serves at its base URL (kind, environment, actions, event broker).
// Each Action carries its HTTP method, an ordered parameter Schema, the
// hazards it declares and the kind of response it returns.
//
// The Registry is the single source of truth for discovered devices.
// Reads run concurrently; writes are serialised. Devices handed out are
// deep copies, so callers always see a consistent snapshot and cannot
// mutate registry state.
//
// Devices are not persisted; a restarted controller starts from an empty
// registry and rediscovers.
package device
