// Package discovery finds devices announced over multicast DNS service
// discovery (DNS-SD) and builds registry entries from their descriptors.
//
// A run browses _<domain>._<transport>.<tld>. for a bounded window,
// deduplicates the replies, then fetches every instance's JSON descriptor
// over HTTP (concurrently, trying each advertised address in turn).
// Instances that cannot be reached or whose descriptor is invalid are
// skipped with a warning; finding nothing is a valid empty result.
//
// The multicast side sits behind the Browser interface. ZeroconfBrowser is
// the production implementation; tests supply replies directly.
package discovery
