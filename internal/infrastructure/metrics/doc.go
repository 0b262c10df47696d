// Package metrics exports Prometheus collectors for discovery, dispatch,
// event aggregation and the API.
//
// Metrics implements events.Observer so the aggregator can report receiver
// state changes, connection failures and forwarded events directly.
package metrics
