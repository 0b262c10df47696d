// Package api implements the HTTP REST API and WebSocket event stream of the
// fleet controller.
//
// This package provides:
//   - REST endpoints to list, inspect and forget devices and to run discovery
//   - Action dispatch with policy decisions mapped to HTTP status codes
//   - Read access to the hazard policy and the dispatch audit trail
//   - A WebSocket hub relaying aggregated device events, filtered per client
//   - Optional HS256 bearer authentication
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Dispatch status codes
//
//	200  action performed (Stream responses are relayed as octet-stream)
//	400  invalid parameter or malformed body
//	403  policy_blocked, with the blocking hazards
//	404  unknown device or action
//	502  device error, unreachable device or malformed device response
//	504  device request timed out
//
// # Security
//
// With security.jwt.secret set, every /api/v1 route except /health requires
// a bearer token. WebSocket clients that cannot set headers may pass the
// token as the access_token query parameter.
package api
