// Package hazard defines hazard tags and the immutable Set type the policy
// layer evaluates.
//
// A hazard is an opaque string declared by a device for each of its actions
// (for example "FireHazard" on an oven's heat action). The package ships a
// catalogue of well-known hazards with categories, but any tag a device
// declares is accepted and compared by exact name.
package hazard
