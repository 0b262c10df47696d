// Package policy implements the hazard gate applied before any device action.
//
// A Policy holds a global block-set and per-device block-sets. For an action
// with hazards A on device d the blocked hazards are
//
//	(global ∩ A) ∪ (local[d] ∩ A)
//
// and the action may run only when that set is empty. Policies are values:
// builders return new policies and existing ones never change.
package policy
