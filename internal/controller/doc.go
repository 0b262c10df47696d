// Package controller composes device discovery, the device registry, the
// hazard policy, action dispatch and event aggregation into one facade.
//
// The controller is the single writer of the registry and of the policy.
// Dispatch reads both through snapshots, so a policy replaced with SetPolicy
// applies to every dispatch that starts afterwards and never to one already
// in flight.
//
// Usage:
//
//	ctrl, err := controller.New(controller.OptionsFromConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Shutdown()
//
//	if _, err := ctrl.Discover(ctx); err != nil {
//	    return err
//	}
//	resp, err := ctrl.Dispatch(ctx, "fridge", "increase-temperature", nil)
package controller
