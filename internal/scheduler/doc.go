// Package scheduler sends batches of device requests at a later time or on
// a fixed period.
//
// A Task groups requests that are sent together: each run dispatches every
// request concurrently and waits for all of them before the next run is
// timed. Requests still pass through the controller's policy, so a blocked
// action is reported in the run's results like any other failure.
//
//	s := scheduler.New(ctrl)
//	id, err := s.Schedule(scheduler.Task{
//	    Requests: []scheduler.Request{{DeviceID: "fridge", Action: "decrease-temperature"}},
//	    Delay:    time.Minute,
//	    Every:    time.Hour,
//	})
//	...
//	s.Close()
//
// Close cancels every pending and in-flight run and waits for them.
package scheduler
