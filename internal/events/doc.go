// Package events aggregates the event streams of many devices into one
// bounded channel.
//
// Every device that advertises an MQTT broker gets an independent task
// running a small state machine:
//
//	Disconnected -> Connecting -> Subscribed -> Receiving
//
// A failed or timed-out connect, or a lost connection, returns the task to
// Disconnected for a fixed ReconnectDelay before it dials again. Shutdown
// moves every task to Cancelled, which is terminal.
//
// # Back-pressure
//
// All tasks send into one channel of fixed capacity. When it is full the
// sending task blocks, which in turn holds back that device's broker
// connection. Events are never dropped while the aggregator runs; a slow
// consumer stalls only the devices whose events are waiting.
//
// # Ordering
//
// Events of one device arrive in broker order with increasing Seq. There is
// no ordering across devices.
//
// # Usage
//
//	agg := events.New(events.NewMQTTDialer(cfg.Events), events.ConfigFrom(cfg))
//	rx, err := agg.Start(registry.List(), 100)
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    for ev := range rx.C() {
//	        handle(ev)
//	    }
//	}()
//	...
//	agg.Shutdown() // rx.C() is closed once this returns
package events
