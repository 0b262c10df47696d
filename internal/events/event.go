package events

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// Event is one message received from a device's event broker.
type Event struct {
	DeviceID string
	Topic    string
	Payload  []byte
	// Seq counts the events forwarded for DeviceID, starting at 1.
	// It keeps counting across reconnects.
	Seq        uint64
	ReceivedAt time.Time
}

// Decode parses the payload as the event catalogue devices publish.
// Payload keeps the raw bytes either way.
func (e Event) Decode() (device.EventCatalogue, error) {
	return device.ParseEvents(e.Payload)
}

// Receiver is the consumer side of the aggregated event stream.
type Receiver struct {
	ch <-chan Event
}

// C returns the underlying channel. It is closed after Shutdown.
func (r *Receiver) C() <-chan Event {
	return r.ch
}

// Recv waits for the next event.
//
// It returns ErrStreamClosed once the stream has ended, or ctx.Err() if ctx
// is done first.
func (r *Receiver) Recv(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-r.ch:
		if !ok {
			return Event{}, ErrStreamClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
