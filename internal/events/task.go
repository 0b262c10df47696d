package events

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// task owns the broker connection of one device.
//
//	Disconnected -> Connecting -> Subscribed -> Receiving
//	      ^             |                          |
//	      +-- backoff --+--------------------------+
//
// Any state moves to Cancelled once ctx is done.
type task struct {
	id       string
	endpoint device.BrokerEndpoint
	cfg      Config
	dialer   Dialer
	out      chan<- Event
	logger   Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state atomic.Int32

	// mu guards stopped. Once stopped is set no handler enters forward,
	// and inflight drains the ones already inside.
	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	// sendMu serialises forwards so Seq matches channel order.
	sendMu sync.Mutex
	seq    uint64
}

// State returns the current state.
func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old == s {
		return
	}
	t.logger.Debug("event receiver state changed",
		"device", t.id,
		"from", old.String(),
		"to", s.String(),
	)
	t.observer.StateChanged(t.id, old, s)
}

func (t *task) run() {
	defer close(t.done)
	defer t.stop()

	for t.ctx.Err() == nil {
		t.setState(StateConnecting)

		sess, err := t.connect()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Warn("event broker connect failed",
				"device", t.id,
				"broker", t.endpoint.Address(),
				"retry_in", t.cfg.ReconnectDelay,
				"error", err,
			)
			t.observer.ConnectFailed(t.id)
			t.setState(StateDisconnected)
			if !t.backoff() {
				return
			}
			continue
		}

		err = t.receive(sess)
		sess.Close()
		if err == nil {
			return
		}

		t.logger.Warn("event broker connection lost",
			"device", t.id,
			"broker", t.endpoint.Address(),
			"retry_in", t.cfg.ReconnectDelay,
			"error", err,
		)
		t.setState(StateDisconnected)
		if !t.backoff() {
			return
		}
	}
}

// connect dials and subscribes within ConnectTimeout.
func (t *task) connect() (Session, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.ConnectTimeout)
	defer cancel()

	sess, err := t.dialer.Dial(ctx, t.id, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBrokerConnectFailed, t.endpoint.Address(), err)
	}
	if err := sess.Subscribe(t.endpoint.Topic, t.forward); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: subscribe %q: %w", ErrBrokerConnectFailed, t.endpoint.Topic, err)
	}

	t.setState(StateSubscribed)
	t.logger.Info("event receiver subscribed",
		"device", t.id,
		"broker", t.endpoint.Address(),
		"topic", t.endpoint.Topic,
	)
	return sess, nil
}

// receive waits until the session is lost (returning its error) or the task
// is cancelled (returning nil). Messages flow through forward meanwhile.
func (t *task) receive(sess Session) error {
	t.setState(StateReceiving)

	select {
	case <-t.ctx.Done():
		return nil
	case err := <-sess.Lost():
		if err == nil {
			err = errSessionLost
		}
		return err
	}
}

// forward is the session's message handler. It blocks while the shared
// channel is full and gives up only when the task is cancelled.
func (t *task) forward(topic string, payload []byte) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.inflight.Add(1)
	t.mu.Unlock()
	defer t.inflight.Done()

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.seq++
	ev := Event{
		DeviceID:   t.id,
		Topic:      topic,
		Payload:    bytes.Clone(payload),
		Seq:        t.seq,
		ReceivedAt: time.Now(),
	}

	select {
	case t.out <- ev:
		t.observer.EventForwarded(t.id)
	case <-t.ctx.Done():
	}
}

// backoff waits ReconnectDelay. It returns false if cancelled first.
func (t *task) backoff() bool {
	timer := time.NewTimer(t.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// stop releases the producer side. Only called once ctx is done.
func (t *task) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()

	t.inflight.Wait()
	t.setState(StateCancelled)
}
