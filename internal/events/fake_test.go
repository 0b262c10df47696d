package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

var errRefused = errors.New("connection refused")

// fakeSession behaves like a paho client: handler calls are sequential and
// a blocked handler blocks the caller of publish.
type fakeSession struct {
	deviceID string

	mu      sync.Mutex
	topic   string
	handler func(string, []byte)

	lost      chan error
	closing   chan struct{}
	closed    chan struct{}
	gate      chan struct{} // when set, Close waits for it
	closeOnce sync.Once
}

func (s *fakeSession) Subscribe(topic string, handler func(string, []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic = topic
	s.handler = handler
	return nil
}

func (s *fakeSession) Lost() <-chan error { return s.lost }

func (s *fakeSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.gate != nil {
			<-s.gate
		}
		close(s.closed)
	})
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// publish delivers one message unless the session is closed.
func (s *fakeSession) publish(payload string) {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	h, topic := s.handler, s.topic
	s.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func (s *fakeSession) drop(err error) {
	s.lost <- err
}

type fakeDialer struct {
	mu           sync.Mutex
	failures     map[string]int  // remaining failed dials per device
	hang         map[string]bool // dial blocks until ctx is done
	subscribeErr error
	closeGate    chan struct{}
	dials        map[string]int
	sessions     map[string][]*fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failures: make(map[string]int),
		hang:     make(map[string]bool),
		dials:    make(map[string]int),
		sessions: make(map[string][]*fakeSession),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, deviceID string, _ device.BrokerEndpoint) (Session, error) {
	d.mu.Lock()
	d.dials[deviceID]++
	if d.failures[deviceID] > 0 {
		d.failures[deviceID]--
		d.mu.Unlock()
		return nil, errRefused
	}
	if d.hang[deviceID] {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := &fakeSession{
		deviceID: deviceID,
		lost:     make(chan error, 1),
		closing:  make(chan struct{}),
		closed:   make(chan struct{}),
		gate:     d.closeGate,
	}
	d.sessions[deviceID] = append(d.sessions[deviceID], s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) dialCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[id]
}

// session returns the n-th session (1-based) opened for id, or nil.
func (d *fakeDialer) session(id string, n int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions[id]) < n {
		return nil
	}
	return d.sessions[id][n-1]
}

func brokerDevice(id string) device.Device {
	return device.Device{
		ID: id,
		Broker: &device.BrokerEndpoint{
			Host:  "127.0.0.1",
			Port:  1883,
			Topic: fmt.Sprintf("tosca/%s/events", id),
		},
	}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, agg *Aggregator, id string, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to reach %s", id, want), func() bool {
		return agg.States()[id] == want
	})
}

// recordingObserver counts notifications.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	failures    int
	forwarded   int
}

func (o *recordingObserver) StateChanged(id string, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, id+":"+from.String()+"->"+to.String())
}

func (o *recordingObserver) ConnectFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func (o *recordingObserver) EventForwarded(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forwarded++
}
