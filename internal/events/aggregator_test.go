package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

func fastConfig() Config {
	return Config{
		ConnectTimeout: 50 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func TestStartValidation(t *testing.T) {
	agg := New(newFakeDialer(), fastConfig())

	if _, err := agg.Start(nil, 0); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("Start(capacity 0) error = %v, want ErrInvalidCapacity", err)
	}

	if _, err := agg.Start(nil, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	if _, err := agg.Start(nil, 1); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartSkipsDevicesWithoutBroker(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())

	devices := []device.Device{brokerDevice("fridge"), {ID: "lamp"}}
	if _, err := agg.Start(devices, 4); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	waitState(t, agg, "fridge", StateReceiving)

	states := agg.States()
	if len(states) != 1 {
		t.Errorf("States() = %v, want only fridge", states)
	}
	if _, ok := states["lamp"]; ok {
		t.Error("States() contains lamp, which has no broker")
	}
	if got := dialer.session("fridge", 1).topic; got != "tosca/fridge/events" {
		t.Errorf("subscribed topic = %q, want tosca/fridge/events", got)
	}
}

// A slow consumer with capacity 1 must still see every event of every
// device, each device in publish order.
func TestSlowConsumerLosesNothing(t *testing.T) {
	const perDevice = 50
	ids := []string{"d1", "d2", "d3"}

	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())

	devices := make([]device.Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, brokerDevice(id))
	}
	rx, err := agg.Start(devices, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, id := range ids {
		waitState(t, agg, id, StateReceiving)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		sess := dialer.session(id, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= perDevice; i++ {
				sess.publish(strconv.Itoa(i))
			}
		}()
	}

	next := map[string]int{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for n := 0; n < perDevice*len(ids); n++ {
		if n%10 == 0 {
			time.Sleep(time.Millisecond)
		}
		ev, err := rx.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv() after %d events error = %v", n, err)
		}
		next[ev.DeviceID]++
		want := next[ev.DeviceID]
		if ev.Seq != uint64(want) {
			t.Errorf("%s: Seq = %d, want %d", ev.DeviceID, ev.Seq, want)
		}
		if string(ev.Payload) != strconv.Itoa(want) {
			t.Errorf("%s: payload = %s, want %d", ev.DeviceID, ev.Payload, want)
		}
		if ev.Topic != "tosca/"+ev.DeviceID+"/events" {
			t.Errorf("Topic = %q", ev.Topic)
		}
	}
	wg.Wait()

	for _, id := range ids {
		if next[id] != perDevice {
			t.Errorf("%s: received %d events, want %d", id, next[id], perDevice)
		}
	}

	agg.Shutdown()
	if _, err := rx.Recv(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv() after Shutdown error = %v, want ErrStreamClosed", err)
	}
}

func TestReconnectAfterConnectFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failures["fridge"] = 2
	obs := &recordingObserver{}

	agg := New(dialer, fastConfig())
	agg.SetObserver(obs)
	if _, err := agg.Start([]device.Device{brokerDevice("fridge")}, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	waitState(t, agg, "fridge", StateReceiving)

	if got := dialer.dialCount("fridge"); got != 3 {
		t.Errorf("dial count = %d, want 3", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.failures != 2 {
		t.Errorf("ConnectFailed count = %d, want 2", obs.failures)
	}
}

func TestConnectTimeoutIsRetried(t *testing.T) {
	dialer := newFakeDialer()
	dialer.hang["fridge"] = true

	agg := New(dialer, Config{ConnectTimeout: 10 * time.Millisecond, ReconnectDelay: 5 * time.Millisecond})
	rx, err := agg.Start([]device.Device{brokerDevice("fridge")}, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "second dial", func() bool { return dialer.dialCount("fridge") >= 2 })

	agg.Shutdown()
	if _, ok := <-rx.C(); ok {
		t.Error("received an event from a device that never connected")
	}
	if got := agg.States()["fridge"]; got != StateCancelled {
		t.Errorf("state after Shutdown = %v, want cancelled", got)
	}
}

func TestReconnectAfterLostConnection(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())
	rx, err := agg.Start([]device.Device{brokerDevice("fridge")}, 4)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	waitState(t, agg, "fridge", StateReceiving)
	first := dialer.session("fridge", 1)
	first.publish("a")
	first.drop(errors.New("network down"))

	waitFor(t, "second session", func() bool { return dialer.session("fridge", 2) != nil })
	waitState(t, agg, "fridge", StateReceiving)

	if !first.isClosed() {
		t.Error("lost session was not closed")
	}

	dialer.session("fridge", 2).publish("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, want := range []string{"a", "b"} {
		ev, err := rx.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if string(ev.Payload) != want || ev.Seq != uint64(i+1) {
			t.Errorf("event %d = (%s, seq %d), want (%s, seq %d)", i, ev.Payload, ev.Seq, want, i+1)
		}
	}
}

func TestShutdownDuringBackoff(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failures["fridge"] = 1000

	agg := New(dialer, Config{ConnectTimeout: time.Second, ReconnectDelay: time.Hour})
	if _, err := agg.Start([]device.Device{brokerDevice("fridge")}, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, agg, "fridge", StateDisconnected)
	waitFor(t, "first dial", func() bool { return dialer.dialCount("fridge") == 1 })

	done := make(chan struct{})
	go func() {
		agg.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown() blocked on the reconnect delay")
	}
	if got := agg.States()["fridge"]; got != StateCancelled {
		t.Errorf("state = %v, want cancelled", got)
	}
}

// A producer blocked on a full channel must be released by Shutdown.
func TestShutdownReleasesBlockedProducer(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())
	rx, err := agg.Start([]device.Device{brokerDevice("fridge")}, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, agg, "fridge", StateReceiving)
	sess := dialer.session("fridge", 1)

	published := make(chan struct{})
	go func() {
		sess.publish("1")
		sess.publish("2") // blocks: nobody reads
		close(published)
	}()

	// Let the second publish reach the blocked send.
	time.Sleep(20 * time.Millisecond)

	shutdown := make(chan struct{})
	go func() {
		agg.Shutdown()
		close(shutdown)
	}()

	for _, ch := range []chan struct{}{published, shutdown} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("blocked producer was not released by Shutdown")
		}
	}

	var got []string
	for ev := range rx.C() {
		got = append(got, string(ev.Payload))
	}
	if len(got) == 0 || got[0] != "1" {
		t.Errorf("drained events = %v, want first event 1", got)
	}
	if !sess.isClosed() {
		t.Error("session not closed after Shutdown")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	agg := New(newFakeDialer(), fastConfig())
	agg.Shutdown() // before Start: no-op

	rx, err := agg.Start([]device.Device{brokerDevice("a"), brokerDevice("b")}, 2)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Shutdown()
		}()
	}
	wg.Wait()
	agg.Shutdown()

	if _, ok := <-rx.C(); ok {
		t.Error("channel still open after Shutdown")
	}
	if agg.Running() {
		t.Error("Running() = true after Shutdown")
	}
	for id, s := range agg.States() {
		if s != StateCancelled {
			t.Errorf("%s state = %v, want cancelled", id, s)
		}
	}
}

func TestStartSkipsUnusableTopics(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())

	noTopic := brokerDevice("light")
	noTopic.Broker.Topic = ""
	badTopic := brokerDevice("fan")
	badTopic.Broker.Topic = "tosca/#/events"

	if _, err := agg.Start([]device.Device{noTopic, badTopic, brokerDevice("fridge")}, 4); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	waitState(t, agg, "fridge", StateReceiving)
	if states := agg.States(); len(states) != 1 {
		t.Errorf("States() = %v, want only fridge", states)
	}

	late := brokerDevice("heater")
	late.Broker.Topic = ""
	if agg.Add(late) {
		t.Error("Add(empty topic) = true, want false")
	}
	for _, id := range []string{"light", "fan", "heater"} {
		if n := dialer.dialCount(id); n != 0 {
			t.Errorf("dialCount(%s) = %d, want 0", id, n)
		}
	}
}

func TestRemoveKeepsTaskUntilStopped(t *testing.T) {
	dialer := newFakeDialer()
	dialer.closeGate = make(chan struct{})
	agg := New(dialer, fastConfig())

	if _, err := agg.Start([]device.Device{brokerDevice("fridge")}, 4); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, agg, "fridge", StateReceiving)
	sess := dialer.session("fridge", 1)

	removed := make(chan bool, 1)
	go func() { removed <- agg.Remove("fridge") }()

	// The task is now stuck closing its session.
	<-sess.closing
	if agg.Add(brokerDevice("fridge")) {
		t.Error("Add() while the previous task is stopping = true, want false")
	}

	close(dialer.closeGate)
	if ok := <-removed; !ok {
		t.Error("Remove() = false, want true")
	}
	if n := dialer.dialCount("fridge"); n != 1 {
		t.Errorf("dialCount(fridge) = %d, want 1", n)
	}

	if !agg.Add(brokerDevice("fridge")) {
		t.Error("Add() after Remove completed = false, want true")
	}
	waitState(t, agg, "fridge", StateReceiving)
	agg.Shutdown()
}

func TestAddAndRemove(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())

	if agg.Add(brokerDevice("early")) {
		t.Error("Add() before Start = true, want false")
	}

	rx, err := agg.Start(nil, 4)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !agg.Add(brokerDevice("late")) {
		t.Fatal("Add(late) = false, want true")
	}
	if agg.Add(brokerDevice("late")) {
		t.Error("second Add(late) = true, want false")
	}
	if agg.Add(device.Device{ID: "nobroker"}) {
		t.Error("Add(no broker) = true, want false")
	}

	waitState(t, agg, "late", StateReceiving)
	sess := dialer.session("late", 1)
	sess.publish("hello")

	ev, err := rx.Recv(context.Background())
	if err != nil || ev.DeviceID != "late" {
		t.Fatalf("Recv() = %+v, %v", ev, err)
	}

	if !agg.Remove("late") {
		t.Error("Remove(late) = false, want true")
	}
	if !sess.isClosed() {
		t.Error("session not closed by Remove")
	}
	if agg.Remove("late") {
		t.Error("second Remove(late) = true, want false")
	}
	if _, ok := agg.States()["late"]; ok {
		t.Error("removed task still listed in States()")
	}

	agg.Shutdown()
	if agg.Add(brokerDevice("after")) {
		t.Error("Add() after Shutdown = true, want false")
	}
}

// Messages that arrive after a task stopped are discarded without touching
// the closed channel.
func TestLateMessageAfterShutdown(t *testing.T) {
	dialer := newFakeDialer()
	agg := New(dialer, fastConfig())
	rx, err := agg.Start([]device.Device{brokerDevice("fridge")}, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, agg, "fridge", StateReceiving)
	sess := dialer.session("fridge", 1)

	agg.Shutdown()

	sess.mu.Lock()
	handler := sess.handler
	sess.mu.Unlock()
	handler("tosca/fridge/events", []byte("late")) // must not panic

	if _, ok := <-rx.C(); ok {
		t.Error("late message was delivered")
	}
}

func TestRecvHonoursContext(t *testing.T) {
	agg := New(newFakeDialer(), fastConfig())
	rx, err := agg.Start(nil, 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agg.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := rx.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv() error = %v, want DeadlineExceeded", err)
	}
}

func TestStateTransitionsObserved(t *testing.T) {
	dialer := newFakeDialer()
	obs := &recordingObserver{}
	agg := New(dialer, fastConfig())
	agg.SetObserver(obs)

	if _, err := agg.Start([]device.Device{brokerDevice("x")}, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, agg, "x", StateReceiving)
	agg.Shutdown()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []string{
		"x:disconnected->connecting",
		"x:connecting->subscribed",
		"x:subscribed->receiving",
		"x:receiving->cancelled",
	}
	if fmt.Sprint(obs.transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", obs.transitions, want)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateSubscribed, "subscribed"},
		{StateReceiving, "receiving"},
		{StateCancelled, "cancelled"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
