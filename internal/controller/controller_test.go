package controller

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/device/devicetest"
	"github.com/nerrad567/gray-logic-fleet/internal/discovery"
	"github.com/nerrad567/gray-logic-fleet/internal/dispatch"
	"github.com/nerrad567/gray-logic-fleet/internal/events"
	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-fleet/internal/policy"
	"github.com/nerrad567/gray-logic-fleet/internal/scheduler"
)

// fakeBrowser replays the current record set on every browse.
type fakeBrowser struct {
	mu      sync.Mutex
	records []discovery.Record
}

func (f *fakeBrowser) set(records ...discovery.Record) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

func (f *fakeBrowser) Browse(ctx context.Context, _, _ string, _ discovery.BrowseOptions) (<-chan discovery.Record, error) {
	f.mu.Lock()
	records := append([]discovery.Record(nil), f.records...)
	f.mu.Unlock()

	ch := make(chan discovery.Record)
	go func() {
		defer close(ch)
		for _, r := range records {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func recordFor(instance string, srv *devicetest.Server) discovery.Record {
	ip, port := srv.Addr()
	return discovery.Record{
		Instance: instance,
		Port:     port,
		IPv4:     []net.IP{ip},
		Text:     map[string]string{"scheme": "http"},
	}
}

// fakeSession delivers whatever is pushed on msgs to the subscribed handler.
type fakeSession struct {
	msgs chan []byte
	lost chan error
	once sync.Once
	done chan struct{}
}

func (s *fakeSession) Subscribe(topic string, handler func(string, []byte)) error {
	go func() {
		for {
			select {
			case p := <-s.msgs:
				handler(topic, p)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

func (s *fakeSession) Lost() <-chan error { return s.lost }
func (s *fakeSession) Close()             { s.once.Do(func() { close(s.done) }) }

type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: make(map[string]*fakeSession)}
}

func (d *fakeDialer) Dial(_ context.Context, id string, _ device.BrokerEndpoint) (events.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{msgs: make(chan []byte, 16), lost: make(chan error, 1), done: make(chan struct{})}
	d.sessions[id] = s
	return s, nil
}

func (d *fakeDialer) session(id string) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[id]
}

// memAudit keeps audit entries in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &audit.ListResult{Entries: append([]audit.Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func (m *memAudit) all() []audit.Entry {
	res, _ := m.List(context.Background(), audit.Filter{})
	return res.Entries
}

type seriesPoint struct {
	deviceID, action, outcome string
}

type memSeries struct {
	mu     sync.Mutex
	points []seriesPoint
}

func (m *memSeries) WriteDispatch(deviceID, action, outcome string, _ time.Duration, _ time.Time) {
	m.mu.Lock()
	m.points = append(m.points, seriesPoint{deviceID, action, outcome})
	m.mu.Unlock()
}

type fixture struct {
	ctrl    *Controller
	browser *fakeBrowser
	dialer  *fakeDialer
	audit   *memAudit
	series  *memSeries
	fridge  *devicetest.Server
	light   *devicetest.Server
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		browser: &fakeBrowser{},
		dialer:  newFakeDialer(),
		audit:   &memAudit{},
		series:  &memSeries{},
		fridge:  devicetest.NewServer(t, devicetest.Fridge("10.0.0.1", 1883)),
		light:   devicetest.NewServer(t, devicetest.Light("10.0.0.1", 1883)),
	}
	f.browser.set(recordFor("fridge", f.fridge), recordFor("light", f.light))

	opts := Options{
		Discovery: discovery.Options{
			ServiceDomain: "tosca",
			Transport:     "tcp",
			Timeout:       100 * time.Millisecond,
			TopicPrefix:   "tosca",
			TopicSuffix:   "events",
		},
		RequestTimeout: 2 * time.Second,
		Events:         events.Config{ConnectTimeout: time.Second, ReconnectDelay: 10 * time.Millisecond},
		Browser:        f.browser,
		Dialer:         f.dialer,
		Audit:          f.audit,
		Metrics:        metrics.New(),
		Series:         f.series,
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(ctrl.Shutdown)
	f.ctrl = ctrl
	return f
}

func (f *fixture) discover(t *testing.T) {
	t.Helper()
	if _, err := f.ctrl.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("New() error = %v, want ErrInvalidOptions", err)
	}
}

func TestDiscover_PopulatesRegistry(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	devices := f.ctrl.Devices()
	if len(devices) != 2 {
		t.Fatalf("len(Devices()) = %d, want 2", len(devices))
	}
	if devices[0].ID != "fridge" || devices[1].ID != "light" {
		t.Errorf("IDs = %s, %s; want fridge, light", devices[0].ID, devices[1].ID)
	}

	d, err := f.ctrl.Device("light")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if d.BaseURL != f.light.URL {
		t.Errorf("BaseURL = %q, want %q", d.BaseURL, f.light.URL)
	}

	// A rediscovery with fewer devices keeps the missing ones.
	f.browser.set(recordFor("light", f.light))
	f.discover(t)
	if n := len(f.ctrl.Devices()); n != 2 {
		t.Errorf("len(Devices()) after partial rediscovery = %d, want 2", n)
	}
}

func TestDispatch_AllowedAndAudited(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	resp, err := f.ctrl.Dispatch(context.Background(), "fridge", "increase-temperature", map[string]any{"increment": 3.0})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !resp.Acknowledged {
		t.Errorf("Acknowledged = false, want true")
	}

	reqs := f.fridge.Requests()
	if len(reqs) != 1 || reqs[0].Path != "/fridge/increase-temperature" {
		t.Fatalf("requests = %+v, want one PUT /fridge/increase-temperature", reqs)
	}

	entries := f.audit.all()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Outcome != audit.OutcomeAllowed || e.DeviceID != "fridge" || e.Action != "increase-temperature" {
		t.Errorf("audit entry = %+v", e)
	}
	if !e.Hazards.Contains(hazard.SpoiledFood) {
		t.Errorf("audit hazards = %v, want SpoiledFood", e.Hazards)
	}
	if len(f.series.points) != 1 || f.series.points[0].outcome != string(audit.OutcomeAllowed) {
		t.Errorf("series points = %+v", f.series.points)
	}
}

func TestDispatch_BlockedByPolicy(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Policy = policy.New(hazard.NewSet(hazard.SpoiledFood))
	})
	f.discover(t)

	_, err := f.ctrl.Dispatch(context.Background(), "fridge", "increase-temperature", nil)
	var blocked *dispatch.PolicyBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Dispatch() error = %v, want *PolicyBlockedError", err)
	}
	if !blocked.Hazards.Equal(hazard.NewSet(hazard.SpoiledFood)) {
		t.Errorf("blocked hazards = %v, want [SpoiledFood]", blocked.Hazards)
	}
	if n := len(f.fridge.Requests()); n != 0 {
		t.Errorf("device received %d requests, want 0", n)
	}

	// Decrease does not carry SpoiledFood.
	if _, err := f.ctrl.Dispatch(context.Background(), "fridge", "decrease-temperature", nil); err != nil {
		t.Errorf("Dispatch(decrease-temperature) error = %v", err)
	}

	entries := f.audit.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeBlocked || !entries[0].Blocked.Contains(hazard.SpoiledFood) {
		t.Errorf("first audit entry = %+v, want blocked on SpoiledFood", entries[0])
	}
	if entries[1].Outcome != audit.OutcomeAllowed {
		t.Errorf("second audit entry outcome = %s, want allowed", entries[1].Outcome)
	}
}

// Two devices discovered; the global policy blocks ElectricEnergyConsumption.
// The fridge's cool is refused without a request, the light's on goes through.
func TestDispatch_FridgeBlockedLightAllowed(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Policy = policy.New(hazard.NewSet(hazard.ElectricEnergyConsumption))
	})
	plain := devicetest.NewServer(t, devicetest.PlainLight("10.0.0.1", 1883))
	f.browser.set(recordFor("fridge", f.fridge), recordFor("light", plain))
	f.discover(t)

	if n := len(f.ctrl.Devices()); n != 2 {
		t.Fatalf("Devices() = %d, want 2", n)
	}

	_, err := f.ctrl.Dispatch(context.Background(), "fridge", "cool", nil)
	var blocked *dispatch.PolicyBlockedError
	if !errors.As(err, &blocked) || !errors.Is(err, dispatch.ErrPolicyBlocked) {
		t.Fatalf("Dispatch(fridge, cool) error = %v, want PolicyBlocked", err)
	}
	if !blocked.Hazards.Equal(hazard.NewSet(hazard.ElectricEnergyConsumption)) {
		t.Errorf("blocked hazards = %v, want [ElectricEnergyConsumption]", blocked.Hazards)
	}
	if n := len(f.fridge.Requests()); n != 0 {
		t.Errorf("fridge received %d requests, want 0", n)
	}

	resp, err := f.ctrl.Dispatch(context.Background(), "light", "on", nil)
	if err != nil {
		t.Fatalf("Dispatch(light, on) error = %v", err)
	}
	if resp == nil {
		t.Fatal("Dispatch(light, on) response = nil")
	}
	reqs := plain.Requests()
	if len(reqs) != 1 || reqs[0].Method != http.MethodPut || reqs[0].Path != "/light/on" {
		t.Errorf("light requests = %+v, want one PUT /light/on", reqs)
	}
}

func TestDispatch_FailedOutcomes(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	tests := []struct {
		name   string
		id     string
		action string
		want   error
	}{
		{"unknown device", "toaster", "on", dispatch.ErrUnknownDevice},
		{"unknown action", "light", "dim", dispatch.ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.Dispatch(context.Background(), tt.id, tt.action, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.want)
			}
		})
	}

	for _, e := range f.audit.all() {
		if e.Outcome != audit.OutcomeFailed || e.Error == "" {
			t.Errorf("audit entry = %+v, want failed with error text", e)
		}
	}
}

func TestPolicy_ReplaceAndExtend(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	if !f.ctrl.Policy().Hazards().IsEmpty() {
		t.Fatalf("initial policy blocks %v, want nothing", f.ctrl.Policy().Hazards())
	}

	f.ctrl.BlockDeviceOnHazards("light", hazard.NewSet(hazard.ElectricEnergyConsumption))
	if _, err := f.ctrl.Dispatch(context.Background(), "light", "on", nil); !errors.Is(err, dispatch.ErrPolicyBlocked) {
		t.Errorf("Dispatch(light on) error = %v, want ErrPolicyBlocked", err)
	}
	// Local block on light leaves the fridge alone.
	if _, err := f.ctrl.Dispatch(context.Background(), "fridge", "decrease-temperature", nil); err != nil {
		t.Errorf("Dispatch(fridge) error = %v", err)
	}

	_, blocked, err := f.ctrl.Check("light", "on")
	if err != nil || !blocked.Contains(hazard.ElectricEnergyConsumption) {
		t.Errorf("Check() = %v, %v; want ElectricEnergyConsumption blocked", blocked, err)
	}

	f.ctrl.SetPolicy(nil)
	if _, err := f.ctrl.Dispatch(context.Background(), "light", "on", nil); err != nil {
		t.Errorf("Dispatch() after SetPolicy(nil) error = %v", err)
	}
}

func TestBlockDeviceOnHazards_LastWriteWins(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	f.ctrl.BlockDeviceOnHazards("fridge", hazard.NewSet(hazard.SpoiledFood))
	p := f.ctrl.BlockDeviceOnHazards("fridge", hazard.NewSet(hazard.ElectricEnergyConsumption))

	if got := p.Evaluate("fridge", hazard.NewSet(hazard.SpoiledFood)); !got.IsEmpty() {
		t.Errorf("SpoiledFood still blocked after replacement: %v", got)
	}
	if _, err := f.ctrl.Dispatch(context.Background(), "fridge", "increase-temperature", nil); !errors.Is(err, dispatch.ErrPolicyBlocked) {
		t.Errorf("Dispatch(increase-temperature) error = %v, want ErrPolicyBlocked", err)
	}

	f.ctrl.BlockDeviceOnHazards("fridge", hazard.Set{})
	if _, err := f.ctrl.Dispatch(context.Background(), "fridge", "decrease-temperature", nil); err != nil {
		t.Errorf("Dispatch() after clearing block error = %v", err)
	}
}

func TestPolicy_ConcurrentExtend(t *testing.T) {
	f := newFixture(t, nil)

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.BlockDeviceOnHazards(id, hazard.NewSet(hazard.FireHazard))
		}()
	}
	wg.Wait()

	if got := len(f.ctrl.Policy().Devices()); got != len(ids) {
		t.Errorf("len(Devices()) = %d, want %d", got, len(ids))
	}
}

func TestRemoveDevice(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	if !f.ctrl.RemoveDevice("light") {
		t.Fatal("RemoveDevice(light) = false, want true")
	}
	if f.ctrl.RemoveDevice("light") {
		t.Error("second RemoveDevice(light) = true, want false")
	}
	if _, err := f.ctrl.Device("light"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Device(light) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestEventReceivers_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	rx, err := f.ctrl.StartEventReceivers(4)
	if err != nil {
		t.Fatalf("StartEventReceivers() error = %v", err)
	}
	if _, err := f.ctrl.StartEventReceivers(4); !errors.Is(err, ErrEventsRunning) {
		t.Errorf("second StartEventReceivers() error = %v, want ErrEventsRunning", err)
	}

	waitFor(t, func() bool {
		states := f.ctrl.EventStates()
		return states["fridge"] == events.StateReceiving && states["light"] == events.StateReceiving
	}, "both receivers receiving")

	f.dialer.session("fridge").msgs <- []byte(`{"temperature": 4}`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ev, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if ev.DeviceID != "fridge" || string(ev.Payload) != `{"temperature": 4}` {
		t.Errorf("event = %s %q", ev.DeviceID, ev.Payload)
	}

	f.ctrl.StopEventReceivers()
	if _, err := rx.Recv(ctx); !errors.Is(err, events.ErrStreamClosed) {
		t.Errorf("Recv() after stop error = %v, want ErrStreamClosed", err)
	}

	// A stopped stream can be restarted.
	if _, err := f.ctrl.StartEventReceivers(4); err != nil {
		t.Errorf("restart StartEventReceivers() error = %v", err)
	}
}

func TestEventReceivers_AutoSubscribe(t *testing.T) {
	tests := []struct {
		name string
		auto bool
	}{
		{"enabled", true},
		{"disabled", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.AutoSubscribe = tt.auto })
			f.browser.set(recordFor("fridge", f.fridge))
			f.discover(t)

			if _, err := f.ctrl.StartEventReceivers(4); err != nil {
				t.Fatalf("StartEventReceivers() error = %v", err)
			}

			f.browser.set(recordFor("fridge", f.fridge), recordFor("light", f.light))
			f.discover(t)

			if tt.auto {
				waitFor(t, func() bool {
					return f.ctrl.EventStates()["light"] == events.StateReceiving
				}, "light receiver")
				return
			}
			if _, ok := f.ctrl.EventStates()["light"]; ok {
				t.Error("light receiver started with AutoSubscribe off")
			}
		})
	}
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	rx, err := f.ctrl.StartEventReceivers(1)
	if err != nil {
		t.Fatalf("StartEventReceivers() error = %v", err)
	}

	f.ctrl.Shutdown()
	f.ctrl.Shutdown()

	if _, err := rx.Recv(context.Background()); !errors.Is(err, events.ErrStreamClosed) {
		t.Errorf("Recv() after Shutdown error = %v, want ErrStreamClosed", err)
	}
	if _, err := f.ctrl.Discover(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("Discover() after Shutdown error = %v, want ErrShutdown", err)
	}
	if _, err := f.ctrl.Dispatch(context.Background(), "light", "off", nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("Dispatch() after Shutdown error = %v, want ErrShutdown", err)
	}
	if _, err := f.ctrl.StartEventReceivers(1); !errors.Is(err, ErrShutdown) {
		t.Errorf("StartEventReceivers() after Shutdown error = %v, want ErrShutdown", err)
	}
}

func TestSchedule_GoesThroughPolicyAndAudit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Policy = policy.New(hazard.NewSet(hazard.ElectricEnergyConsumption))
	})
	f.discover(t)

	_, err := f.ctrl.Schedule(scheduler.Task{
		ID: "evening",
		Requests: []scheduler.Request{
			{DeviceID: "fridge", Action: "cool"},
			{DeviceID: "light", Action: "off"},
		},
		Delay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, func() bool { return len(f.audit.all()) == 2 }, "two audit entries")
	waitFor(t, func() bool { return len(f.ctrl.ScheduledTasks()) == 0 }, "task to finish")

	outcomes := map[string]audit.Outcome{}
	for _, e := range f.audit.all() {
		outcomes[e.DeviceID] = e.Outcome
	}
	if outcomes["fridge"] != audit.OutcomeBlocked || outcomes["light"] != audit.OutcomeAllowed {
		t.Errorf("audit outcomes = %v, want fridge blocked and light allowed", outcomes)
	}
	if n := len(f.fridge.Requests()); n != 0 {
		t.Errorf("fridge received %d requests, want 0", n)
	}
	if n := len(f.light.Requests()); n != 1 {
		t.Errorf("light received %d requests, want 1", n)
	}
}

func TestShutdown_CancelsScheduledTasks(t *testing.T) {
	f := newFixture(t, nil)
	f.discover(t)

	if _, err := f.ctrl.Schedule(scheduler.Task{
		ID:       "hourly",
		Requests: []scheduler.Request{{DeviceID: "light", Action: "off"}},
		Delay:    time.Hour,
		Every:    time.Hour,
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if got := f.ctrl.ScheduledTasks(); len(got) != 1 || got[0] != "hourly" {
		t.Fatalf("ScheduledTasks() = %v, want [hourly]", got)
	}

	f.ctrl.Shutdown()

	if got := f.ctrl.ScheduledTasks(); len(got) != 0 {
		t.Errorf("ScheduledTasks() after Shutdown = %v, want none", got)
	}
	if _, err := f.ctrl.Schedule(scheduler.Task{Requests: []scheduler.Request{{DeviceID: "light", Action: "off"}}}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Schedule() after Shutdown error = %v, want ErrShutdown", err)
	}
	if f.ctrl.CancelScheduled("hourly") {
		t.Error("CancelScheduled() after Shutdown = true, want false")
	}
}

func TestRun_RefreshesAndPrunes(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RefreshInterval = 20 * time.Millisecond
		o.StaleAfter = 150 * time.Millisecond
		o.Discovery.Timeout = 10 * time.Millisecond
	})
	f.discover(t)
	f.browser.set(recordFor("fridge", f.fridge))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	waitFor(t, func() bool {
		_, err := f.ctrl.Device("light")
		return errors.Is(err, device.ErrDeviceNotFound)
	}, "light pruned")

	if _, err := f.ctrl.Device("fridge"); err != nil {
		t.Errorf("Device(fridge) error = %v, want still registered", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_WithoutRefreshWaitsForContext(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.ctrl.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
