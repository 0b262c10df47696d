package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fleet/internal/dispatch"
)

// Dispatcher sends one action request. *controller.Controller satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID, action string, args map[string]any) (*dispatch.Response, error)
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Request is one action invocation inside a task.
type Request struct {
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Args     map[string]any `json:"args,omitempty"`
}

// Task is a batch of requests sent after Delay, then every Every.
//
// With Every zero the task runs once. Runs caps a periodic task; zero
// repeats until the task is cancelled.
type Task struct {
	ID       string        `json:"id"`
	Requests []Request     `json:"requests"`
	Delay    time.Duration `json:"delay"`
	Every    time.Duration `json:"every"`
	Runs     int           `json:"runs"`
}

func (t Task) validate() error {
	if len(t.Requests) == 0 {
		return fmt.Errorf("%w: no requests", ErrInvalidTask)
	}
	if t.Delay < 0 || t.Every < 0 || t.Runs < 0 {
		return fmt.Errorf("%w: negative timing", ErrInvalidTask)
	}
	for i, r := range t.Requests {
		if r.DeviceID == "" || r.Action == "" {
			return fmt.Errorf("%w: request %d needs a device and an action", ErrInvalidTask, i)
		}
	}
	return nil
}

// Result is the outcome of one request in one run.
type Result struct {
	TaskID   string
	Run      int
	Request  Request
	Response *dispatch.Response
	Err      error
	At       time.Time
}

// Scheduler runs tasks against a Dispatcher until closed.
type Scheduler struct {
	dispatcher Dispatcher
	logger     Logger
	observer   func(Result)
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver receives every Result. It is called from the run goroutines
// and must be safe for concurrent use.
func WithObserver(fn func(Result)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithRunTimeout bounds each run. Zero leaves runs bounded only by the
// dispatcher's own timeouts.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a Scheduler sending through d.
func New(d Dispatcher, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		dispatcher: d,
		logger:     noopLogger{},
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule validates t and starts timing it. An empty ID is replaced by a
// generated one, which is returned.
func (s *Scheduler) Schedule(t Task) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Requests = slices.Clone(t.Requests)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if _, ok := s.tasks[t.ID]; ok {
		return "", fmt.Errorf("%w: %q", ErrTaskExists, t.ID)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.tasks[t.ID] = cancel
	s.wg.Add(1)
	go s.run(ctx, t)

	s.logger.Info("task scheduled", "task_id", t.ID, "requests", len(t.Requests), "delay", t.Delay, "every", t.Every)
	return t.ID, nil
}

// Cancel stops a task. Runs already in flight are cancelled through their
// context. It reports whether the task was scheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.Info("task cancelled", "task_id", id)
	}
	return ok
}

// Pending returns the IDs of tasks that have runs left, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close cancels every task and waits for their goroutines. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.tasks = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	defer s.wg.Done()
	defer s.finish(ctx, t.ID)

	timer := time.NewTimer(t.Delay)
	defer timer.Stop()

	for run := 1; ; run++ {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		s.runBatch(ctx, t, run)

		if t.Every == 0 || (t.Runs > 0 && run >= t.Runs) {
			return
		}
		timer.Reset(t.Every)
	}
}

// runBatch sends every request of t concurrently and waits for all of them.
func (s *Scheduler) runBatch(ctx context.Context, t Task, run int) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, req := range t.Requests {
		wg.Add(1)
		go func(r Request) {
			defer wg.Done()
			resp, err := s.dispatcher.Dispatch(ctx, r.DeviceID, r.Action, r.Args)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				s.logger.Warn("scheduled request failed",
					"task_id", t.ID,
					"device_id", r.DeviceID,
					"action", r.Action,
					"error", err,
				)
			}
			if s.observer != nil {
				s.observer(Result{TaskID: t.ID, Run: run, Request: r, Response: resp, Err: err, At: time.Now()})
			}
		}(req)
	}
	wg.Wait()

	s.logger.Info("scheduled run complete", "task_id", t.ID, "run", run, "requests", len(t.Requests), "failed", failed)
}

// finish drops the entry of a task that ran out of runs. A cancelled task
// was already removed and its ID may belong to a newer task.
func (s *Scheduler) finish(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}
