// Package asyncrt is the async runtime adapter (C14): a bounded worker
// pool, deadline events, and a process-wide signal set, shared by every
// component that schedules work rather than blocking a caller. It plays
// the role the teacher's asio thread pool plays for joblet's gRPC
// handlers, generalized to the plugin's dispatcher/notifier/pruner/stream
// call sites (Design Note "Coroutines / callbacks").
package asyncrt

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Runtime is the shared worker pool. Request dispatch, deadline
// callbacks (pruner work) and the local runner's running-probe are
// submitted here, so the pool size bounds how many of them run at once.
// Notifier fan-out is not: notifier.Publish runs its callbacks on the
// publishing goroutine.
type Runtime struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	timers  map[*DeadlineEvent]struct{}
}

// DefaultPoolSize returns max(4, runtime.NumCPU()), the default from
// spec.md §4.8/§6 (thread-pool-size, default = hardware concurrency).
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n < 4 {
		return 4
	}
	return n
}

// New creates a Runtime with the given pool size (<=0 selects the
// default).
func New(poolSize int) *Runtime {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize()
	}
	return &Runtime{
		sem:    make(chan struct{}, poolSize),
		timers: make(map[*DeadlineEvent]struct{}),
	}
}

// Submit schedules fn to run on the pool. It returns immediately; fn runs
// asynchronously once a slot is free. Submit after Shutdown is a no-op.
func (r *Runtime) Submit(fn func()) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		fn()
	}()
}

// DeadlineEvent is a one-shot timer that can be canceled before it fires.
// The pruner relies on this to implement "cancel a prior scheduled
// deadline" when a job is re-updated before expiry (SPEC_FULL.md §9.4).
type DeadlineEvent struct {
	timer     *time.Timer
	mu        sync.Mutex
	canceled  bool
}

// ScheduleDeadline arms fn to run (on the pool) at deadline, or
// immediately if deadline is already past. It returns a handle that
// Cancel can use to prevent the callback from firing.
func (r *Runtime) ScheduleDeadline(deadline time.Time, fn func()) *DeadlineEvent {
	ev := &DeadlineEvent{}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	r.timers[ev] = struct{}{}
	r.mu.Unlock()

	ev.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, ev)
		r.mu.Unlock()

		ev.mu.Lock()
		canceled := ev.canceled
		ev.mu.Unlock()
		if canceled {
			return
		}
		r.Submit(fn)
	})
	return ev
}

// Cancel prevents a deadline event from firing if it has not already
// fired. Safe to call multiple times and after the event has fired.
func (ev *DeadlineEvent) Cancel() {
	if ev == nil {
		return
	}
	ev.mu.Lock()
	ev.canceled = true
	ev.mu.Unlock()
	if ev.timer != nil {
		ev.timer.Stop()
	}
}

// Shutdown stops accepting new work and blocks until all submitted work
// has finished running.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	r.closed = true
	for ev := range r.timers {
		ev.Cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// WaitForSignal blocks until SIGTERM or SIGINT is received, or ctx is
// canceled, then returns. The caller is expected to begin graceful
// shutdown (C9 §4.8 step 6) on return.
func WaitForSignal(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(ch)

	select {
	case <-ch:
	case <-ctx.Done():
	}
}
