// Package notifier implements the status-notification bus (C5): a
// publish/subscribe fan-out keyed by job id and a global "all jobs" scope.
// It is grounded on joblet's internal/joblet/pubsub generic topic pub/sub,
// specialized to the exact ordering and locking contract spec.md §4.5
// requires (synchronous, registration-ordered delivery with the notifier
// lock dropped before dispatch).
package notifier

import (
	"sync"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// UpdateFunc is invoked with a reference to the job that was just updated.
// Subscribers must re-acquire the job's lock if they need to read further
// fields beyond what a snapshot already gave them.
type UpdateFunc func(j *job.Job)

// Subscription is an opaque handle owning the subscriber's lifetime;
// closing it unsubscribes.
type Subscription struct {
	close func()
	once  sync.Once
}

// Close unsubscribes. Safe to call multiple times and safe to call from
// within the callback it guards.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
}

type entry struct {
	id uint64
	cb UpdateFunc
}

// Notifier is the process-wide pub/sub bus.
type Notifier struct {
	mu     sync.Mutex
	perJob map[string][]entry
	global []entry
	nextID uint64
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{perJob: make(map[string][]entry)}
}

// SubscribeJob registers cb for updates to a single job id.
func (n *Notifier) SubscribeJob(jobID string, cb UpdateFunc) *Subscription {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.perJob[jobID] = append(n.perJob[jobID], entry{id: id, cb: cb})
	n.mu.Unlock()

	return &Subscription{close: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.removeLocked(jobID, id)
	}}
}

// SubscribeAll registers cb for every job's updates (the "all jobs" scope).
func (n *Notifier) SubscribeAll(cb UpdateFunc) *Subscription {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.global = append(n.global, entry{id: id, cb: cb})
	n.mu.Unlock()

	return &Subscription{close: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, e := range n.global {
			if e.id == id {
				n.global = append(n.global[:i], n.global[i+1:]...)
				break
			}
		}
	}}
}

func (n *Notifier) removeLocked(jobID string, id uint64) {
	list := n.perJob[jobID]
	for i, e := range list {
		if e.id == id {
			n.perJob[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(n.perJob[jobID]) == 0 {
		delete(n.perJob, jobID)
	}
}

// Publish applies an update to j and fans it out to subscribers, per
// spec.md §4.5:
//  1. lock the job
//  2. mutate status/message/exit-code/last-update-time
//  3. copy the per-job and global subscriber lists under the notifier lock
//  4. release all locks, then invoke callbacks synchronously, in
//     registration order
//
// A callback that itself calls Publish is permitted and will not
// deadlock, because the notifier lock is released before dispatch.
func (n *Notifier) Publish(j *job.Job, newStatus job.Status, message string, exitCode *int32, when time.Time) {
	j.Lock()
	j.ApplyUpdate(newStatus, message, exitCode, when)
	j.Unlock()

	n.mu.Lock()
	perJob := append([]entry(nil), n.perJob[j.ID]...)
	global := append([]entry(nil), n.global...)
	n.mu.Unlock()

	for _, e := range perJob {
		invoke(e.cb, j)
	}
	for _, e := range global {
		invoke(e.cb, j)
	}
}

// invoke runs a subscriber callback, recovering and logging a panic so
// one bad subscriber cannot wedge the bus (spec.md §7).
func invoke(cb UpdateFunc, j *job.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("component", "notifier").Error(
				"subscriber callback panicked", "jobId", j.ID, "panic", r)
		}
	}()
	cb(j)
}
