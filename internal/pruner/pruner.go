// Package pruner implements the job pruner (C7): a deadline-driven reaper
// that removes completed jobs once their retention window has elapsed.
// Grounded on the teacher's ConnectionPool-style explicit stats/lifecycle
// object combined with the async runtime's DeadlineEvent (pkg/asyncrt).
//
// Design Note "Cyclic back-references": the pruner never imports the
// repository package. It depends only on the small JobRemover interface
// below, which the repository satisfies; this breaks what would otherwise
// be a pruner<->repository import cycle the same way the original's
// subscription-handle back-reference does.
package pruner

import (
	"sync"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// JobRemover is the minimal capability the pruner needs from the
// repository: look up and delete a job by id. Implemented by
// *repository.Repository.
type JobRemover interface {
	Remove(id string) error
	GetByID(id string) (*job.Job, bool)
}

// Pruner reaps terminal jobs once now >= lastUpdate+retention.
type Pruner struct {
	remover   JobRemover
	notifier  *notifier.Notifier
	rt        *asyncrt.Runtime
	retention time.Duration
	log       *logger.Logger

	mu       sync.Mutex
	deadline map[string]*asyncrt.DeadlineEvent
	sub      *notifier.Subscription
}

// New constructs a Pruner and subscribes it globally to n. retention is
// the job-expiry-hours option converted to a duration.
func New(n *notifier.Notifier, remover JobRemover, rt *asyncrt.Runtime, retention time.Duration) *Pruner {
	p := &Pruner{
		remover:   remover,
		notifier:  n,
		rt:        rt,
		retention: retention,
		log:       logger.WithField("component", "pruner"),
		deadline:  make(map[string]*asyncrt.DeadlineEvent),
	}
	p.sub = n.SubscribeAll(p.onUpdate)
	return p
}

// Close unsubscribes the pruner from the notifier and cancels all pending
// deadlines.
func (p *Pruner) Close() {
	p.sub.Close()
	p.mu.Lock()
	for id, ev := range p.deadline {
		ev.Cancel()
		delete(p.deadline, id)
	}
	p.mu.Unlock()
}

// onUpdate is called for every status update on every job (the pruner
// subscribes globally). Per the resolved Open Question in SPEC_FULL.md
// §9.4: a non-terminal update cancels any previously scheduled deadline
// for that job id, instead of leaving a stale prune event armed across a
// Running->Suspended->Running flap.
func (p *Pruner) onUpdate(j *job.Job) {
	j.Lock()
	status := j.Status
	deadline := p.deadlineFor(j)
	id := j.ID
	j.Unlock()

	p.mu.Lock()
	if prior, ok := p.deadline[id]; ok {
		prior.Cancel()
		delete(p.deadline, id)
	}
	p.mu.Unlock()

	if !status.IsTerminal() {
		return
	}

	p.schedule(id, deadline)
}

// deadlineFor computes (lastUpdate or submission) + retention. Caller
// must hold j's lock.
func (p *Pruner) deadlineFor(j *job.Job) time.Time {
	base := j.LastUpdateTime
	if base.IsZero() {
		base = j.SubmissionTime
	}
	return base.Add(p.retention)
}

func (p *Pruner) schedule(id string, deadline time.Time) {
	ev := p.rt.ScheduleDeadline(deadline, func() { p.fire(id) })
	p.mu.Lock()
	p.deadline[id] = ev
	p.mu.Unlock()
}

// fire re-checks the deadline (status may have been refreshed since the
// deadline was scheduled) and removes the job only if it has genuinely
// passed.
func (p *Pruner) fire(id string) {
	p.mu.Lock()
	delete(p.deadline, id)
	p.mu.Unlock()

	j, ok := p.remover.GetByID(id)
	if !ok {
		return
	}
	j.Lock()
	deadline := p.deadlineFor(j)
	j.Unlock()

	if time.Now().Before(deadline) {
		// Status was refreshed since this deadline was scheduled and
		// the new deadline has not passed yet; reschedule rather than
		// dropping the job on the floor.
		p.schedule(id, deadline)
		return
	}

	if err := p.remover.Remove(id); err != nil {
		p.log.Debug("prune skipped", "jobId", id, "error", err)
	} else {
		p.log.Info("pruned expired job", "jobId", id)
	}
}

// Offer evaluates a job at startup (bootstrap reconciliation): if it is
// already terminal and past its retention deadline, it is removed
// immediately; otherwise a deadline is scheduled as usual.
func (p *Pruner) Offer(j *job.Job) {
	j.Lock()
	status := j.Status
	deadline := p.deadlineFor(j)
	id := j.ID
	j.Unlock()

	if !status.IsTerminal() {
		return
	}
	if time.Now().After(deadline) {
		p.fire(id)
		return
	}
	p.schedule(id, deadline)
}
