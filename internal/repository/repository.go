// Package repository implements the job repository (C6): the process-wide
// authoritative job map, user-scoped lookups, and the initialization
// protocol that reconciles persisted state with backend-reported state.
// Grounded on joblet's internal/joblet/state package shape (a guarded map
// plus lifecycle hooks delegated to the backend).
package repository

import (
	"sync"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/pruner"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Hooks lets a backend (e.g. the local backend's job store) observe
// repository lifecycle events and supply persisted state at startup.
// These are the "subclass hooks" Design Note "Deep/multiple inheritance"
// maps to single-responsibility interfaces for.
type Hooks interface {
	// OnJobAdded is called while holding the write lock, immediately
	// after a new job is inserted via Add (not via the bootstrap/load
	// path, which bypasses it per spec.md §4.4).
	OnJobAdded(j *job.Job)
	// OnJobRemoved is called while still holding the write lock, before
	// the job is actually removed from the map.
	OnJobRemoved(j *job.Job)
	// OnInitialize is called once at the start of Initialize, before
	// LoadJobs.
	OnInitialize() error
	// LoadJobs returns the persisted jobs to seed the repository with.
	LoadJobs() ([]*job.Job, error)
}

// NoopHooks is a Hooks implementation that does nothing, useful for tests
// and for any deployment with no local persistence.
type NoopHooks struct{}

func (NoopHooks) OnJobAdded(*job.Job)          {}
func (NoopHooks) OnJobRemoved(*job.Job)        {}
func (NoopHooks) OnInitialize() error          { return nil }
func (NoopHooks) LoadJobs() ([]*job.Job, error) { return nil, nil }

// Repository is the process-wide authoritative job map.
type Repository struct {
	mu    sync.RWMutex
	jobs  map[string]*job.Job
	hooks Hooks
	n     *notifier.Notifier
	log   *logger.Logger

	addSub *notifier.Subscription
	pruner *pruner.Pruner
}

// New creates an empty Repository. Call Initialize once constructed.
func New(hooks Hooks, n *notifier.Notifier) *Repository {
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &Repository{
		jobs:  make(map[string]*job.Job),
		hooks: hooks,
		n:     n,
		log:   logger.WithField("component", "repository"),
	}
}

// Add inserts job if not already present and runs the OnJobAdded hook.
// No-op if a job with the same id is already present.
func (r *Repository) Add(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.ID]; exists {
		return
	}
	r.jobs[j.ID] = j
	r.hooks.OnJobAdded(j)
}

// Get returns the job with the given id, applying the same-user-or-
// all-users visibility rule from spec.md §4.4.
func (r *Repository) Get(id, user string) (*job.Job, bool) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !j.MatchesUser(user) {
		return nil, false
	}
	return j, true
}

// GetByID returns the job with the given id regardless of owning user.
// Used by internal collaborators (the pruner) that are not enforcing a
// request-level permission boundary.
func (r *Repository) GetByID(id string) (*job.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// List returns every job visible to user. Order is not guaranteed.
func (r *Repository) List(user string) []*job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.MatchesUser(user) {
			out = append(out, j)
		}
	}
	return out
}

// Snapshot returns every job in the repository regardless of user,
// for internal callers (the stream manager's all-jobs replay applies its
// own user filter afterward).
func (r *Repository) Snapshot() []*job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Remove deletes the job with the given id, running OnJobRemoved while
// still holding the write lock, per spec.md §4.4.
func (r *Repository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return wireerrors.ErrJobNotFound
	}
	r.hooks.OnJobRemoved(j)
	delete(r.jobs, id)
	return nil
}

// Stats returns a point-in-time count of jobs by status, an internal
// introspection hook (SPEC_FULL.md §3) exercised by tests/diagnostics.
func (r *Repository) Stats() map[job.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[job.Status]int)
	for _, j := range r.jobs {
		j.Lock()
		out[j.Status]++
		j.Unlock()
	}
	return out
}

// Initialize runs OnInitialize, loads persisted jobs via LoadJobs and
// inserts them directly (bypassing OnJobAdded and the notifier),
// subscribes globally to the notifier so that a status update for an
// unknown job id auto-inserts it, constructs the pruner, and immediately
// offers every loaded job to it — jobs already past their retention
// deadline are deleted right here, per spec.md §4.4.
func (r *Repository) Initialize(rt *asyncrt.Runtime, retention time.Duration) error {
	if err := r.hooks.OnInitialize(); err != nil {
		return err
	}

	loaded, err := r.hooks.LoadJobs()
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, j := range loaded {
		r.jobs[j.ID] = j
	}
	r.mu.Unlock()

	r.addSub = r.n.SubscribeAll(r.onUpdateAutoAdd)

	r.pruner = pruner.New(r.n, r, rt, retention)
	for _, j := range loaded {
		r.pruner.Offer(j)
	}

	r.log.Info("repository initialized", "loadedJobs", len(loaded))
	return nil
}

// onUpdateAutoAdd is the "add on update" callback: a status notification
// for a previously unknown job auto-inserts it, which is how the submit
// path registers new jobs without an explicit Add call. Goes through Add
// itself so the first-seen insert fires OnJobAdded exactly like a direct
// Add call would.
func (r *Repository) onUpdateAutoAdd(j *job.Job) {
	r.Add(j)
}

// Close tears down the repository's notifier subscription and pruner.
func (r *Repository) Close() {
	if r.addSub != nil {
		r.addSub.Close()
	}
	if r.pruner != nil {
		r.pruner.Close()
	}
}
