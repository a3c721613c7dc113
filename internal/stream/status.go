// Package stream implements the stream manager and the job-status and
// output streams (C8). Grounded on joblet's internal/joblet/pubsub
// topic-subscriber bookkeeping, specialized to spec.md §4.6's exact
// sequence-id and replay semantics.
package stream

import (
	"sync"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/protocol"
)

// subState tracks one request id's registration on a status stream: the
// user that registered it (for the all-jobs permission filter) and its
// private, monotonic sequence counter.
type subState struct {
	user string
	seq  uint64
}

// statusStream is a single multi-subscriber job-status stream: either a
// specific job's stream (jobID set) or the all-jobs singleton (jobID ==
// protocol.AllJobsID). Every request id registered on it gets its own
// sequence counter starting at 1.
type statusStream struct {
	mu    sync.Mutex
	jobID string
	subs  map[uint64]*subState
	sub   *notifier.Subscription

	emit func(jobSnapshot *job.Job, sel map[uint64]uint64)
}

func newStatusStream(jobID string, emit func(*job.Job, map[uint64]uint64)) *statusStream {
	return &statusStream{
		jobID: jobID,
		subs:  make(map[uint64]*subState),
		emit:  emit,
	}
}

// register adds requestID/user, allocating its sequence counter. Returns
// true if this was a new registration.
func (s *statusStream) register(requestID uint64, user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[requestID]; exists {
		return false
	}
	s.subs[requestID] = &subState{user: user}
	return true
}

// nextSeq returns the next sequence number for requestID (post-increment
// starting from 1), or (0, false) if requestID is not registered.
func (s *statusStream) nextSeq(requestID uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subs[requestID]
	if !ok {
		return 0, false
	}
	st.seq++
	return st.seq, true
}

// cancel removes requestID. Returns true if the stream has no remaining
// subscribers and should be torn down.
func (s *statusStream) cancel(requestID uint64) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, requestID)
	return len(s.subs) == 0
}

// selection returns the set of request ids that should receive an update
// for j, each already advanced to its next sequence number. For the
// all-jobs stream this applies the admin/owner permission filter from
// spec.md §4.6; for a specific-job stream every registered request id
// qualifies (visibility was already checked at registration time, and the
// owning user is immutable after submission).
func (s *statusStream) selection(j *job.Job, isAllJobs bool) map[uint64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := make(map[uint64]uint64)
	for reqID, st := range s.subs {
		if isAllJobs && !j.MatchesUser(st.user) {
			continue
		}
		st.seq++
		sel[reqID] = st.seq
	}
	return sel
}

func (s *statusStream) onJobUpdate(j *job.Job) {
	isAllJobs := s.jobID == protocol.AllJobsID
	sel := s.selection(j, isAllJobs)
	if len(sel) == 0 {
		return
	}
	s.emit(j, sel)
}
