// Package stream implements the stream manager (C8): the registry of
// live job-status and job-output streams, their sequence-id bookkeeping,
// initial-state replay, and cancel/teardown semantics from spec.md §4.6.
// Grounded on joblet's internal/joblet/stream handling of per-client
// subscriptions, adapted from a gRPC server-stream-per-client model to a
// single stdio connection multiplexing many logical streams by request id.
package stream

import (
	"sort"
	"sync"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/repository"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Sink delivers a response to the launcher channel for writing. The stream
// manager never touches the wire directly (C3 owns framing and write
// synchronization).
type Sink func(protocol.Response)

type jobStreamEntry struct {
	stream *statusStream
	sub    *notifier.Subscription
}

// Manager owns every live status stream and output stream.
type Manager struct {
	repo    *repository.Repository
	n       *notifier.Notifier
	ids     *protocol.ResponseIDGenerator
	sink    Sink
	factory OutputStreamFactory
	log     *logger.Logger

	statusMu sync.Mutex
	byJob    map[string]*jobStreamEntry
	all      *jobStreamEntry

	outMu   sync.Mutex
	outputs map[uint64]*outputEntry
}

// New constructs a Manager. factory may be nil if output streaming is not
// supported by the backend in use.
func New(repo *repository.Repository, n *notifier.Notifier, ids *protocol.ResponseIDGenerator, sink Sink, factory OutputStreamFactory) *Manager {
	return &Manager{
		repo:    repo,
		n:       n,
		ids:     ids,
		sink:    sink,
		factory: factory,
		log:     logger.WithField("component", "stream"),
		byJob:   make(map[string]*jobStreamEntry),
		outputs: make(map[uint64]*outputEntry),
	}
}

// AddStatusStream registers requestID/user on the job-status stream for
// jobID (protocol.AllJobsID for the all-jobs singleton), replaying the
// current state immediately. Returns wireerrors.ErrJobNotFound if jobID
// names a job not visible to user.
func (m *Manager) AddStatusStream(requestID uint64, jobID, user string) error {
	if jobID == protocol.AllJobsID {
		e := m.statusEntry(jobID)
		e.stream.register(requestID, user)
		for _, j := range m.repo.Snapshot() {
			j.Lock()
			visible := j.MatchesUser(user)
			j.Unlock()
			if visible {
				m.replayOne(e.stream, requestID, j)
			}
		}
		return nil
	}

	j, ok := m.repo.Get(jobID, user)
	if !ok {
		return wireerrors.ErrJobNotFound
	}
	e := m.statusEntry(jobID)
	e.stream.register(requestID, user)
	m.replayOne(e.stream, requestID, j)
	return nil
}

// statusEntry returns the entry for jobID, creating and subscribing it to
// the notifier if it does not exist yet. Structural changes to the
// registry are serialized through statusMu.
func (m *Manager) statusEntry(jobID string) *jobStreamEntry {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	if jobID == protocol.AllJobsID {
		if m.all == nil {
			s := newStatusStream(jobID, m.emitJobUpdate)
			m.all = &jobStreamEntry{stream: s, sub: m.n.SubscribeAll(s.onJobUpdate)}
		}
		return m.all
	}

	e, ok := m.byJob[jobID]
	if !ok {
		s := newStatusStream(jobID, m.emitJobUpdate)
		e = &jobStreamEntry{stream: s, sub: m.n.SubscribeJob(jobID, s.onJobUpdate)}
		m.byJob[jobID] = e
	}
	return e
}

// CancelStatusStream removes requestID from jobID's stream, tearing the
// stream down if it was the last subscriber.
func (m *Manager) CancelStatusStream(jobID string, requestID uint64) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	var e *jobStreamEntry
	if jobID == protocol.AllJobsID {
		e = m.all
	} else {
		e = m.byJob[jobID]
	}
	if e == nil {
		return
	}
	if !e.stream.cancel(requestID) {
		return
	}
	if jobID == protocol.AllJobsID {
		m.all = nil
	} else {
		delete(m.byJob, jobID)
	}
	e.sub.Close()
}

// replayOne sends requestID a single JobStatusResponse reflecting j's
// current state, consuming one sequence number.
func (m *Manager) replayOne(s *statusStream, requestID uint64, j *job.Job) {
	seq, ok := s.nextSeq(requestID)
	if !ok {
		return
	}
	j.Lock()
	status, msg, id := string(j.Status), j.StatusMessage, j.ID
	j.Unlock()

	resp := protocol.NewJobStatusResponse(requestID, m.ids.Next(), id, status, msg,
		[]protocol.SequenceEntry{{RequestID: requestID, SeqID: seq}})
	m.sink(resp)
}

// emitJobUpdate is the fan-out callback invoked by a statusStream when the
// notifier fires: one response carries sequence entries for every
// currently-registered request id, per spec.md §4.6.
func (m *Manager) emitJobUpdate(j *job.Job, sel map[uint64]uint64) {
	j.Lock()
	status, msg, id := string(j.Status), j.StatusMessage, j.ID
	j.Unlock()

	seqs := make([]protocol.SequenceEntry, 0, len(sel))
	for reqID, seq := range sel {
		seqs = append(seqs, protocol.SequenceEntry{RequestID: reqID, SeqID: seq})
	}
	sort.Slice(seqs, func(i, k int) bool { return seqs[i].RequestID < seqs[k].RequestID })

	m.sink(protocol.NewJobStatusResponse(0, m.ids.Next(), id, status, msg, seqs))
}
