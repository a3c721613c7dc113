package stream

import (
	"sync"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// OutputEvent is one chunk (or terminal error) produced by an OutputStream.
type OutputEvent struct {
	Data       []byte
	OutputType protocol.OutputType
	Err        error
}

// OutputStream is implemented by a backend's output source (the local
// backend's tailer, C12). Start must not block; it returns a channel that
// is closed once the stream has nothing further to deliver, after a
// terminal status and the backend's own grace period have elapsed. Stop
// requests early termination; it must be safe to call more than once.
type OutputStream interface {
	Start() (<-chan OutputEvent, error)
	Stop()
}

// OutputStreamFactory constructs an OutputStream for a job, deferred until
// the job is no longer Pending per spec.md §4.6.
type OutputStreamFactory interface {
	NewOutputStream(j *job.Job, outputType protocol.OutputType) (OutputStream, error)
}

type outputEntry struct {
	jobID      string
	outputType protocol.OutputType

	mu      sync.Mutex
	sub     interface{ Close() }
	os      OutputStream
	started bool
	seq     uint64
	done    bool
}

// AddOutputStream registers requestID as an output consumer of jobID.
// Emission is deferred while the job is Pending and begins on its first
// non-Pending observation; it is torn down automatically once the job
// reaches a terminal status and the backend stream finishes draining.
func (m *Manager) AddOutputStream(requestID uint64, jobID, user string, outputType protocol.OutputType) error {
	j, ok := m.repo.Get(jobID, user)
	if !ok {
		return wireerrors.ErrJobNotFound
	}
	if m.factory == nil {
		return wireerrors.ErrJobOutputNotFound
	}

	m.outMu.Lock()
	if _, exists := m.outputs[requestID]; exists {
		m.outMu.Unlock()
		return nil
	}
	e := &outputEntry{jobID: jobID, outputType: outputType}
	m.outputs[requestID] = e
	m.outMu.Unlock()

	sub := m.n.SubscribeJob(jobID, func(j *job.Job) { m.onOutputJobUpdate(requestID, e, j) })
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	m.onOutputJobUpdate(requestID, e, j)
	return nil
}

// CancelOutputStream stops and removes requestID's output stream
// immediately, regardless of the job's status.
func (m *Manager) CancelOutputStream(requestID uint64) {
	m.outMu.Lock()
	e, ok := m.outputs[requestID]
	delete(m.outputs, requestID)
	m.outMu.Unlock()
	if !ok {
		return
	}
	m.stopEntry(e)
}

func (m *Manager) stopEntry(e *outputEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	if e.sub != nil {
		e.sub.Close()
	}
	if e.started && e.os != nil {
		e.os.Stop()
	}
}

// onOutputJobUpdate evaluates job state transitions for one output stream:
// it starts emission on the first non-Pending observation and stops it
// once the job reaches a terminal status.
func (m *Manager) onOutputJobUpdate(requestID uint64, e *outputEntry, j *job.Job) {
	j.Lock()
	status := j.Status
	j.Unlock()

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	if status == job.StatusPending {
		e.mu.Unlock()
		return
	}
	if !e.started {
		os, err := m.factory.NewOutputStream(j, e.outputType)
		if err != nil {
			e.mu.Unlock()
			m.failOutput(requestID, e, wireerrors.ErrJobOutputNotFound)
			return
		}
		ch, err := os.Start()
		if err != nil {
			e.mu.Unlock()
			m.failOutput(requestID, e, wireerrors.ErrJobOutputNotFound)
			return
		}
		e.started = true
		e.os = os
		go m.pumpOutput(requestID, e, ch)
	}
	terminal := status.IsTerminal()
	stream := e.os
	e.mu.Unlock()

	if terminal && stream != nil {
		stream.Stop()
	}
}

func (m *Manager) failOutput(requestID uint64, e *outputEntry, err error) {
	m.sink(protocol.NewErrorFromErr(requestID, err))
	m.outMu.Lock()
	delete(m.outputs, requestID)
	m.outMu.Unlock()
	m.stopEntry(e)
}

// pumpOutput drains ch, forwarding each chunk as a JobOutputResponse, and
// emits a final Complete response once the backend stream closes.
func (m *Manager) pumpOutput(requestID uint64, e *outputEntry, ch <-chan OutputEvent) {
	for ev := range ch {
		if ev.Err != nil {
			m.sink(protocol.NewErrorFromErr(requestID, ev.Err))
			continue
		}
		e.mu.Lock()
		e.seq++
		seq := e.seq
		e.mu.Unlock()
		m.sink(protocol.NewJobOutputResponse(requestID, m.ids.Next(), seq, false, string(ev.Data), ev.OutputType))
	}

	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	m.sink(protocol.NewJobOutputResponse(requestID, m.ids.Next(), seq, true, "", e.outputType))

	m.outMu.Lock()
	delete(m.outputs, requestID)
	m.outMu.Unlock()
	m.stopEntry(e)
}
