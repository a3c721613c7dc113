package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/repository"
)

type sinkCollector struct {
	mu   sync.Mutex
	resp []protocol.Response
}

func (c *sinkCollector) sink(r protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resp = append(c.resp, r)
}

func (c *sinkCollector) snapshot() []protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Response(nil), c.resp...)
}

func newManager(t *testing.T) (*Manager, *repository.Repository, *notifier.Notifier, *sinkCollector) {
	t.Helper()
	n := notifier.New()
	repo := repository.New(repository.NoopHooks{}, n)
	c := &sinkCollector{}
	m := New(repo, n, protocol.NewResponseIDGenerator(), c.sink, nil)
	return m, repo, n, c
}

func newTestJob(id, user string, status job.Status) *job.Job {
	j := &job.Job{ID: id, User: user, Exe: "/bin/true", Status: status}
	j.SubmissionTime = time.Now().UTC()
	j.LastUpdateTime = j.SubmissionTime
	return j
}

func TestManager_AddStatusStreamReplaysCurrentState(t *testing.T) {
	m, repo, _, c := newManager(t)
	repo.Add(newTestJob("job-1", "alice", job.StatusRunning))

	require.NoError(t, m.AddStatusStream(1, "job-1", "alice"))

	resp := c.snapshot()
	require.Len(t, resp, 1)
	js := resp[0].(protocol.JobStatusResponse)
	assert.Equal(t, "job-1", js.JobID)
	assert.Equal(t, "Running", js.Status)
	require.Len(t, js.Sequences, 1)
	assert.Equal(t, uint64(1), js.Sequences[0].RequestID)
	assert.Equal(t, uint64(1), js.Sequences[0].SeqID)
}

func TestManager_AddStatusStreamUnknownJobErrors(t *testing.T) {
	m, _, _, _ := newManager(t)
	err := m.AddStatusStream(1, "missing", "alice")
	assert.Error(t, err)
}

func TestManager_StatusStreamFanOutToMultipleSubscribers(t *testing.T) {
	m, repo, n, c := newManager(t)
	j := newTestJob("job-1", "alice", job.StatusPending)
	repo.Add(j)

	require.NoError(t, m.AddStatusStream(1, "job-1", "alice"))
	require.NoError(t, m.AddStatusStream(2, "job-1", "alice"))

	n.Publish(j, job.StatusRunning, "started", nil, time.Now().UTC())

	resp := c.snapshot()
	// Two replay responses (seq 1 each) plus one fan-out broadcast.
	require.Len(t, resp, 3)
	broadcast := resp[2].(protocol.JobStatusResponse)
	require.Len(t, broadcast.Sequences, 2)
	assert.Equal(t, uint64(1), broadcast.Sequences[0].RequestID)
	assert.Equal(t, uint64(2), broadcast.Sequences[0].SeqID)
	assert.Equal(t, uint64(2), broadcast.Sequences[1].RequestID)
	assert.Equal(t, uint64(2), broadcast.Sequences[1].SeqID)
}

func TestManager_CancelStatusStreamStopsDelivery(t *testing.T) {
	m, repo, n, c := newManager(t)
	j := newTestJob("job-1", "alice", job.StatusPending)
	repo.Add(j)

	require.NoError(t, m.AddStatusStream(1, "job-1", "alice"))
	m.CancelStatusStream("job-1", 1)

	n.Publish(j, job.StatusRunning, "", nil, time.Now().UTC())

	resp := c.snapshot()
	// Only the initial replay, no fan-out after cancel.
	assert.Len(t, resp, 1)
}

func TestManager_AllJobsStreamFiltersByUser(t *testing.T) {
	m, repo, n, c := newManager(t)
	alice := newTestJob("job-a", "alice", job.StatusPending)
	bob := newTestJob("job-b", "bob", job.StatusPending)
	repo.Add(alice)
	repo.Add(bob)

	require.NoError(t, m.AddStatusStream(1, protocol.AllJobsID, "alice"))

	n.Publish(bob, job.StatusRunning, "", nil, time.Now().UTC())

	resp := c.snapshot()
	// Only alice's initial replay; bob's update must not reach alice's stream.
	assert.Len(t, resp, 1)
	js := resp[0].(protocol.JobStatusResponse)
	assert.Equal(t, "job-a", js.JobID)
}
