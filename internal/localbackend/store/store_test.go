//go:build linux

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/job"
)

func newTestJob(id, user string) *job.Job {
	return &job.Job{ID: id, User: user, Exe: "/bin/true", Status: job.StatusPending}
}

func TestStore_OnJobAddedThenLoadJobsRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", false)
	require.NoError(t, s.OnInitialize())

	j := newTestJob("job-1", "alice")
	s.OnJobAdded(j)

	loaded, err := s.LoadJobs()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "job-1", loaded[0].ID)
	assert.Equal(t, "alice", loaded[0].User)
}

func TestStore_LoadJobsSkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", false)
	require.NoError(t, s.OnInitialize())

	s.OnJobAdded(newTestJob("good", "alice"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs", "host-1", "bad"), []byte("{not json"), 0640))

	loaded, err := s.LoadJobs()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)
}

func TestStore_OnJobRemovedDeletesFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", false)
	require.NoError(t, s.OnInitialize())

	j := newTestJob("job-1", "alice")
	s.OnJobAdded(j)
	s.OnJobRemoved(j)

	_, err := os.Stat(s.jobFile("job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_SetJobOutputPathsAssignsWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", true)
	require.NoError(t, s.OnInitialize())

	j := newTestJob("job-1", "alice")
	require.NoError(t, s.SetJobOutputPaths(j))

	assert.Equal(t, filepath.Join(dir, "output", "host-1", "job-1", "stdout.log"), j.StandardOutFile)
	assert.Equal(t, filepath.Join(dir, "output", "host-1", "job-1", "stderr.log"), j.StandardErrFile)

	_, err := os.Stat(filepath.Join(dir, "output", "host-1", "job-1"))
	require.NoError(t, err)
}

func TestStore_SetJobOutputPathsSkipsWhenAlreadySpecified(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", true)
	require.NoError(t, s.OnInitialize())

	j := newTestJob("job-1", "alice")
	j.StandardOutFile = "/tmp/custom.log"
	require.NoError(t, s.SetJobOutputPaths(j))
	assert.Equal(t, "/tmp/custom.log", j.StandardOutFile)
	assert.Empty(t, j.StandardErrFile)
}

func TestStore_SetJobOutputPathsNoopWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "host-1", false)
	require.NoError(t, s.OnInitialize())

	j := newTestJob("job-1", "alice")
	require.NoError(t, s.SetJobOutputPaths(j))
	assert.Empty(t, j.StandardOutFile)
}
