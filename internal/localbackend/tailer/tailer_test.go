package tailer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/stream"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

func TestResolveHostPath_RewritesUnderMountDestination(t *testing.T) {
	j := &job.Job{Mounts: []job.Mount{
		{Destination: "/data", Source: job.MountSource{Type: job.MountSourceHostPath, HostPath: &job.HostPathSource{Path: "/srv/data"}}},
	}}
	assert.Equal(t, "/srv/data/logs/out.log", resolveHostPath(j, "/data/logs/out.log"))
}

func TestResolveHostPath_PassesThroughUnmountedPath(t *testing.T) {
	j := &job.Job{}
	assert.Equal(t, "/scratch/output/host-1/job-1/stdout.log", resolveHostPath(j, "/scratch/output/host-1/job-1/stdout.log"))
}

func TestPlanTargets_AliasedFilesUseOneMixedTarget(t *testing.T) {
	targets, err := planTargets(protocol.OutputBoth, "/tmp/combined.log", "/tmp/combined.log")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, protocol.OutputBoth, targets[0].tag)
}

func TestPlanTargets_DistinctFilesUseTwoTargets(t *testing.T) {
	targets, err := planTargets(protocol.OutputBoth, "/tmp/out.log", "/tmp/err.log")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, protocol.OutputStdout, targets[0].tag)
	assert.Equal(t, protocol.OutputStderr, targets[1].tag)
}

func TestPlanTargets_MissingRequestedFileIsNotFound(t *testing.T) {
	_, err := planTargets(protocol.OutputStdout, "", "/tmp/err.log")
	assert.ErrorIs(t, err, wireerrors.ErrJobOutputNotFound)
}

func collectEvents(t *testing.T, ch <-chan stream.OutputEvent, timeout time.Duration) []stream.OutputEvent {
	t.Helper()
	var events []stream.OutputEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for output stream to close")
		}
	}
}

func TestFileOutputStream_OneShotDumpsWholeFileThenCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0644))

	s := &fileOutputStream{targets: []target{{path, protocol.OutputStdout}}, follow: false}
	ch, err := s.Start()
	require.NoError(t, err)

	events := collectEvents(t, ch, 5*time.Second)
	require.NotEmpty(t, events)
	var data []byte
	for _, ev := range events {
		require.NoError(t, ev.Err)
		data = append(data, ev.Data...)
	}
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestFileOutputStream_MissingFileReportsJobOutputNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	s := &fileOutputStream{targets: []target{{path, protocol.OutputStdout}}, follow: false}
	ch, err := s.Start()
	require.NoError(t, err)

	events := collectEvents(t, ch, 5*time.Second)
	require.Len(t, events, 1)
	assert.True(t, errors.Is(events[0].Err, wireerrors.ErrJobOutputNotFound))
}

func TestFileOutputStream_FollowModeReceivesAppendedBytesThenStopsQuietly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0644))

	s := &fileOutputStream{targets: []target{{path, protocol.OutputStdout}}, follow: true}
	ch, err := s.Start()
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "first\n", string(first.Data))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second := <-ch
	require.NoError(t, second.Err)
	assert.Equal(t, "second\n", string(second.Data))

	s.Stop()
	events := collectEvents(t, ch, gracePeriod+5*time.Second)
	for _, ev := range events {
		assert.NoError(t, ev.Err)
	}
}
