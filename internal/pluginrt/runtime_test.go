package pluginrt

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/protocol"
)

type fakeSource struct {
	initialized bool
	jobs        []*job.Job
	submitted   []*job.Job
	config      ClusterInfo
}

func (f *fakeSource) Initialize() error            { f.initialized = true; return nil }
func (f *fakeSource) GetJobs() ([]*job.Job, error) { return f.jobs, nil }
func (f *fakeSource) SubmitJob(j *job.Job) error {
	j.ID = "job-generated"
	j.Status = job.StatusPending
	f.submitted = append(f.submitted, j)
	return nil
}
func (f *fakeSource) ControlJob(j *job.Job, op protocol.ControlOperation) (string, error) {
	return "ok", nil
}
func (f *fakeSource) GetConfiguration() (ClusterInfo, error) { return f.config, nil }

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	framed, err := protocol.Format(payload)
	require.NoError(t, err)
	return framed
}

func readFramed(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	data := buf.Bytes()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 4)
		n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
		data = data[4:]
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data[:n], &m))
		out = append(out, m)
		data = data[n:]
	}
	return out
}

func TestRuntime_BootstrapHandshake(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgBootstrap),
		"requestId":   7,
		"version":     map[string]int{"major": 1, "minor": 0, "patch": 0},
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{
		Version:           protocol.Version{Major: 1, Minor: 2, Patch: 0},
		MaxMessagePayload: 0,
		PoolSize:          2,
	})

	require.NoError(t, rt.Run())
	require.True(t, source.initialized)

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, float64(protocol.MsgBootstrap), resp[0]["messageType"])
	assert.Equal(t, float64(7), resp[0]["requestId"])
}

func TestRuntime_BootstrapVersionMismatch(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgBootstrap),
		"requestId":   1,
		"version":     map[string]int{"major": 9, "minor": 0, "patch": 0},
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{
		Version:  protocol.Version{Major: 1},
		PoolSize: 2,
	})

	require.NoError(t, rt.Run())
	assert.False(t, source.initialized)

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, float64(protocol.MsgError), resp[0]["messageType"])
	assert.Equal(t, "unsupported-version", resp[0]["errorCode"])
}

func TestRuntime_SubmitJobAssignsUserAndReplies(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgSubmitJob),
		"requestId":   3,
		"username":    "alice",
		"job":         map[string]interface{}{"exe": "/bin/true"},
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{PoolSize: 2})

	require.NoError(t, rt.Run())
	require.Len(t, source.submitted, 1)
	assert.Equal(t, "alice", source.submitted[0].User)

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, float64(protocol.MsgGetJob), resp[0]["messageType"])
}

func TestRuntime_GetJobUnknownIDReturnsNotFound(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgGetJob),
		"requestId":   5,
		"username":    "alice",
		"jobId":       "nope",
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{PoolSize: 2})

	require.NoError(t, rt.Run())

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, "job-not-found", resp[0]["errorCode"])
}

func TestRuntime_HeartbeatIsLoggedAndDropped(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{"messageType": int(protocol.MsgHeartbeat), "requestId": 1})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{PoolSize: 2})

	require.NoError(t, rt.Run())
	assert.Equal(t, 0, out.Len())
}

func TestRuntime_GetClusterInfo(t *testing.T) {
	source := &fakeSource{config: ClusterInfo{Host: "host-1", Queues: []string{"default"}}}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgGetClusterInfo),
		"requestId":   9,
		"username":    "alice",
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{PoolSize: 2})
	require.NoError(t, rt.Run())

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, "host-1", resp[0]["host"])
}

func TestRuntime_GetJobResourceUtilIsNotSupported(t *testing.T) {
	source := &fakeSource{}
	req := frame(t, map[string]interface{}{
		"messageType": int(protocol.MsgGetJobResourceUtil),
		"requestId":   4,
		"username":    "alice",
		"jobId":       "job-1",
	})

	var out bytes.Buffer
	rt := New(bytes.NewReader(req), &out, source, Config{PoolSize: 2})
	require.NoError(t, rt.Run())

	resp := readFramed(t, &out)
	require.Len(t, resp, 1)
	assert.Equal(t, "request-not-supported", resp[0]["errorCode"])
}

func TestRuntime_Shutdown_IdempotentWithoutHeartbeat(t *testing.T) {
	source := &fakeSource{}
	var out bytes.Buffer
	rt := New(bytes.NewReader(nil), &out, source, Config{PoolSize: 2})
	require.NoError(t, rt.Run())
	rt.Shutdown()
	_ = time.Millisecond // keep time import used if heartbeat test trimmed later
}
