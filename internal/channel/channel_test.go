package channel

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/protocol"
)

type recordingHandler struct {
	mu  sync.Mutex
	got []protocol.Request
}

func (h *recordingHandler) Handle(req protocol.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, req)
}

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	framed, err := protocol.Format(payload)
	require.NoError(t, err)
	return framed
}

func TestChannel_RunDispatchesValidRequests(t *testing.T) {
	h := &recordingHandler{}
	hb := frame(t, map[string]interface{}{"messageType": int(protocol.MsgHeartbeat), "requestId": 1})

	in := bytes.NewReader(hb)
	var out bytes.Buffer
	c := New(in, &out, 0, h)

	require.NoError(t, c.Run())
	require.Len(t, h.got, 1)
	assert.Equal(t, protocol.MsgHeartbeat, h.got[0].Type())
}

func TestChannel_RunSplitAcrossMultipleReads(t *testing.T) {
	h := &recordingHandler{}
	hb := frame(t, map[string]interface{}{"messageType": int(protocol.MsgHeartbeat), "requestId": 7})

	// A reader that yields the framed message split into single bytes
	// exercises Feed's partial-header/partial-payload accumulation.
	in := &byteAtATimeReader{data: hb}
	var out bytes.Buffer
	c := New(in, &out, 0, h)

	require.NoError(t, c.Run())
	require.Len(t, h.got, 1)
	assert.Equal(t, uint64(7), h.got[0].ID())
}

func TestChannel_OversizedPayloadIsFatal(t *testing.T) {
	h := &recordingHandler{}
	payload := make([]byte, 32)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 1<<20) // declares far more than maxPayload
	in := bytes.NewReader(append(header, payload...))
	var out bytes.Buffer
	c := New(in, &out, 16, h)

	err := c.Run()
	assert.Error(t, err)
	assert.Empty(t, h.got)
}

func TestChannel_InvalidJSONYieldsErrorResponse(t *testing.T) {
	h := &recordingHandler{}
	framed, err := protocol.Format([]byte("not json"))
	require.NoError(t, err)

	in := bytes.NewReader(framed)
	var out bytes.Buffer
	c := New(in, &out, 0, h)

	require.NoError(t, c.Run())
	assert.Empty(t, h.got)
	assert.Greater(t, out.Len(), 0)

	var resp map[string]interface{}
	// Skip the 4-byte length header before decoding.
	require.NoError(t, json.Unmarshal(out.Bytes()[4:], &resp))
	assert.Equal(t, float64(protocol.MsgError), resp["messageType"])
}

func TestChannel_SendIsConcurrencySafe(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer
	var outMu sync.Mutex
	c := New(bytes.NewReader(nil), &lockedWriter{w: &out, mu: &outMu}, 0, h)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Send(protocol.NewHeartbeat(uint64(i)))
		}(i)
	}
	wg.Wait()
}

type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
