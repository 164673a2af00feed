package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/mixlab/internal/engine"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/project"
	"github.com/satindergrewal/mixlab/internal/stream"
)

type testServer struct {
	*httptest.Server
	project *project.Project
	ticks   chan time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	bus := stream.NewMonitorBus()
	ticks := make(chan time.Time)
	p, err := project.OpenOrCreate(context.Background(), t.TempDir(), project.Options{
		Env:   module.Env{Monitor: bus},
		Ticks: ticks,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(p, bus, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = p.Close()
	})
	return &testServer{Server: srv, project: p, ticks: ticks}
}

func (ts *testServer) edit(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/edit", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp, out
}

func (ts *testServer) snapshot(t *testing.T) snapshot {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/workspace")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestWorkspace_Empty(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.snapshot(t)
	assert.Empty(t, snap.State.Modules)
	assert.Empty(t, snap.State.Connections)
	assert.EqualValues(t, 1, snap.State.NextID)
}

func TestEdit_AddAndConnect(t *testing.T) {
	ts := newTestServer(t)

	resp, out := ts.edit(t, `{"op":"add_module","params":{"kind":"gate","gate":{"state":"open"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["module"])

	resp, _ = ts.edit(t, `{"op":"add_module","params":{"kind":"monitor","monitor":{}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.edit(t, `{"op":"connect","from":{"module":1,"terminal":0},"to":{"module":2,"terminal":0}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := ts.snapshot(t)
	require.Len(t, snap.State.Modules, 2)
	assert.Equal(t, module.KindGate, snap.State.Modules[0].Params.Kind)
	require.Len(t, snap.State.Connections, 1)
	assert.Contains(t, snap.Indications, snap.State.Modules[1].ID)
}

func TestEdit_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.edit(t, `{"op":"add_module","params":{"kind":"mixer","mixer":{"gains":[1],"master":1}}}`)
	ts.edit(t, `{"op":"add_module","params":{"kind":"mixer","mixer":{"gains":[1],"master":1}}}`)
	ts.edit(t, `{"op":"connect","from":{"module":1},"to":{"module":2}}`)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"unknown op", `{"op":"explode"}`, http.StatusBadRequest},
		{"missing params", `{"op":"add_module"}`, http.StatusBadRequest},
		{"invalid params", `{"op":"add_module","params":{"kind":"gate","gate":{"state":"ajar"}}}`, http.StatusBadRequest},
		{"cycle", `{"op":"connect","from":{"module":2},"to":{"module":1}}`, http.StatusConflict},
		{"unknown module", `{"op":"remove_module","module":9}`, http.StatusNotFound},
		{"bad terminal", `{"op":"connect","from":{"module":1,"terminal":3},"to":{"module":2}}`, http.StatusBadRequest},
		{"not connected", `{"op":"disconnect","to":{"module":1,"terminal":0}}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := ts.edit(t, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestEvents_SnapshotThenChanges(t *testing.T) {
	ts := newTestServer(t)
	ts.edit(t, `{"op":"add_module","params":{"kind":"monitor","monitor":{}}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	var snap snapshot
	require.NoError(t, json.Unmarshal(lines.Bytes(), &snap))
	assert.Len(t, snap.State.Modules, 1)
	assert.EqualValues(t, 1, snap.Since)

	ts.edit(t, `{"op":"add_module","params":{"kind":"gate","gate":{"state":"closed"}}}`)

	require.True(t, lines.Scan())
	var ev engine.Event
	require.NoError(t, json.Unmarshal(lines.Bytes(), &ev))
	assert.Equal(t, engine.EventModuleCreated, ev.Kind)
	assert.EqualValues(t, 2, ev.Module)
	assert.EqualValues(t, 2, ev.Seq)
}

func TestPerformance_Stream(t *testing.T) {
	ts := newTestServer(t)
	ts.edit(t, `{"op":"add_module","params":{"kind":"gate","gate":{"state":"open"}}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/performance", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	ts.ticks <- time.Now()

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	var info engine.PerformanceInfo
	require.NoError(t, json.Unmarshal(lines.Bytes(), &info))
	assert.EqualValues(t, 0, info.Tick)
	assert.Len(t, info.Modules, 1)
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/media?name=kick.wav&kind=audio/wav&size=5", "application/octet-stream", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var media project.MediaInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&media))
	assert.Equal(t, "kick.wav", media.Name)
	assert.EqualValues(t, 5, media.Size)

	lib := ts.project.Library()
	require.Len(t, lib, 1)
	assert.Equal(t, media.ID, lib[0].ID)

	listResp, err := http.Get(ts.URL + "/api/media")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Library []project.MediaInfo    `json:"library"`
		Uploads []project.UploadStatus `json:"uploads"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Len(t, list.Library, 1)
	assert.Empty(t, list.Uploads)
}

func TestUpload_Rejections(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name  string
		query string
		body  string
		want  int
	}{
		{"missing size", "name=a&kind=audio/wav", "x", http.StatusBadRequest},
		{"missing name", "kind=audio/wav&size=1", "x", http.StatusBadRequest},
		{"oversize", "name=a&kind=audio/wav&size=2", "abc", http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/media?"+tc.query, "application/octet-stream", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	assert.Empty(t, ts.project.Library())
	assert.Empty(t, ts.project.Uploads())
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, ts.project.Path(), status["project"])
	assert.EqualValues(t, 0, status["http_listeners"])
	assert.EqualValues(t, 0, status["media"])
}
