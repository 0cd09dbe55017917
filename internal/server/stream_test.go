package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeherd/scrapeherd/internal/model"
)

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	Event string
	ID    string
	Data  string
}

// readFrame reads SSE lines until a blank frame terminator, skipping
// comment heartbeats.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "reading SSE stream")
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.Event != "" || f.Data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event: "):
			f.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			f.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			f.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamSnapshotThenLiveEvents(t *testing.T) {
	ts := newTestServer(t)
	created := createRun(t, ts, "stream me", model.StepSpec{Identifier: "crawl"})

	// Seed one log before the stream opens; it must be in the snapshot.
	_, err := ts.orch.AppendRunLog(context.Background(), created.Run.ID, nil, model.SeverityInfo, "before stream", nil)
	require.NoError(t, err)

	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		httpSrv.URL+"/v1/runs/"+created.Run.ID.String()+"/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// First frame is always the snapshot with the full run detail.
	frame := readFrame(t, reader)
	require.Equal(t, "snapshot", frame.Event)
	var detail model.RunDetail
	require.NoError(t, json.Unmarshal([]byte(frame.Data), &detail))
	assert.Equal(t, created.Run.ID, detail.Run.ID)
	require.Len(t, detail.Logs, 1)
	assert.Equal(t, "before stream", detail.Logs[0].Message)
	assert.Len(t, detail.Steps, 1)

	// A log appended while the stream is open arrives live, with its
	// sequence in the id field.
	log, err := ts.orch.AppendRunLog(context.Background(), created.Run.ID, nil, model.SeverityInfo, "live entry", nil)
	require.NoError(t, err)

	frame = readFrame(t, reader)
	require.Equal(t, "run.log", frame.Event)
	assert.Equal(t, "1", frame.ID)
	var gotLog model.RunLog
	require.NoError(t, json.Unmarshal([]byte(frame.Data), &gotLog))
	assert.Equal(t, log.ID, gotLog.ID)
	assert.Equal(t, int64(1), gotLog.Sequence)

	// A status change arrives as run.updated.
	running := model.RunStatusRunning
	_, err = ts.orch.TransitionRun(context.Background(), created.Run.ID, model.RunTransition{Status: &running})
	require.NoError(t, err)

	frame = readFrame(t, reader)
	require.Equal(t, "run.updated", frame.Event)
	var gotRun model.Run
	require.NoError(t, json.Unmarshal([]byte(frame.Data), &gotRun))
	assert.Equal(t, model.RunStatusRunning, gotRun.Status)
}

func TestStreamUnknownRun(t *testing.T) {
	ts := newTestServer(t)

	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/v1/runs/00000000-0000-0000-0000-000000000001/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamExecutionEvents(t *testing.T) {
	ts := newTestServer(t)
	created := createRun(t, ts, "exec stream")

	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		httpSrv.URL+"/v1/runs/"+created.Run.ID.String()+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	require.Equal(t, "snapshot", readFrame(t, reader).Event)

	exec, err := ts.orch.StartExecution(context.Background(), created.Run.ID, nil, "stub", nil, nil)
	require.NoError(t, err)
	frame := readFrame(t, reader)
	assert.Equal(t, "run.execution", frame.Event)

	_, err = ts.orch.AppendExecutionLog(context.Background(), exec.ID, created.Run.ID, model.SeverityInfo, "page 1", nil)
	require.NoError(t, err)
	frame = readFrame(t, reader)
	assert.Equal(t, "run.execution.log", frame.Event)
	assert.Equal(t, "0", frame.ID)
}
