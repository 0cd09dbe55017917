package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/model"
)

// Wire event names sent to SSE clients.
const (
	sseSnapshot     = "snapshot"
	sseRunUpdated   = "run.updated"
	ssePlan         = "run.plan"
	sseStep         = "run.step"
	sseLog          = "run.log"
	sseExecution    = "run.execution"
	sseExecutionLog = "run.execution.log"
)

// HandleStreamRun handles GET /v1/runs/{run_id}/stream (SSE).
//
// The subscription is opened before the snapshot is read, so every event
// is covered by one or the other: a client may see an update both in the
// snapshot and as a live event, but never misses one. Log events carry
// their sequence in the SSE id field so clients can deduplicate and
// resume via the catch-up endpoint.
func (h *Handlers) HandleStreamRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	// Reject unknown runs before committing to the stream headers.
	if _, err := h.orch.GetRun(r.Context(), runID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ch, unsubscribe := h.bus.Subscribe(runID)
	defer unsubscribe()

	snapshot, err := h.orch.GetRunDetail(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// The middleware chain wraps the writer, so Flush and SetWriteDeadline
	// go through a ResponseController, which follows Unwrap down to the
	// real connection. A flush error means the client is gone or the
	// writer cannot stream; either way the stream ends.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	if err := writeSSE(w, sseSnapshot, "", snapshot); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	keepalive := time.NewTicker(h.streamHeartbeat)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			name, id := wireEvent(event)
			if err := writeSSE(w, name, id, event.Payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// wireEvent translates a bus event into its SSE event name and id field.
// Log events carry their sequence as the id; everything else has none.
func wireEvent(e bus.Event) (name, id string) {
	switch e.Type {
	case bus.EventRunUpdated:
		return sseRunUpdated, ""
	case bus.EventPlanUpdated:
		return ssePlan, ""
	case bus.EventStepUpdated:
		return sseStep, ""
	case bus.EventLogAppended:
		if l, ok := e.Payload.(model.RunLog); ok {
			return sseLog, strconv.FormatInt(l.Sequence, 10)
		}
		return sseLog, ""
	case bus.EventExecutionCreated, bus.EventExecutionUpdated:
		return sseExecution, ""
	case bus.EventExecutionLog:
		if l, ok := e.Payload.(model.ExecutionLog); ok {
			return sseExecutionLog, strconv.FormatInt(l.Sequence, 10)
		}
		return sseExecutionLog, ""
	}
	return string(e.Type), ""
}

// writeSSE writes one SSE message with a JSON data payload.
func writeSSE(w http.ResponseWriter, event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if id != "" {
		if _, err := w.Write([]byte("id: " + id + "\n")); err != nil {
			return err
		}
	}
	_, err = w.Write(append(append([]byte("data: "), payload...), '\n', '\n'))
	return err
}
