package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/stepflow/run"
)

// Event names written on the stream.
const (
	EventConnected = "connected"
	EventStep      = "step"
	EventRun       = "run"
	EventKeepAlive = "keepalive"
)

var clientSeq atomic.Uint64

// RunPattern matches every client watching runID.
func RunPattern(runID string) string { return "run:" + runID + ":*" }

// RunClientID returns a fresh client id for a watcher of runID.
func RunClientID(runID string) string {
	return fmt.Sprintf("run:%s:%d", runID, clientSeq.Add(1))
}

// EventFrame encodes a transition. The frame id identifies the transition so
// a replayed event and its live copy can be told apart. A terminal run
// status is final.
func EventFrame(e run.Event) (Frame, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{
		ID:    fmt.Sprintf("%d.%s.%s", e.Timestamp.UnixNano(), e.Step, e.To),
		Event: EventStep,
		Data:  data,
	}
	if e.RunLevel() {
		f.Event = EventRun
		f.Final = run.Status(e.To).Terminal()
	}
	return f, nil
}

// Publish broadcasts e to the watchers of its run.
func (h *Hub) Publish(_ context.Context, e run.Event) error {
	f, err := EventFrame(e)
	if err != nil {
		return err
	}
	h.Broadcast(RunPattern(e.RunID), f)
	return nil
}

var _ run.Sink = (*Hub)(nil)
