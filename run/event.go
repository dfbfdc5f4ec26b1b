package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/stepflow/logger"
)

// Event records one state transition. Step is empty for run-level
// transitions, whose From and To hold Status values.
type Event struct {
	RunID       string    `json:"run_id"`
	RunName     string    `json:"run_name,omitempty"`
	Pipeline    string    `json:"pipeline,omitempty"`
	Step        string    `json:"step,omitempty"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RunLevel reports whether the event describes the run rather than a step.
func (e Event) RunLevel() bool { return e.Step == "" }

func (e Event) String() string {
	subject := e.Step
	if subject == "" {
		subject = "run"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s -> %s (%s)", e.RunID, subject, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s -> %s", e.RunID, subject, e.From, e.To)
}

// Sink receives transition events. Publish is called from one goroutine per
// run, in transition order. Errors are logged by the caller and never fail
// the run.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type multi []Sink

// Multi fans events out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the global logger.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LogSink{log: log.WithComponent("run")}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	fields := logger.Fields(
		logger.FieldRun, e.RunID,
		logger.FieldFrom, e.From,
		logger.FieldTo, e.To,
	)
	if e.Step != "" {
		fields[logger.FieldStep] = e.Step
	}
	if e.Reason != "" {
		fields[logger.FieldReason] = e.Reason
	}
	if e.Fingerprint != "" {
		fields[logger.FieldFingerprint] = e.Fingerprint
	}
	if e.Error != "" {
		fields[logger.FieldError] = e.Error
		s.log.Warn("State transition", fields)
		return nil
	}
	if e.RunLevel() {
		fields[logger.FieldPipeline] = e.Pipeline
		fields[logger.FieldRunName] = e.RunName
		s.log.Info("Run transition", fields)
		return nil
	}
	s.log.Debug("Step transition", fields)
	return nil
}

// Tracker keeps every event in memory and exposes live per-run state.
// It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	events map[string][]Event
	steps  map[string]map[string]StepState
	status map[string]Status
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		events: make(map[string][]Event),
		steps:  make(map[string]map[string]StepState),
		status: make(map[string]Status),
	}
}

func (t *Tracker) Publish(_ context.Context, e Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[e.RunID] = append(t.events[e.RunID], e)
	if e.RunLevel() {
		t.status[e.RunID] = Status(e.To)
		return nil
	}
	if t.steps[e.RunID] == nil {
		t.steps[e.RunID] = make(map[string]StepState)
	}
	t.steps[e.RunID][e.Step] = StepState(e.To)
	return nil
}

// Events returns a copy of the events recorded for runID.
func (t *Tracker) Events(runID string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Event(nil), t.events[runID]...)
}

// Status returns the latest run status seen for runID.
func (t *Tracker) Status(runID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.status[runID]
	return s, ok
}

// Steps returns the latest state of each step seen for runID.
func (t *Tracker) Steps(runID string) map[string]StepState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]StepState, len(t.steps[runID]))
	for k, v := range t.steps[runID] {
		out[k] = v
	}
	return out
}

// StepHistory returns the sequence of states step passed through.
func (t *Tracker) StepHistory(runID, step string) []StepState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []StepState
	for _, e := range t.events[runID] {
		if e.Step != step {
			continue
		}
		if len(out) == 0 {
			out = append(out, StepState(e.From))
		}
		out = append(out, StepState(e.To))
	}
	return out
}

// Forget drops everything recorded for runID.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, runID)
	delete(t.steps, runID)
	delete(t.status, runID)
}
