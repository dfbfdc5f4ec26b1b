package metadata

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/database"
	"github.com/kbukum/stepflow/database/query"
	apperrors "github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/run"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg := database.Config{
		Enabled:    true,
		Driver:     database.DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "metadata.db"),
		MaxRetries: 1,
	}
	db, err := database.Open(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db, logger.NewNop())
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func publishAll(t *testing.T, s *Store, events ...run.Event) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range events {
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		if e.RunName == "" {
			e.RunName = "train-" + e.RunID
		}
		e.Pipeline = "train"
		if err := s.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish(%s) error = %v", e, err)
		}
	}
}

func TestStore_PublishTracksState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	publishAll(t, s,
		run.Event{RunID: "r1", From: "pending", To: "running"},
		run.Event{RunID: "r1", Step: "load", From: "pending", To: "cached", Reason: run.ReasonCacheHit, Fingerprint: "aa"},
		run.Event{RunID: "r1", Step: "load", From: "cached", To: "succeeded"},
		run.Event{RunID: "r1", Step: "train", From: "pending", To: "running", Reason: run.ReasonCacheMiss},
		run.Event{RunID: "r1", Step: "train", From: "running", To: "failed", Reason: run.ReasonExecution, Error: "exit status 1"},
		run.Event{RunID: "r1", From: "running", To: "failed"},
	)

	rec, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Status != "failed" || rec.Pipeline != "train" || rec.Name != "train-r1" {
		t.Errorf("run = %+v", rec)
	}
	if rec.StartedAt == nil || rec.FinishedAt == nil || rec.Cancelled {
		t.Errorf("run times = %v %v cancelled=%v", rec.StartedAt, rec.FinishedAt, rec.Cancelled)
	}
	if len(rec.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(rec.Steps))
	}

	load, train := rec.Steps[0], rec.Steps[1]
	if load.Name != "load" || load.State != "succeeded" || !load.Cached || load.Fingerprint != "aa" {
		t.Errorf("load = %+v", load)
	}
	if train.State != "failed" || train.Error != "exit status 1" || train.StartedAt == nil || train.FinishedAt == nil {
		t.Errorf("train = %+v", train)
	}

	history, err := s.Transitions(ctx, "r1")
	if err != nil {
		t.Fatalf("Transitions() error = %v", err)
	}
	if len(history) != 6 || history[0].To != "running" || history[5].To != "failed" {
		t.Errorf("history = %+v", history)
	}
}

func TestStore_CancelledRun(t *testing.T) {
	s := newStore(t)
	publishAll(t, s,
		run.Event{RunID: "r1", From: "pending", To: "running"},
		run.Event{RunID: "r1", From: "running", To: "failed", Reason: run.ReasonCancelled},
	)
	rec, err := s.GetRun(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !rec.Cancelled {
		t.Error("run not marked cancelled")
	}
}

func TestStore_SaveResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Now().UTC()
	data := artifact.Pending("load", "data").Resolve("data-fp", "runs/r2/load/data")

	res := &run.Result{
		RunID:      "r2",
		Name:       "train-r2",
		Pipeline:   "train",
		Status:     run.StatusCompleted,
		Order:      []string{"load", "train"},
		Edges:      []dag.Edge{{From: "load", Output: "data", To: "train", Input: "rows"}},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Steps: map[string]*run.StepResult{
			"load": {
				Name:        "load",
				State:       run.StepSucceeded,
				Fingerprint: "bb",
				Outputs:     map[string]artifact.Ref{"data": data},
				StartedAt:   start,
				FinishedAt:  start.Add(time.Second),
			},
			"train": {
				Name:        "train",
				State:       run.StepSucceeded,
				Fingerprint: "cc",
				Inputs:      map[string]artifact.Ref{"rows": data},
			},
		},
	}
	publishAll(t, s, run.Event{RunID: "r2", Step: "load", From: "pending", To: "running"})
	if err := s.SaveResult(ctx, res); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}

	rec, err := s.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Status != "completed" || len(rec.Steps) != 2 {
		t.Fatalf("run = %+v", rec)
	}
	if len(rec.Edges) != 1 || rec.Edges[0] != res.Edges[0] {
		t.Errorf("edges = %+v", rec.Edges)
	}
	steps := make(map[string]StepRecord)
	for _, st := range rec.Steps {
		steps[st.Name] = st
	}
	out := steps["load"].Outputs["data"]
	if out.Location != "runs/r2/load/data" || out.Fingerprint != "data-fp" {
		t.Errorf("output = %+v", out)
	}
	if in := steps["train"].Inputs["rows"]; in.Location != out.Location || in.Step != "load" {
		t.Errorf("train input = %+v", in)
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeNotFound {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"a", "b", "c"} {
		publishAll(t, s, run.Event{RunID: id, From: "pending", To: "running"})
	}
	publishAll(t, s, run.Event{RunID: "b", From: "running", To: "completed"})

	tests := []struct {
		name      string
		query     string
		wantIDs   int
		wantTotal int
	}{
		{"all", "", 3, 3},
		{"by status", "status=running", 2, 2},
		{"in list", "status=in.(completed,failed)", 1, 1},
		{"paged", "limit=2&page=2", 1, 3},
		{"search", "search=train-a", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, _ := url.ParseQuery(tt.query)
			page, err := s.ListRuns(context.Background(), query.Parse(values, ListConfig))
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(page.Data) != tt.wantIDs || page.Pagination.Total != tt.wantTotal {
				t.Errorf("got %d rows, total %d", len(page.Data), page.Pagination.Total)
			}
			if page.Facets["status"]["running"] == 0 && tt.name == "all" {
				t.Errorf("facets = %v", page.Facets)
			}
		})
	}
}

func TestStore_Purge(t *testing.T) {
	s := newStore(t)
	publishAll(t, s,
		run.Event{RunID: "old", From: "pending", To: "running"},
		run.Event{RunID: "old", Step: "a", From: "pending", To: "running"},
		run.Event{RunID: "old", From: "running", To: "completed"},
		run.Event{RunID: "live", From: "pending", To: "running"},
	)
	n, err := s.Purge(context.Background(), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || n != 1 {
		t.Fatalf("Purge() = %d, %v", n, err)
	}
	if _, err := s.GetRun(context.Background(), "old"); err == nil {
		t.Error("purged run still present")
	}
	if _, err := s.GetRun(context.Background(), "live"); err != nil {
		t.Errorf("live run removed: %v", err)
	}
}
