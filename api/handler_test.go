package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/database/query"
	apperrors "github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/metadata"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/run"
	"github.com/kbukum/stepflow/scheduler"
	"github.com/kbukum/stepflow/sse"
	"github.com/kbukum/stepflow/storage"
)

const trainPipeline = `
name: train
steps:
  - name: load
    code: load@v1
    outputs: [data]
  - name: fit
    code: fit@v1
    inputs:
      - name: data
        from: load.data
    outputs: [model]
`

type mapLoader map[string]string

func (m mapLoader) Load(name string) (*dag.Pipeline, error) {
	src, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q not found", name)
	}
	return dag.ParsePipeline([]byte(src), "", name)
}

// stepBackend writes declared outputs; steps named in block wait for
// cancellation.
func stepBackend(block ...string) backend.Func {
	return func(ctx context.Context, inv backend.Invocation) (map[string]artifact.Location, error) {
		for _, b := range block {
			if inv.Step == b {
				<-ctx.Done()
				return nil, backend.Failed(ctx, inv.Step, ctx.Err())
			}
		}
		for name, loc := range inv.Outputs {
			if err := inv.Store.WriteBytes(ctx, loc, []byte(inv.Step+"/"+name)); err != nil {
				return nil, err
			}
		}
		return inv.Outputs, nil
	}
}

type fakeHistory struct {
	runs        map[string]*metadata.RunRecord
	transitions map[string][]metadata.TransitionRecord
	lastParams  query.Params
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (*metadata.RunRecord, error) {
	rec, ok := f.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	return rec, nil
}

func (f *fakeHistory) ListRuns(_ context.Context, params query.Params) (*query.Result[metadata.RunRecord], error) {
	f.lastParams = params
	out := &query.Result[metadata.RunRecord]{Pagination: query.Pagination{Page: params.Page, PageSize: params.PageSize}}
	for _, rec := range f.runs {
		out.Data = append(out.Data, *rec)
	}
	out.Pagination.Total = len(out.Data)
	out.Pagination.TotalPages = 1
	return out, nil
}

func (f *fakeHistory) Transitions(_ context.Context, runID string) ([]metadata.TransitionRecord, error) {
	return f.transitions[runID], nil
}

type fixture struct {
	orch   *orchestrator.Orchestrator
	engine *gin.Engine
	hub    *sse.Hub
}

func newFixture(t *testing.T, b backend.Backend, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := artifact.Open(context.Background(), artifact.Config{
		ID:     "api-test",
		Config: storage.Config{Provider: storage.ProviderLocal, BasePath: t.TempDir()},
	}, nil)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	hub := sse.NewHub(logger.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	sched := scheduler.New(scheduler.Config{}, nil,
		scheduler.WithLogger(logger.NewNop()),
		scheduler.WithSink(hub),
	)
	orch := orchestrator.New(orchestrator.Config{}, sched, store, b,
		orchestrator.WithLogger(logger.NewNop()),
		orchestrator.WithLoader(mapLoader{"train": trainPipeline}),
	)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	engine := gin.New()
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	NewHandler(orch, opts...).Register(engine)
	return &fixture{orch: orch, engine: engine, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.engine.ServeHTTP(rr, req)
	return rr
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return env.Data
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) apperrors.ErrorCode {
	t.Helper()
	var body apperrors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error %s: %v", rr.Body.String(), err)
	}
	return body.Error.Code
}

func waitDone(t *testing.T, orch *orchestrator.Orchestrator, id string) *run.Result {
	t.Helper()
	r, ok := orch.Get(id)
	if !ok {
		t.Fatalf("run %s not tracked", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func TestSubmitRun(t *testing.T) {
	inline := strings.ReplaceAll(strings.TrimSpace(trainPipeline), "\n", `\n`)
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  apperrors.ErrorCode
	}{
		{"by name", `{"pipeline":"train"}`, http.StatusAccepted, ""},
		{"inline definition", `{"definition":"` + inline + `","caching":false}`, http.StatusAccepted, ""},
		{"run name template", `{"pipeline":"train","run_name":"nightly-{date}"}`, http.StatusAccepted, ""},
		{"neither", `{}`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"both", `{"pipeline":"train","definition":"` + inline + `"}`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"bad pipeline name", `{"pipeline":"train.v2"}`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"bad run name", `{"pipeline":"train","run_name":"{user}"}`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"unknown pipeline", `{"pipeline":"missing"}`, http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"not json", `pipeline=train`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"bad yaml", `{"definition":"steps: [oops"}`, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, stepBackend())
			rr := f.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantErr != "" {
				if got := errorCode(t, rr); got != tt.wantErr {
					t.Errorf("error code = %s, want %s", got, tt.wantErr)
				}
				return
			}
			view := decodeData[RunView](t, rr)
			if view.Pipeline != "train" {
				t.Errorf("pipeline = %q", view.Pipeline)
			}
			if res := waitDone(t, f.orch, view.ID); res.Status != run.StatusCompleted {
				t.Errorf("status = %s", res.Status)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	archived := uuid.NewString()
	history := &fakeHistory{runs: map[string]*metadata.RunRecord{
		archived: {ID: archived, Name: "old", Pipeline: "train", Status: string(run.StatusFailed)},
	}}
	f := newFixture(t, stepBackend(), WithHistory(history))

	rr := f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)
	id := decodeData[RunView](t, rr).ID
	waitDone(t, f.orch, id)

	t.Run("live", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/v1/runs/"+id, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d: %s", rr.Code, rr.Body.String())
		}
		view := decodeData[RunView](t, rr)
		if !view.Done || view.Status != run.StatusCompleted || view.Result == nil {
			t.Errorf("view = %+v", view)
		}
		if view.Steps["fit"] != run.StepSucceeded {
			t.Errorf("steps = %v", view.Steps)
		}
	})

	t.Run("archived", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/v1/runs/"+archived, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d: %s", rr.Code, rr.Body.String())
		}
		if rec := decodeData[metadata.RunRecord](t, rr); rec.Name != "old" {
			t.Errorf("record = %+v", rec)
		}
	})

	errCases := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"unknown", "/api/v1/runs/" + uuid.NewString(), http.StatusNotFound},
		{"malformed id", "/api/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"events of unknown", "/api/v1/runs/" + uuid.NewString() + "/events", http.StatusNotFound},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			if rr := f.do(t, http.MethodGet, tt.path, ""); rr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}
}

func TestRunEvents(t *testing.T) {
	archived := uuid.NewString()
	history := &fakeHistory{
		runs: map[string]*metadata.RunRecord{archived: {ID: archived}},
		transitions: map[string][]metadata.TransitionRecord{archived: {
			{RunID: archived, From: "pending", To: "running"},
			{RunID: archived, From: "running", To: "completed"},
		}},
	}
	f := newFixture(t, stepBackend(), WithHistory(history))

	id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
	waitDone(t, f.orch, id)

	events := decodeData[[]run.Event](t, f.do(t, http.MethodGet, "/api/v1/runs/"+id+"/events", ""))
	if len(events) == 0 || events[0].To != string(run.StatusRunning) {
		t.Fatalf("live events = %v", events)
	}
	if last := events[len(events)-1]; !last.RunLevel() || last.To != string(run.StatusCompleted) {
		t.Errorf("last event = %v", last)
	}

	transitions := decodeData[[]metadata.TransitionRecord](t, f.do(t, http.MethodGet, "/api/v1/runs/"+archived+"/events", ""))
	if len(transitions) != 2 {
		t.Errorf("archived transitions = %v", transitions)
	}
}

func TestRunGraph(t *testing.T) {
	archived := uuid.NewString()
	data := artifact.Pending("load", "data").Resolve("fp", "runs/x/load/data")
	history := &fakeHistory{runs: map[string]*metadata.RunRecord{archived: {
		ID:     archived,
		Status: string(run.StatusCompleted),
		Edges:  []dag.Edge{{From: "load", Output: "data", To: "fit", Input: "data"}},
		Steps: []metadata.StepRecord{
			{Name: "load", State: "succeeded", Outputs: map[string]artifact.Ref{"data": data}},
			{Name: "fit", State: "succeeded", Inputs: map[string]artifact.Ref{"data": data}},
		},
	}}}
	f := newFixture(t, stepBackend(), WithHistory(history))

	id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
	waitDone(t, f.orch, id)

	for _, runID := range []string{id, archived} {
		t.Run(runID, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/graph", "")
			if rr.Code != http.StatusOK {
				t.Fatalf("code = %d: %s", rr.Code, rr.Body.String())
			}
			view := decodeData[LineageView](t, rr)
			if view.Status != string(run.StatusCompleted) || len(view.Steps) != 2 {
				t.Fatalf("view = %+v", view)
			}
			if len(view.Edges) != 1 || view.Edges[0].From != "load" || view.Edges[0].To != "fit" {
				t.Errorf("edges = %+v", view.Edges)
			}
			load, fit := view.Steps[0], view.Steps[1]
			if load.Name != "load" || fit.Name != "fit" {
				t.Fatalf("steps = %+v", view.Steps)
			}
			if len(load.Downstream) != 1 || load.Downstream[0] != "fit" || len(fit.Upstream) != 1 || fit.Upstream[0] != "load" {
				t.Errorf("neighbours: load=%v fit=%v", load.Downstream, fit.Upstream)
			}
			in, out := fit.Inputs["data"], load.Outputs["data"]
			if in.Location == "" || in.Location != out.Location {
				t.Errorf("fit input %+v does not match load output %+v", in, out)
			}
		})
	}

	if rr := f.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString()+"/graph", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown run code = %d", rr.Code)
	}
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t, stepBackend("fit"))

	id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
	r, _ := f.orch.Get(id)
	deadline := time.Now().Add(5 * time.Second)
	for r.Steps()["fit"] != run.StepRunning {
		if time.Now().After(deadline) {
			t.Fatal("fit never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rr := f.do(t, http.MethodDelete, "/api/v1/runs/"+id, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("cancel code = %d: %s", rr.Code, rr.Body.String())
	}
	if res := waitDone(t, f.orch, id); !res.Cancelled {
		t.Errorf("result not cancelled: %s", res.Status)
	}

	rr := f.do(t, http.MethodDelete, "/api/v1/runs/"+id, "")
	if rr.Code != http.StatusConflict || errorCode(t, rr) != apperrors.ErrCodeConflict {
		t.Errorf("second cancel = %d %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, http.MethodDelete, "/api/v1/runs/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d", rr.Code)
	}
}

func TestListRuns(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		f := newFixture(t, stepBackend())
		for i := 0; i < 3; i++ {
			id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
			waitDone(t, f.orch, id)
		}

		tests := []struct {
			query     string
			wantCount int
		}{
			{"", 3},
			{"?pageSize=2", 2},
			{"?pageSize=2&page=2", 1},
			{"?status=eq.completed", 3},
			{"?status=failed", 0},
			{"?pipeline=in.(train,other)", 3},
			{"?limit=all", 3},
		}
		for _, tt := range tests {
			t.Run(tt.query, func(t *testing.T) {
				rr := f.do(t, http.MethodGet, "/api/v1/runs"+tt.query, "")
				if rr.Code != http.StatusOK {
					t.Fatalf("code = %d", rr.Code)
				}
				if got := decodeData[[]RunView](t, rr); len(got) != tt.wantCount {
					t.Errorf("got %d runs, want %d", len(got), tt.wantCount)
				}
			})
		}
	})

	t.Run("from history", func(t *testing.T) {
		history := &fakeHistory{runs: map[string]*metadata.RunRecord{
			"a": {ID: "a", Status: "completed"},
			"b": {ID: "b", Status: "failed"},
		}}
		f := newFixture(t, stepBackend(), WithHistory(history))

		rr := f.do(t, http.MethodGet, "/api/v1/runs?status=eq.failed&pageSize=5&search=nightly", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d", rr.Code)
		}
		if got := decodeData[[]metadata.RunRecord](t, rr); len(got) != 2 {
			t.Errorf("got %d records", len(got))
		}
		p := history.lastParams
		if p.PageSize != 5 || p.Search != "nightly" || len(p.Conditions) != 1 || p.Conditions[0].Value != "failed" {
			t.Errorf("params = %+v", p)
		}
	})
}

func TestStreamRun(t *testing.T) {
	t.Run("live run until it ends", func(t *testing.T) {
		f := newFixture(t, stepBackend("fit"))
		NewHandler(f.orch, WithStream(f.hub), WithLogger(logger.NewNop())).Register(f.engine.Group("/s"))

		id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
		rr := httptest.NewRecorder()
		served := make(chan struct{})
		go func() {
			f.engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/s/api/v1/runs/"+id+"/stream", http.NoBody))
			close(served)
		}()

		deadline := time.Now().Add(5 * time.Second)
		r, _ := f.orch.Get(id)
		for f.hub.ClientCount() != 1 || r.Steps()["fit"] != run.StepRunning {
			if time.Now().After(deadline) {
				t.Fatal("stream or fit never started")
			}
			time.Sleep(5 * time.Millisecond)
		}
		if err := f.orch.Cancel(id); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not end with the run")
		}

		body := rr.Body.String()
		for _, want := range []string{"event: connected\n", `"step":"load"`, `"step":"fit"`, "event: run\n"} {
			if !strings.Contains(body, want) {
				t.Errorf("stream missing %q:\n%s", want, body)
			}
		}
		if n := strings.Count(body, `"to":"succeeded"`); n != 1 {
			t.Errorf("load succeeded written %d times:\n%s", n, body)
		}
	})

	t.Run("finished run replays and closes", func(t *testing.T) {
		f := newFixture(t, stepBackend())
		NewHandler(f.orch, WithStream(f.hub), WithLogger(logger.NewNop())).Register(f.engine.Group("/s"))
		id := decodeData[RunView](t, f.do(t, http.MethodPost, "/api/v1/runs", `{"pipeline":"train"}`)).ID
		waitDone(t, f.orch, id)

		rr := f.do(t, http.MethodGet, "/s/api/v1/runs/"+id+"/stream", "")
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"to":"completed"`) {
			t.Errorf("stream = %d:\n%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("errors", func(t *testing.T) {
		f := newFixture(t, stepBackend())
		NewHandler(f.orch, WithStream(f.hub), WithLogger(logger.NewNop())).Register(f.engine.Group("/s"))
		tests := []struct {
			name string
			path string
			want int
		}{
			{name: "unknown run", path: "/s/api/v1/runs/" + uuid.NewString() + "/stream", want: http.StatusNotFound},
			{name: "malformed id", path: "/s/api/v1/runs/nope/stream", want: http.StatusBadRequest},
			{name: "streaming disabled", path: "/api/v1/runs/" + uuid.NewString() + "/stream", want: http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rr := f.do(t, http.MethodGet, tt.path, ""); rr.Code != tt.want {
					t.Errorf("GET %s = %d, want %d", tt.path, rr.Code, tt.want)
				}
			})
		}
	})
}
