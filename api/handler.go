package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/database/query"
	apperrors "github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/metadata"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/server"
	"github.com/kbukum/stepflow/sse"
	"github.com/kbukum/stepflow/validation"
)

// History is the persistent record of runs.
type History interface {
	GetRun(ctx context.Context, id string) (*metadata.RunRecord, error)
	ListRuns(ctx context.Context, params query.Params) (*query.Result[metadata.RunRecord], error)
	Transitions(ctx context.Context, runID string) ([]metadata.TransitionRecord, error)
}

// Handler serves the run endpoints.
type Handler struct {
	orch    *orchestrator.Orchestrator
	history History
	stream  *sse.Hub
	log     *logger.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithHistory serves runs that left the orchestrator's memory from h.
func WithHistory(h History) Option {
	return func(hd *Handler) { hd.history = h }
}

// WithStream enables GET /runs/:id/stream over hub. The hub must receive
// the scheduler's events.
func WithStream(hub *sse.Hub) Option {
	return func(hd *Handler) { hd.stream = hub }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(hd *Handler) {
		if l != nil {
			hd.log = l
		}
	}
}

// NewHandler creates a Handler over orch.
func NewHandler(orch *orchestrator.Orchestrator, opts ...Option) *Handler {
	h := &Handler{orch: orch, log: logger.GetGlobalLogger()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithComponent("api")
	return h
}

// Register mounts the routes under /api/v1.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.POST("/runs", h.SubmitRun)
	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:id", h.GetRun)
	v1.GET("/runs/:id/events", h.RunEvents)
	v1.GET("/runs/:id/graph", h.RunGraph)
	if h.stream != nil {
		v1.GET("/runs/:id/stream", h.StreamRun)
	}
	v1.DELETE("/runs/:id", h.CancelRun)
}

// SubmitRun handles POST /api/v1/runs.
func (h *Handler) SubmitRun(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		server.RespondWithError(c, apperrors.InvalidInput("body", "must be a JSON object").WithCause(err))
		return
	}
	if err := validateSubmit(&body); err != nil {
		server.RespondWithError(c, err)
		return
	}

	req := orchestrator.Request{
		PipelineName: body.Pipeline,
		RunName:      body.RunName,
		Caching:      body.Caching,
	}
	if body.Definition != "" {
		p, err := dag.ParsePipeline([]byte(body.Definition), "", "inline")
		if err != nil {
			server.RespondWithError(c, apperrors.InvalidInput("definition", err.Error()))
			return
		}
		req.Pipeline = p
	}

	r, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.Respond(c, http.StatusAccepted, viewOf(r, false))
}

func validateSubmit(body *SubmitRequest) error {
	if err := validation.Validate(body); err != nil {
		return err
	}
	return validation.New().
		Check((body.Pipeline == "") != (body.Definition == ""), "pipeline", "exactly one of pipeline and definition is required").
		Validate()
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	params := query.Parse(c.Request.URL.Query(), metadata.ListConfig)
	if h.history != nil {
		page, err := h.history.ListRuns(c.Request.Context(), params)
		if err != nil {
			server.RespondWithError(c, err)
			return
		}
		server.RespondPage(c, page.Data, pageOf(page.Pagination))
		return
	}

	views := filterLive(h.orch.List(), params.Conditions)
	data, pagination := paginate(views, params)
	server.RespondPage(c, data, pageOf(pagination))
}

// GetRun handles GET /api/v1/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	if r, ok := h.orch.Get(id); ok {
		server.Respond(c, http.StatusOK, viewOf(r, true))
		return
	}
	if h.history == nil {
		server.RespondWithError(c, apperrors.NotFound("run", id))
		return
	}
	rec, err := h.history.GetRun(c.Request.Context(), id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.Respond(c, http.StatusOK, rec)
}

// RunEvents handles GET /api/v1/runs/:id/events.
func (h *Handler) RunEvents(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	if r, ok := h.orch.Get(id); ok {
		server.Respond(c, http.StatusOK, r.Events())
		return
	}
	if h.history == nil {
		server.RespondWithError(c, apperrors.NotFound("run", id))
		return
	}
	if _, err := h.history.GetRun(c.Request.Context(), id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	transitions, err := h.history.Transitions(c.Request.Context(), id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.Respond(c, http.StatusOK, transitions)
}

// RunGraph handles GET /api/v1/runs/:id/graph.
func (h *Handler) RunGraph(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	if r, ok := h.orch.Get(id); ok {
		server.Respond(c, http.StatusOK, liveLineage(r))
		return
	}
	if h.history == nil {
		server.RespondWithError(c, apperrors.NotFound("run", id))
		return
	}
	rec, err := h.history.GetRun(c.Request.Context(), id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.Respond(c, http.StatusOK, archivedLineage(rec))
}

// StreamRun handles GET /api/v1/runs/:id/stream. Transitions so far are
// replayed, then new ones are pushed until the run finishes.
func (h *Handler) StreamRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	r, ok := h.orch.Get(id)
	if !ok {
		server.RespondWithError(c, apperrors.NotFound("run", id))
		return
	}
	client := sse.NewClient(sse.RunClientID(id))
	if !h.stream.Register(client) {
		server.RespondWithError(c, apperrors.ServiceUnavailable("stream"))
		return
	}
	events := r.Events()
	replay := make([]sse.Frame, 0, len(events))
	for _, e := range events {
		f, err := sse.EventFrame(e)
		if err != nil {
			h.stream.Unregister(client)
			server.RespondWithError(c, apperrors.Internal(err))
			return
		}
		replay = append(replay, f)
	}
	h.log.Debug("Run stream opened", logger.Fields(logger.FieldRun, id, "replayed", len(replay)))
	sse.Serve(c.Writer, c.Request, h.stream, client, replay)
}

// CancelRun handles DELETE /api/v1/runs/:id.
func (h *Handler) CancelRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	if err := h.orch.Cancel(id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	h.log.Info("Run cancelled via API", logger.Fields(logger.FieldRun, id))
	if r, ok := h.orch.Get(id); ok {
		server.Respond(c, http.StatusAccepted, viewOf(r, false))
		return
	}
	server.Respond(c, http.StatusNoContent, nil)
}

// runID validates the :id path parameter, responding 400 when it is not a
// run id.
func runID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := validation.ValidateUUID("id", id); err != nil {
		server.RespondWithError(c, err)
		return "", false
	}
	return id, true
}

// filterLive applies equality and in-list conditions on status and pipeline
// to in-memory runs. Other conditions need the metadata store.
func filterLive(runs []*orchestrator.Run, conds []query.Condition) []RunView {
	views := make([]RunView, 0, len(runs))
	for _, r := range runs {
		v := viewOf(r, false)
		if matchLive(v, conds) {
			views = append(views, v)
		}
	}
	return views
}

func matchLive(v RunView, conds []query.Condition) bool {
	for _, c := range conds {
		var got string
		switch c.Field {
		case "status":
			got = string(v.Status)
		case "pipeline":
			got = v.Pipeline
		default:
			continue
		}
		switch c.Operator {
		case query.OpEq:
			if got != c.Value {
				return false
			}
		case query.OpNeq:
			if got == c.Value {
				return false
			}
		case query.OpIn:
			if !slices.Contains(c.Values, got) {
				return false
			}
		}
	}
	return true
}

func paginate(views []RunView, params query.Params) ([]RunView, query.Pagination) {
	total := len(views)
	if params.NoPagination {
		return views, query.Pagination{Page: 1, PageSize: total, Total: total, TotalPages: 1}
	}
	page := max(params.Page, 1)
	start := (page - 1) * params.PageSize
	if start > total {
		start = total
	}
	end := start + params.PageSize
	if end > total {
		end = total
	}
	pages := (total + params.PageSize - 1) / params.PageSize
	return views[start:end], query.Pagination{
		Page:       page,
		PageSize:   params.PageSize,
		Total:      total,
		TotalPages: pages,
	}
}

func pageOf(p query.Pagination) server.Page {
	return server.Page{Page: p.Page, PageSize: p.PageSize, Total: p.Total, TotalPages: p.TotalPages}
}
