package app

import (
	"context"
	"fmt"

	"github.com/kbukum/stepflow/api"
	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/backend/container"
	"github.com/kbukum/stepflow/backend/inproc"
	"github.com/kbukum/stepflow/backend/subprocess"
	"github.com/kbukum/stepflow/bootstrap"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/cache/rediscache"
	"github.com/kbukum/stepflow/cache/sqlcache"
	"github.com/kbukum/stepflow/dag"
	"github.com/kbukum/stepflow/database"
	"github.com/kbukum/stepflow/kafka"
	"github.com/kbukum/stepflow/kafka/producer"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/metadata"
	"github.com/kbukum/stepflow/observability"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/redis"
	"github.com/kbukum/stepflow/run"
	"github.com/kbukum/stepflow/scheduler"
	"github.com/kbukum/stepflow/server"
	"github.com/kbukum/stepflow/sse"
	"github.com/kbukum/stepflow/workload"
	"github.com/kbukum/stepflow/workload/docker"
	"github.com/kbukum/stepflow/workload/kubernetes"
)

// App is the stepflow daemon.
type App struct {
	*bootstrap.App[*Config]

	inproc   *inproc.Backend
	server   *server.Server
	stream   *sse.Hub
	database *database.Component
	redis    *redis.Component
	events   *producer.EventSink
	manager  workload.Manager
	metrics  *observability.Metrics

	orch     *orchestrator.Orchestrator
	metadata *metadata.Store
}

// New validates cfg and registers the infrastructure components it enables.
// Nothing connects until Run or RunTask.
func New(cfg *Config, opts ...bootstrap.Option) (*App, error) {
	base, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a := &App{
		App:    base,
		inproc: inproc.New(base.Logger),
		server: server.New(cfg.Server, base.Logger),
		stream: sse.NewHub(base.Logger),
	}
	if err := a.registerInfrastructure(); err != nil {
		return nil, err
	}
	a.OnConfigure(func(ctx context.Context, _ *bootstrap.App[*Config]) error {
		return a.configure(ctx)
	})
	a.OnStop(a.shutdownRuns)
	return a, nil
}

// InProc returns the in-process backend. Register step functions on it
// before Run when backend.kind is inproc.
func (a *App) InProc() *inproc.Backend { return a.inproc }

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Orchestrator returns the run orchestrator, or nil before configure.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Metadata returns the run metadata store, or nil when the database is
// disabled or before configure.
func (a *App) Metadata() *metadata.Store { return a.metadata }

func (a *App) registerInfrastructure() error {
	cfg := a.Cfg

	if cfg.Telemetry.Enabled {
		if err := a.RegisterComponent(newTelemetry(cfg.Telemetry, &cfg.ServiceConfig, a.Logger)); err != nil {
			return err
		}
	}

	if cfg.Database.Enabled {
		models := metadata.Models()
		if cfg.Cache.Store == cache.StoreSQL {
			models = append(models, sqlcache.Models()...)
		}
		a.database = database.NewComponent(cfg.Database, a.Logger).WithAutoMigrate(models...)
		if err := a.RegisterComponent(a.database); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewComponent(cfg.Redis, a.Logger)
		if err := a.RegisterComponent(a.redis); err != nil {
			return err
		}
	}

	if cfg.Kafka.Enabled {
		p, err := producer.NewProducer(cfg.Kafka, a.Logger)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		a.events = producer.NewEventSink(p, a.Logger)
		if err := a.RegisterComponent(kafka.NewComponent(cfg.Kafka, a.events, a.Logger)); err != nil {
			return err
		}
	}

	if err := a.RegisterComponent(sse.NewComponent(a.stream)); err != nil {
		return err
	}

	manager, err := a.workloadManager()
	if err != nil {
		return err
	}
	if manager != nil {
		a.manager = manager
		if err := a.RegisterComponent(workload.NewComponent(string(cfg.Backend.Kind), manager)); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) workloadManager() (workload.Manager, error) {
	labels := map[string]string{"app.kubernetes.io/managed-by": a.Name}
	switch a.Cfg.Backend.Kind {
	case backend.KindDocker:
		m, err := docker.NewManager(&a.Cfg.Backend.Docker, labels, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("docker: %w", err)
		}
		return m, nil
	case backend.KindKubernetes:
		m, err := kubernetes.NewManager(&a.Cfg.Backend.Kubernetes, labels, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("kubernetes: %w", err)
		}
		return m, nil
	}
	return nil, nil
}

// configure builds the business layer over the started infrastructure.
func (a *App) configure(ctx context.Context) error {
	cfg := a.Cfg

	store, err := artifact.Open(ctx, cfg.Artifacts, a.Logger)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics(observability.Meter(a.Name))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = metrics

	if a.database != nil {
		a.metadata = metadata.New(a.database.DB(), a.Logger)
	}

	index, err := a.cacheIndex(store)
	if err != nil {
		return err
	}

	b, err := a.backend()
	if err != nil {
		return err
	}

	sched := scheduler.New(cfg.Scheduler, index,
		scheduler.WithSink(a.sink()),
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(a.Logger),
		scheduler.WithBackendName(string(cfg.Backend.Kind)),
	)

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(a.Logger)}
	if a.metadata != nil {
		orchOpts = append(orchOpts, orchestrator.WithRecorder(a.metadata))
	}
	a.orch = orchestrator.New(cfg.Orchestrator, sched, store, b, orchOpts...)

	apiOpts := []api.Option{api.WithLogger(a.Logger), api.WithStream(a.stream)}
	if a.metadata != nil {
		apiOpts = append(apiOpts, api.WithHistory(a.metadata))
	}
	a.server.ApplyDefaults(a.Name, a.Components.HealthAll)
	api.NewHandler(a.orch, apiOpts...).Register(a.server.GinEngine())

	for _, r := range a.server.Routes() {
		a.Logger.Debug("Route registered", logger.Fields("method", r.Method, "path", r.Path, "handler", r.Handler))
	}
	a.Logger.Info("Business layer configured", logger.Fields(
		"backend", string(cfg.Backend.Kind),
		"cache_store", cfg.Cache.Store,
		"artifact_store", store.ID(),
		"routes", len(a.server.Routes()),
	))
	return a.RegisterComponent(server.NewComponent(a.server))
}

// cacheIndex builds the configured index behind a Guard.
func (a *App) cacheIndex(store *artifact.Store) (*cache.Guard, error) {
	cfg := a.Cfg
	var index cache.Index
	switch cfg.Cache.Store {
	case cache.StoreMemory:
		index = cache.NewMemory()
	case cache.StoreRedis:
		index = rediscache.New(a.redis.Client(), cfg.Cache.KeyPrefix, cfg.Cache.TTL)
	case cache.StoreSQL:
		index = sqlcache.New(a.database.DB())
	default:
		return nil, fmt.Errorf("unknown cache store %q", cfg.Cache.Store)
	}

	opts := []cache.GuardOption{
		cache.WithName(cfg.Cache.Store),
		cache.WithMetrics(a.metrics),
		cache.WithLogger(a.Logger),
	}
	if cfg.Cache.Store != cache.StoreMemory {
		opts = append(opts, cache.WithBreaker(cfg.Cache.Breaker))
	}
	if cfg.Scheduler.VerifyCachedArtifacts {
		opts = append(opts, cache.WithArtifactCheck(store))
	}
	return cache.NewGuard(index, opts...), nil
}

// backend builds the configured backend wrapped in the retry policy.
func (a *App) backend() (backend.Backend, error) {
	cfg := a.Cfg.Backend
	var b backend.Backend
	switch cfg.Kind {
	case backend.KindInProc:
		b = a.inproc
	case backend.KindProcess:
		b = subprocess.New(cfg.Process, a.Logger)
	case backend.KindDocker, backend.KindKubernetes:
		b = container.New(string(cfg.Kind), a.manager, cfg.Container, a.Logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
	return backend.WithRetry(b, cfg.Retry, a.Logger), nil
}

// sink fans every transition out to the log, the stream hub and each
// enabled store.
func (a *App) sink() run.Sink {
	sinks := []run.Sink{run.NewLogSink(a.Logger), a.stream}
	if a.metadata != nil {
		sinks = append(sinks, a.metadata)
	}
	if a.events != nil {
		sinks = append(sinks, a.events)
	}
	return run.Multi(sinks...)
}

// shutdownRuns drains runs, then ends open streams so the HTTP server can
// stop without waiting on them.
func (a *App) shutdownRuns(ctx context.Context) error {
	defer a.stream.Stop()
	if a.orch == nil {
		return nil
	}
	return a.orch.Shutdown(ctx)
}

// RunPipelineFile runs the pipeline at path once and waits for it. It is
// meant for RunTask.
func (a *App) RunPipelineFile(ctx context.Context, path string, req orchestrator.Request) (*run.Result, error) {
	p, err := dag.LoadPipelineFile(path)
	if err != nil {
		return nil, err
	}
	req.Pipeline = p
	return a.orch.Run(ctx, req)
}
