package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"time"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
)

// Hook runs at one point of the lifecycle.
type Hook func(ctx context.Context) error

// App drives a process through startup, a signal or task, and shutdown.
// C is the process config.
//
//	app, err := bootstrap.NewApp(cfg)
//	app.OnConfigure(func(ctx context.Context, a *bootstrap.App[*Config]) error {
//	    return a.RegisterComponent(server.NewComponent(srv))
//	})
//	err = app.Run(ctx)
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	settings  settings
	configure []func(ctx context.Context, app *App[C]) error
	onStart   []Hook
	onReady   []Hook
	onStop    []Hook
}

// NewApp defaults and validates cfg. Unless WithLogger is given, the
// process logger is built from the config's Logging section.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	base := cfg.Service()
	if s.log == nil {
		s.log = logger.New(base.Logging)
		logger.SetGlobalLogger(s.log)
	}
	return &App[C]{
		Name:       base.Name,
		Version:    base.Version,
		Cfg:        cfg,
		Components: component.NewRegistry(s.log),
		Logger:     s.log,
		settings:   s,
	}, nil
}

// RegisterComponent adds c. From an OnConfigure callback, c starts right
// after configuration.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// OnConfigure adds a callback run once infrastructure is up.
func (a *App[C]) OnConfigure(fn func(ctx context.Context, app *App[C]) error) {
	a.configure = append(a.configure, fn)
}

// OnStart adds hooks run after the first components start, before configure.
func (a *App[C]) OnStart(hooks ...Hook) { a.onStart = append(a.onStart, hooks...) }

// OnReady adds hooks run after the ready check.
func (a *App[C]) OnReady(hooks ...Hook) { a.onReady = append(a.onReady, hooks...) }

// OnStop adds hooks run, in order, before components stop.
func (a *App[C]) OnStop(hooks ...Hook) { a.onStop = append(a.onStop, hooks...) }

// ReadyCheck fails naming each component that is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var bad []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		entry := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			entry += "(" + h.Message + ")"
		}
		bad = append(bad, entry)
	}
	if len(bad) > 0 {
		return fmt.Errorf("unhealthy components: %s", strings.Join(bad, ", "))
	}
	return nil
}

// Run starts the app and blocks until a signal arrives or ctx ends.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	sigCtx, stop := signal.NotifyContext(ctx, a.settings.signals...)
	defer stop()
	a.Logger.Info("Application ready")
	<-sigCtx.Done()
	a.Logger.Info("Shutdown requested", logger.Fields(logger.FieldReason, context.Cause(sigCtx).Error()))
	return a.shutdown()
}

// RunTask starts the app, runs task and shuts down once it returns. A
// signal cancels the task's context. The task's error wins over a
// shutdown error.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	taskCtx, stop := signal.NotifyContext(ctx, a.settings.signals...)
	taskErr := task(taskCtx)
	stop()

	if err := a.shutdown(); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

func (a *App[C]) startup(ctx context.Context) error {
	begin := time.Now()
	a.Logger.Info("Starting application", logger.Fields("name", a.Name, "version", a.Version))
	if err := a.bringUp(ctx); err != nil {
		a.Logger.Error("Startup failed", logger.MergeWithError(nil, err))
		stopCtx, cancel := context.WithTimeout(context.Background(), a.settings.grace)
		defer cancel()
		_ = a.Components.StopAll(stopCtx)
		return err
	}
	a.Logger.Info("Application started", logger.Fields(logger.FieldDuration, time.Since(begin).Milliseconds()))
	return nil
}

func (a *App[C]) bringUp(ctx context.Context) error {
	if err := a.Components.StartAll(ctx); err != nil {
		return err
	}
	if err := runHooks(ctx, "start", a.onStart); err != nil {
		return err
	}
	for _, fn := range a.configure {
		if err := fn(ctx, a); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	if err := a.Components.StartAll(ctx); err != nil {
		return err
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Not all components are healthy", logger.MergeWithError(nil, err))
	}
	return runHooks(ctx, "ready", a.onReady)
}

func (a *App[C]) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.settings.grace)
	defer cancel()

	hookErr := runHooks(ctx, "stop", a.onStop)
	if hookErr != nil {
		a.Logger.Error("Stop hook failed", logger.MergeWithError(nil, hookErr))
	}
	stopErr := a.Components.StopAll(ctx)
	a.Logger.Info("Application stopped")
	if stopErr != nil {
		return stopErr
	}
	return hookErr
}

func runHooks(ctx context.Context, phase string, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("%s hook %d: %w", phase, i, err)
		}
	}
	return nil
}
