package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/stepflow/logger"
)

// StopTimeout bounds each component's Stop call.
var StopTimeout = 10 * time.Second

// HealthTimeout bounds each component's Health call within HealthAll.
var HealthTimeout = 5 * time.Second

// Registry starts components in registration order and stops them in
// reverse. Names are unique.
type Registry struct {
	mu      sync.RWMutex
	log     *logger.Logger
	order   []Component
	started map[string]bool
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Registry{log: log.WithComponent("registry"), started: make(map[string]bool)}
}

// Register appends c. Register dependencies before their dependents.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.order {
		if have.Name() == c.Name() {
			return fmt.Errorf("component %s already registered", c.Name())
		}
	}
	r.order = append(r.order, c)
	return nil
}

// StartAll starts every component not yet started, stopping at the first
// failure. It may be called again after later registrations.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.order {
		name := c.Name()
		if r.started[name] {
			continue
		}
		begin := time.Now()
		if err := c.Start(ctx); err != nil {
			r.log.Error("Component failed to start", logger.MergeWithError(logger.Fields(logger.FieldComponent, name), err))
			return fmt.Errorf("start %s: %w", name, err)
		}
		r.started[name] = true
		r.log.Debug("Component started", logger.Fields(logger.FieldComponent, name, logger.FieldDuration, time.Since(begin).Milliseconds()))
	}
	return nil
}

// StopAll stops started components newest first and joins their errors.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.order[i]
		name := c.Name()
		if !r.started[name] {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, StopTimeout)
		err := c.Stop(stopCtx)
		cancel()
		delete(r.started, name)
		if err != nil {
			r.log.Error("Component failed to stop", logger.MergeWithError(logger.Fields(logger.FieldComponent, name), err))
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthAll checks every component concurrently and reports them in
// registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	comps := append([]Component(nil), r.order...)
	r.mu.RUnlock()

	out := make([]Health, len(comps))
	var g errgroup.Group
	for i, c := range comps {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, HealthTimeout)
			defer cancel()
			out[i] = c.Health(hctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Get returns the component registered as name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.order {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
