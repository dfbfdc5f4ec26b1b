package component

import (
	"context"
	"sync"
)

// Probe inspects an open resource. An error makes it unhealthy.
type Probe[T any] func(ctx context.Context, v T) (HealthStatus, string, error)

// Resource is a Component around a client or pool that exists only between
// Start and Stop.
type Resource[T any] struct {
	name  string
	open  func(ctx context.Context) (T, error)
	close func(T) error
	probe Probe[T]

	mu   sync.RWMutex
	val  T
	live bool
}

var _ Component = (*Resource[any])(nil)

// NewResource wires open and close into a lifecycle. A failed open leaves
// the resource closed.
func NewResource[T any](name string, open func(ctx context.Context) (T, error), close func(T) error) *Resource[T] {
	return &Resource[T]{name: name, open: open, close: close}
}

// WithProbe sets the health check. Without one an open resource is healthy.
func (r *Resource[T]) WithProbe(p Probe[T]) *Resource[T] {
	r.probe = p
	return r
}

func (r *Resource[T]) Name() string { return r.name }

// Get returns the open value, or the zero value outside Start and Stop.
func (r *Resource[T]) Get() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.val
}

// Start opens the value. Starting an open resource is a no-op.
func (r *Resource[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live {
		return nil
	}
	v, err := r.open(ctx)
	if err != nil {
		return err
	}
	r.val, r.live = v, true
	return nil
}

// Stop closes the value once. Stopping a closed resource is a no-op.
func (r *Resource[T]) Stop(context.Context) error {
	r.mu.Lock()
	v, live := r.val, r.live
	var zero T
	r.val, r.live = zero, false
	r.mu.Unlock()
	if !live || r.close == nil {
		return nil
	}
	return r.close(v)
}

func (r *Resource[T]) Health(ctx context.Context) Health {
	h := Health{Name: r.name, Status: StatusHealthy}
	r.mu.RLock()
	v, live := r.val, r.live
	r.mu.RUnlock()
	if !live {
		h.Status, h.Message = StatusUnhealthy, "not started"
		return h
	}
	if r.probe == nil {
		return h
	}
	status, msg, err := r.probe(ctx, v)
	if err != nil {
		h.Status, h.Message = StatusUnhealthy, err.Error()
		return h
	}
	h.Status, h.Message = status, msg
	return h
}
