package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component represents a lifecycle-managed infrastructure component.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start initializes and starts the component.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and releases resources.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Func adapts plain functions into a Component. Nil hooks are no-ops and a
// nil HealthFn reports healthy. MessageFn, when set, describes a healthy
// component.
type Func struct {
	ComponentName string
	StartFn       func(ctx context.Context) error
	StopFn        func(ctx context.Context) error
	HealthFn      func(ctx context.Context) error
	MessageFn     func() string
}

func (f *Func) Name() string { return f.ComponentName }

func (f *Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

func (f *Func) Health(ctx context.Context) Health {
	h := Health{Name: f.ComponentName, Status: StatusHealthy}
	if f.HealthFn != nil {
		if err := f.HealthFn(ctx); err != nil {
			h.Status = StatusUnhealthy
			h.Message = err.Error()
			return h
		}
	}
	if f.MessageFn != nil {
		h.Message = f.MessageFn()
	}
	return h
}

// Overall folds component health into one status: any unhealthy component
// makes the whole unhealthy, otherwise any degraded one degrades it.
func Overall(healths []Health) HealthStatus {
	status := StatusHealthy
	for _, h := range healths {
		switch h.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
