package server

import (
	"context"
	"sync/atomic"

	"github.com/kbukum/stepflow/component"
)

// Component runs a Server inside the component registry.
type Component struct {
	server  *Server
	serving atomic.Bool
}

var _ component.Component = (*Component)(nil)

// NewComponent wraps s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

func (c *Component) Name() string { return "http-server" }

// Start binds the listener.
func (c *Component) Start(ctx context.Context) error {
	if err := c.server.Start(ctx); err != nil {
		return err
	}
	c.serving.Store(true)
	return nil
}

// Stop shuts the server down once; later calls do nothing.
func (c *Component) Stop(ctx context.Context) error {
	if !c.serving.CompareAndSwap(true, false) {
		return nil
	}
	return c.server.Stop(ctx)
}

// Health is healthy while serving, with the bound address as message.
func (c *Component) Health(_ context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not serving"}
	if c.serving.Load() {
		h.Status = component.StatusHealthy
		h.Message = c.server.Addr()
	}
	return h
}
