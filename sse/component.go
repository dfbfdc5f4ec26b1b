package sse

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/stepflow/component"
)

// NewComponent runs hub's loop between Start and Stop. Health turns
// unhealthy once the loop has ended and reports open streams and dropped
// frames.
func NewComponent(hub *Hub) component.Component {
	loop := make(chan struct{})
	var started atomic.Bool
	return &component.Func{
		ComponentName: "sse",
		StartFn: func(context.Context) error {
			if !started.CompareAndSwap(false, true) {
				return nil
			}
			go func() {
				defer close(loop)
				hub.Run()
			}()
			return nil
		},
		StopFn: func(ctx context.Context) error {
			hub.Stop()
			if !started.Load() {
				return nil
			}
			select {
			case <-loop:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		HealthFn: func(context.Context) error {
			select {
			case <-hub.Done():
				return fmt.Errorf("hub stopped")
			default:
				return nil
			}
		},
		MessageFn: func() string {
			return fmt.Sprintf("%d streams, %d frames dropped", hub.ClientCount(), hub.Dropped())
		},
	}
}
