package redis

import (
	"context"
	"fmt"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
)

// Component owns the Client for the application's lifetime.
type Component struct {
	*component.Resource[*Client]
}

// NewComponent prepares a component; the client exists after Start. A
// server that does not answer a ping fails startup.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("redis")
	open := func(ctx context.Context) (*Client, error) {
		client, err := New(cfg, log)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		opts := client.rdb.Options()
		log.Info("Redis connected", logger.Fields("addr", opts.Addr, "db", opts.DB))
		return client, nil
	}
	res := component.NewResource("redis", open, (*Client).Close).WithProbe(probe)
	return &Component{Resource: res}
}

// Client is nil before Start.
func (c *Component) Client() *Client { return c.Get() }

// probe reports pool usage. Pool wait timeouts mark the component degraded.
func probe(ctx context.Context, c *Client) (component.HealthStatus, string, error) {
	if err := c.Ping(ctx); err != nil {
		return "", "", err
	}
	st := c.PoolStats()
	msg := fmt.Sprintf("conns=%d idle=%d timeouts=%d", st.TotalConns, st.IdleConns, st.Timeouts)
	if st.Timeouts > 0 {
		return component.StatusDegraded, msg, nil
	}
	return component.StatusHealthy, msg, nil
}
