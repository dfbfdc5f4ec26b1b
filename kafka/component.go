package kafka

import (
	"context"
	"fmt"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
)

// Publisher is the producer side managed by Component.
type Publisher interface {
	Start(ctx context.Context) error
	Close() error
	Metrics() WriterMetrics
}

// ProbeFunc checks broker reachability.
type ProbeFunc func(ctx context.Context, cfg *Config) (int, error)

// Component runs a Publisher inside the service lifecycle.
type Component struct {
	*component.Resource[Publisher]
	cfg   Config
	probe ProbeFunc
}

// NewComponent creates the kafka lifecycle component for pub.
func NewComponent(cfg Config, pub Publisher, log *logger.Logger) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("kafka")
	c := &Component{cfg: cfg, probe: Probe}
	open := func(ctx context.Context) (Publisher, error) {
		if err := pub.Start(ctx); err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		log.Info("Kafka component started", logger.Fields("brokers", cfg.Brokers, "topic", cfg.Topic))
		return pub, nil
	}
	stop := func(p Publisher) error {
		log.Info("Kafka component stopping", logger.Fields("writes", p.Metrics().String()))
		return p.Close()
	}
	c.Resource = component.NewResource("kafka", open, stop).WithProbe(c.health)
	return c
}

// health probes the brokers. Recent write errors degrade the status.
func (c *Component) health(ctx context.Context, pub Publisher) (component.HealthStatus, string, error) {
	cfg := c.cfg
	n, err := c.probe(ctx, &cfg)
	if err != nil {
		return "", "", err
	}
	if m := pub.Metrics(); m.Degraded() {
		return component.StatusDegraded, m.String(), nil
	}
	return component.StatusHealthy, fmt.Sprintf("%d brokers", n), nil
}
