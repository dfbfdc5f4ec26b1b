package app

import (
	"fmt"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/backend/container"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/config"
	"github.com/kbukum/stepflow/database"
	"github.com/kbukum/stepflow/kafka"
	"github.com/kbukum/stepflow/observability"
	"github.com/kbukum/stepflow/orchestrator"
	"github.com/kbukum/stepflow/process"
	"github.com/kbukum/stepflow/redis"
	"github.com/kbukum/stepflow/resilience"
	"github.com/kbukum/stepflow/scheduler"
	"github.com/kbukum/stepflow/server"
	"github.com/kbukum/stepflow/workload/docker"
	"github.com/kbukum/stepflow/workload/kubernetes"
)

// Config is the daemon configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server       server.Config        `yaml:"server" mapstructure:"server"`
	Orchestrator orchestrator.Config  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Scheduler    scheduler.Config     `yaml:"scheduler" mapstructure:"scheduler"`
	Cache        cache.Config         `yaml:"cache" mapstructure:"cache"`
	Backend      BackendConfig        `yaml:"backend" mapstructure:"backend"`
	Artifacts    artifact.Config      `yaml:"artifacts" mapstructure:"artifacts"`
	Database     database.Config      `yaml:"database" mapstructure:"database"`
	Redis        redis.Config         `yaml:"redis" mapstructure:"redis"`
	Kafka        kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Telemetry    observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

// BackendConfig selects the execution backend. Only the section matching
// Kind is used.
type BackendConfig struct {
	Kind       backend.Kind      `yaml:"kind" mapstructure:"kind"`
	Retry      resilience.Policy `yaml:"retry" mapstructure:"retry"`
	Process    process.Config    `yaml:"process" mapstructure:"process"`
	Container  container.Config  `yaml:"container" mapstructure:"container"`
	Docker     docker.Config     `yaml:"docker" mapstructure:"docker"`
	Kubernetes kubernetes.Config `yaml:"kubernetes" mapstructure:"kubernetes"`
}

// ApplyDefaults fills every section.
func (c *BackendConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = backend.KindInProc
	}
	c.Retry.ApplyDefaults()
	c.Process.ApplyDefaults()
	c.Container.ApplyDefaults()
	switch c.Kind {
	case backend.KindDocker:
		c.Docker.ApplyDefaults()
	case backend.KindKubernetes:
		c.Kubernetes.ApplyDefaults()
	}
}

// Validate checks the kind and the section it selects.
func (c *BackendConfig) Validate() error {
	switch c.Kind {
	case backend.KindInProc:
		return nil
	case backend.KindProcess:
		return c.Process.Validate()
	case backend.KindDocker:
		if err := c.Container.Validate(); err != nil {
			return err
		}
		return c.Docker.Validate()
	case backend.KindKubernetes:
		if err := c.Container.Validate(); err != nil {
			return err
		}
		return c.Kubernetes.Validate()
	default:
		return fmt.Errorf("backend.kind must be one of inproc, process, docker, kubernetes (got: %q)", c.Kind)
	}
}

func (c *Config) sections() []config.Validatable {
	return []config.Validatable{
		&c.Server,
		&c.Orchestrator,
		&c.Scheduler,
		&c.Cache,
		&c.Backend,
		&c.Artifacts,
		&c.Database,
		&c.Redis,
		&c.Kafka,
		&c.Telemetry,
	}
}

// ApplyDefaults fills the service fields and every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	for _, s := range c.sections() {
		s.ApplyDefaults()
	}
}

// Validate checks every section and the cross-section requirements.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	for _, s := range c.sections() {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	switch c.Cache.Store {
	case cache.StoreRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.store redis requires redis.enabled")
		}
	case cache.StoreSQL:
		if !c.Database.Enabled {
			return fmt.Errorf("cache.store sql requires database.enabled")
		}
	}
	return nil
}
