package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kbukum/stepflow/logger"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var environments = []string{EnvDevelopment, EnvStaging, EnvProduction}

// ServiceConfig names the process and configures its logging. Embed it
// with mapstructure ",squash".
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	// Debug defaults to true in development and lowers an unset log level
	// to debug.
	Debug   bool          `yaml:"debug" mapstructure:"debug"`
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
}

// Validatable is implemented by every config section.
type Validatable interface {
	ApplyDefaults()
	Validate() error
}

// Service returns c, so configs embedding it satisfy bootstrap.Config.
func (c *ServiceConfig) Service() *ServiceConfig { return c }

func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "stepflow"
	}
	if c.Environment == "" {
		c.Environment, c.Debug = EnvDevelopment, true
	}
	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = c.Name
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
}

func (c *ServiceConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("config.name is required"))
	}
	if !slices.Contains(environments, c.Environment) {
		errs = append(errs, fmt.Errorf("config.environment must be one of %s (got: %q)", strings.Join(environments, ", "), c.Environment))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config.logging: %w", err))
	}
	return errors.Join(errs...)
}
