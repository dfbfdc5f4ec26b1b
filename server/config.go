package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/kbukum/stepflow/server/middleware"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// MaxBodySize is a human size such as "10MB".
	MaxBodySize string `yaml:"max_body_size" mapstructure:"max_body_size"`
	// RateLimit is requests per minute per client; 0 disables it.
	RateLimit int                   `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      middleware.CORSConfig `yaml:"cors" mapstructure:"cors"`
}

func orDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	orDuration(&c.ReadTimeout, 15*time.Second)
	orDuration(&c.WriteTimeout, 15*time.Second)
	orDuration(&c.IdleTimeout, time.Minute)
	orDuration(&c.ShutdownTimeout, 5*time.Second)
	if c.MaxBodySize == "" {
		c.MaxBodySize = "10MB"
	}

	cors := &c.CORS
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader}
	}
	orDuration(&cors.MaxAge, 10*time.Minute)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"idle_timeout":     c.IdleTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("server.%s must be non-negative (got: %s)", name, d))
		}
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must be non-negative (got: %d)", c.RateLimit))
	}
	if n, err := middleware.ParseBodyLimit(c.MaxBodySize); err != nil || n <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be a positive size such as 10MB (got: %q)", c.MaxBodySize))
	}
	return errors.Join(errs...)
}
