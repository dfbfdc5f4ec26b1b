package process

import (
	"context"
	"fmt"
	"time"
)

// Config holds defaults applied to every command a Runner executes.
type Config struct {
	// GracePeriod is the default grace period between SIGTERM and SIGKILL.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// Timeout bounds each execution. Zero means no timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// WorkDir is the default working directory.
	WorkDir string `mapstructure:"work_dir"`
	// Env is appended to every command's environment.
	Env []string `mapstructure:"env"`
	// Capture bounds the output kept per stream.
	Capture int `mapstructure:"capture"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.Capture <= 0 {
		c.Capture = DefaultCapture
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("process.timeout must not be negative")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("process.grace_period must not be negative")
	}
	return nil
}

// Runner executes commands with configured defaults.
type Runner struct {
	config Config
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	cfg.ApplyDefaults()
	return &Runner{config: cfg}
}

// Run executes cmd, applying the runner's defaults to unset fields.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.GracePeriod == 0 {
		cmd.GracePeriod = r.config.GracePeriod
	}
	if cmd.Capture == 0 {
		cmd.Capture = r.config.Capture
	}
	if cmd.Dir == "" {
		cmd.Dir = r.config.WorkDir
	}
	if len(r.config.Env) > 0 {
		cmd.Env = append(append([]string(nil), r.config.Env...), cmd.Env...)
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	return Run(ctx, cmd)
}
