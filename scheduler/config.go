package scheduler

import "fmt"

// Config tunes the scheduler.
type Config struct {
	// MaxInFlight bounds the number of steps dispatched at once.
	MaxInFlight int `mapstructure:"max_in_flight"`
	// VerifyCachedArtifacts turns cache hits whose artifacts no longer exist
	// into misses.
	VerifyCachedArtifacts bool `mapstructure:"verify_cached_artifacts"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxInFlight < 1 {
		return fmt.Errorf("scheduler.max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	return nil
}
