package orchestrator

import (
	"fmt"
)

// Config controls run submission.
type Config struct {
	// Namespace separates projects sharing one cache index.
	Namespace string `mapstructure:"namespace" json:"namespace"`
	// RunName is the default run-name template. Empty means
	// "{pipeline}-{date}-{time}".
	RunName string `mapstructure:"run_name" json:"run_name"`
	// PipelineDirs are searched for named pipeline files.
	PipelineDirs []string `mapstructure:"dirs" json:"dirs"`
	// History is how many finished runs stay queryable in memory.
	History int `mapstructure:"history" json:"history"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if len(c.PipelineDirs) == 0 {
		c.PipelineDirs = []string{"pipelines"}
	}
	if c.History <= 0 {
		c.History = 100
	}
}

// Validate checks the run-name template.
func (c *Config) Validate() error {
	if c.RunName != "" {
		if err := ValidateRunName(c.RunName); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	}
	return nil
}
