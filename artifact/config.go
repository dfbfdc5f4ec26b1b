package artifact

import (
	"fmt"

	"github.com/kbukum/stepflow/storage"
)

// Config is the artifacts section of the daemon configuration. ID and Root
// take part in every fingerprint, so moving artifacts to a different store
// invalidates the cache.
type Config struct {
	ID             string `mapstructure:"id" json:"id"`
	Root           string `mapstructure:"root" json:"root"`
	storage.Config `mapstructure:",squash"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Config.ApplyDefaults()
	if c.ID == "" {
		c.ID = "default"
	}
	if c.Root == "" {
		c.Root = "runs"
	}
}

// Validate checks the store identity and the storage provider settings.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("artifacts.id is required")
	}
	return c.Config.Validate()
}
