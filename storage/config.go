package storage

import (
	"errors"
	"fmt"
)

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

const (
	DefaultProvider = ProviderLocal
	DefaultBasePath = "/tmp/stepflow/artifacts"
	DefaultRegion   = "us-east-1"
)

// Config selects and configures the artifact bucket. BasePath applies to
// the local provider; the rest apply to s3.
type Config struct {
	Provider string `mapstructure:"provider" json:"provider"`
	BasePath string `mapstructure:"base_path" json:"base_path"`

	Bucket string `mapstructure:"bucket" json:"bucket"`
	Region string `mapstructure:"region" json:"region"`
	// Prefix is prepended to every key, so one bucket can serve several
	// deployments.
	Prefix string `mapstructure:"prefix" json:"prefix"`
	// Endpoint points at an S3-compatible service such as MinIO and
	// implies path-style addressing.
	Endpoint       string `mapstructure:"endpoint" json:"endpoint"`
	AccessKey      string `mapstructure:"access_key" json:"access_key"`
	SecretKey      string `mapstructure:"secret_key" json:"-"`
	ForcePathStyle bool   `mapstructure:"force_path_style" json:"force_path_style"`
}

// ApplyDefaults fills unset fields for the selected provider.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	switch c.Provider {
	case ProviderLocal:
		if c.BasePath == "" {
			c.BasePath = DefaultBasePath
		}
	case ProviderS3:
		if c.Region == "" {
			c.Region = DefaultRegion
		}
	}
}

// Validate reports every problem with the selected provider's settings.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	switch c.Provider {
	case ProviderLocal:
		check(c.BasePath != "", "base_path is required")
	case ProviderS3:
		check(c.Bucket != "", "bucket is required")
		check(c.Region != "", "region is required")
		check((c.AccessKey == "") == (c.SecretKey == ""), "access_key and secret_key must be set together")
	default:
		return fmt.Errorf("storage: unsupported provider %q", c.Provider)
	}
	if len(errs) > 0 {
		return fmt.Errorf("storage: invalid %s config: %w", c.Provider, errors.Join(errs...))
	}
	return nil
}
