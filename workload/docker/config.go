package docker

import (
	"fmt"
	"strings"
)

// Image pull policies.
const (
	PullMissing = "missing"
	PullAlways  = "always"
	PullNever   = "never"
)

// Config selects the Docker engine and how step containers attach to it.
type Config struct {
	// Host is the engine endpoint, e.g. unix:///var/run/docker.sock or
	// tcp://builder:2376.
	Host string `yaml:"host" mapstructure:"host"`
	// APIVersion pins the API; empty negotiates with the engine.
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
	// CertDir holds ca.pem, cert.pem and key.pem for a TLS endpoint.
	CertDir string `yaml:"cert_dir" mapstructure:"cert_dir"`
	// Network attaches containers to a user-defined network; "host" and
	// "none" select those modes.
	Network string `yaml:"network" mapstructure:"network"`
	// Platform is an os/arch pair used for pulls and creation.
	Platform string `yaml:"platform" mapstructure:"platform"`
	Pull     string `yaml:"pull" mapstructure:"pull"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "unix:///var/run/docker.sock"
	}
	if c.Pull == "" {
		c.Pull = PullMissing
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Pull {
	case PullMissing, PullAlways, PullNever:
	default:
		return fmt.Errorf("docker.pull must be one of missing, always, never (got: %q)", c.Pull)
	}
	if c.Platform != "" {
		if os, arch, ok := strings.Cut(c.Platform, "/"); !ok || os == "" || arch == "" {
			return fmt.Errorf("docker.platform must be os/arch (got: %q)", c.Platform)
		}
	}
	return nil
}
