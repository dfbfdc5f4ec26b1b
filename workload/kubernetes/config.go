package kubernetes

import (
	"fmt"
	"time"
)

// Kinds of object a step runs as.
const (
	KindJob = "job"
	KindPod = "pod"
)

// Config selects the cluster and the shape of step workloads.
type Config struct {
	// Kubeconfig is a kubeconfig path; empty uses the in-cluster service
	// account.
	Kubeconfig string `yaml:"kubeconfig" mapstructure:"kubeconfig"`
	Context    string `yaml:"context" mapstructure:"context"`
	Namespace  string `yaml:"namespace" mapstructure:"namespace"`
	// Kind is job (default) or pod.
	Kind           string `yaml:"kind" mapstructure:"kind"`
	ServiceAccount string `yaml:"service_account" mapstructure:"service_account"`
	// PullPolicy is Always, IfNotPresent or Never.
	PullPolicy  string   `yaml:"pull_policy" mapstructure:"pull_policy"`
	PullSecrets []string `yaml:"pull_secrets" mapstructure:"pull_secrets"`
	// TTLAfterFinished lets the cluster collect finished Jobs that were
	// kept for inspection. Zero leaves them.
	TTLAfterFinished time.Duration `yaml:"ttl_after_finished" mapstructure:"ttl_after_finished"`
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Kind == "" {
		c.Kind = KindJob
	}
	if c.PullPolicy == "" {
		c.PullPolicy = "IfNotPresent"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Kind != KindJob && c.Kind != KindPod {
		return fmt.Errorf("kubernetes.kind must be job or pod (got: %q)", c.Kind)
	}
	switch c.PullPolicy {
	case "Always", "IfNotPresent", "Never":
	default:
		return fmt.Errorf("kubernetes.pull_policy must be Always, IfNotPresent or Never (got: %q)", c.PullPolicy)
	}
	if c.TTLAfterFinished < 0 {
		return fmt.Errorf("kubernetes.ttl_after_finished must not be negative")
	}
	return nil
}
