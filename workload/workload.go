package workload

import (
	"context"
	"fmt"
	"maps"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Manager runs one container per step execution on a runtime.
type Manager interface {
	// Deploy creates and starts the workload described by spec.
	Deploy(ctx context.Context, spec Spec) (*Deployment, error)
	// Wait blocks until the workload exits or ctx ends.
	Wait(ctx context.Context, id string) (*Exit, error)
	// Logs returns up to tail trailing lines of output; 0 means all.
	Logs(ctx context.Context, id string, tail int) ([]string, error)
	// Remove deletes the workload. Removing a missing workload succeeds.
	Remove(ctx context.Context, id string) error
	// HealthCheck verifies the runtime is reachable.
	HealthCheck(ctx context.Context) error
}

const (
	ProviderDocker     = "docker"
	ProviderKubernetes = "kubernetes"
)

// ManagedByLabel is stamped on every workload; its value is ManagedBy.
const (
	ManagedByLabel = "stepflow.io/managed-by"
	ManagedBy      = "stepflow"
)

// Spec describes the container for one step attempt.
type Spec struct {
	Name    string
	Image   string
	Command []string // replaces the image entrypoint
	Args    []string
	Env     map[string]string
	Labels  map[string]string
	WorkDir string
	Limits  Limits
	Mounts  []Mount
	// Timeout bounds the run on the runtime side as well; zero is unlimited.
	Timeout time.Duration
}

// Deployment identifies a started workload.
type Deployment struct {
	ID   string
	Name string
}

// Exit is how a workload finished.
type Exit struct {
	Code   int
	Reason string
}

// MountKind selects how a Mount's Source is interpreted.
type MountKind string

const (
	MountBind   MountKind = "bind"   // host path
	MountVolume MountKind = "volume" // named Docker volume
	MountClaim  MountKind = "pvc"    // Kubernetes PersistentVolumeClaim
)

// Mount exposes Source at Target inside the workload.
type Mount struct {
	Kind     MountKind
	Source   string
	Target   string
	ReadOnly bool
}

// Limits caps compute in Kubernetes quantity notation: "500m" or "2" CPUs,
// "512Mi" or "4G" memory. Empty fields are unlimited.
type Limits struct {
	CPU    string
	Memory string
}

// IsZero reports whether no limit is set.
func (l Limits) IsZero() bool { return l.CPU == "" && l.Memory == "" }

// Parse returns the limits as quantities; unset ones are nil.
func (l Limits) Parse() (cpu, memory *resource.Quantity, err error) {
	if l.CPU != "" {
		q, err := resource.ParseQuantity(l.CPU)
		if err != nil {
			return nil, nil, fmt.Errorf("workload: cpu limit %q: %w", l.CPU, err)
		}
		cpu = &q
	}
	if l.Memory != "" {
		q, err := resource.ParseQuantity(l.Memory)
		if err != nil {
			return nil, nil, fmt.Errorf("workload: memory limit %q: %w", l.Memory, err)
		}
		memory = &q
	}
	return cpu, memory, nil
}

// Labels merges runtime defaults with spec labels, spec winning, and
// stamps ManagedByLabel.
func Labels(defaults, spec map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(spec)+1)
	maps.Copy(out, defaults)
	maps.Copy(out, spec)
	out[ManagedByLabel] = ManagedBy
	return out
}
