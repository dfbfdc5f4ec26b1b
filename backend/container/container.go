// Package container runs each step as a short-lived workload on a
// container runtime: a Docker container or a Kubernetes Job.
//
// The artifact store is mounted into the workload at MountPath, and the
// step receives its input and output paths through STEPFLOW_*
// environment variables. Stores without a filesystem (S3) are addressed
// by URL instead and need no mount.
package container

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/workload"
)

// Config holds settings shared by container runtimes.
type Config struct {
	// MountPath is where the artifact store appears inside the workload.
	MountPath string `mapstructure:"mount_path" json:"mount_path"`
	// VolumeType and VolumeSource describe the store mount: a host path
	// bind for Docker, usually a PVC for Kubernetes. An empty source binds
	// the local store's base directory.
	VolumeType   string `mapstructure:"volume_type" json:"volume_type"`
	VolumeSource string `mapstructure:"volume_source" json:"volume_source"`
	// KeepFailed leaves failed workloads in place for inspection.
	KeepFailed bool `mapstructure:"keep_failed" json:"keep_failed"`
	// LogTail is how many log lines are attached to a failure.
	LogTail int `mapstructure:"log_tail" json:"log_tail"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MountPath == "" {
		c.MountPath = "/stepflow"
	}
	if c.LogTail <= 0 {
		c.LogTail = 50
	}
}

// Validate checks the mount path.
func (c *Config) Validate() error {
	if !path.IsAbs(c.MountPath) {
		return fmt.Errorf("container.mount_path must be absolute (got: %q)", c.MountPath)
	}
	switch workload.MountKind(c.VolumeType) {
	case "", workload.MountBind, workload.MountVolume, workload.MountClaim:
	default:
		return fmt.Errorf("container.volume_type must be bind, volume or pvc (got: %q)", c.VolumeType)
	}
	return nil
}

// cleanupTimeout bounds workload removal after the run context ended.
const cleanupTimeout = 30 * time.Second

// Backend deploys one workload per invocation through a workload.Manager.
type Backend struct {
	manager  workload.Manager
	provider string
	cfg      Config
	log      *logger.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates a container backend over manager.
func New(provider string, manager workload.Manager, cfg Config, log *logger.Logger) *Backend {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Backend{
		manager:  manager,
		provider: provider,
		cfg:      cfg,
		log:      log.WithComponent("container").WithFields(logger.Fields(logger.FieldBackend, provider)),
	}
}

// Run deploys the step, waits for it to exit and collects its outputs.
func (b *Backend) Run(ctx context.Context, inv backend.Invocation) (map[string]artifact.Location, error) {
	res, err := backend.DecodeResources(inv.Resources)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}
	if res.Image == "" {
		return nil, backend.Failed(ctx, inv.Step, errors.New("resources.image is required"))
	}
	if inv.Store == nil {
		return nil, backend.Failed(ctx, inv.Step, errors.New("no artifact store"))
	}

	mounts, pathFn := b.mount(inv.Store)
	env, err := backend.Environment(ctx, inv, res, pathFn)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}

	spec := workload.Spec{
		Name:    WorkloadName(inv.RunID, inv.Step),
		Image:   res.Image,
		Command: res.Command,
		Args:    res.Args,
		Env:     env,
		Labels: map[string]string{
			"stepflow.run-id": inv.RunID,
			"stepflow.step":   labelValue(inv.Step),
		},
		WorkDir: res.WorkDir,
		Limits:  workload.Limits{CPU: res.CPU, Memory: res.Memory},
		Mounts:  mounts,
		Timeout: res.Timeout,
	}
	if _, _, err := spec.Limits.Parse(); err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}

	deployed, err := b.manager.Deploy(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backend.Failed(ctx, inv.Step, err)
		}
		return nil, backend.Transient(inv.Step, fmt.Errorf("deploy: %w", err))
	}
	log := b.log.WithFields(logger.Fields(
		logger.FieldRun, inv.RunID,
		logger.FieldStep, inv.Step,
		logger.FieldWorkload, deployed.ID,
	))

	failed := true
	defer func() {
		if failed && b.cfg.KeepFailed {
			log.Info("Keeping failed workload")
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := b.manager.Remove(cleanupCtx, deployed.ID); err != nil {
			log.Warn("Failed to remove workload", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	waitCtx := ctx
	if res.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, res.Timeout)
		defer cancel()
	}
	exit, err := b.manager.Wait(waitCtx, deployed.ID)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, fmt.Errorf("wait: %w", err))
	}
	if exit.Code != 0 {
		ee := &backend.ExecutionError{
			Step:      inv.Step,
			ExitCode:  exit.Code,
			Retryable: res.Retryable,
			Output:    b.logTail(ctx, deployed.ID),
			Err:       fmt.Errorf("workload %s exited", deployed.Name),
		}
		if exit.Reason != "" {
			ee.Err = fmt.Errorf("workload %s exited: %s", deployed.Name, exit.Reason)
		}
		return nil, ee
	}

	out, err := backend.Collect(ctx, inv)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}
	failed = false
	log.Debug("Workload finished")
	return out, nil
}

// mount decides how the store is exposed to the workload.
func (b *Backend) mount(store *artifact.Store) ([]workload.Mount, backend.PathFunc) {
	source := b.cfg.VolumeSource
	if source == "" {
		if root, ok := store.LocalPath(""); ok {
			source = root
		}
	}
	if source == "" {
		return nil, backend.StorePath(store)
	}
	mounts := []workload.Mount{{Kind: workload.MountKind(b.cfg.VolumeType), Source: source, Target: b.cfg.MountPath}}
	return mounts, func(_ context.Context, loc artifact.Location) (string, error) {
		return path.Join(b.cfg.MountPath, string(loc)), nil
	}
}

func (b *Backend) logTail(ctx context.Context, id string) string {
	lines, err := b.manager.Logs(context.WithoutCancel(ctx), id, b.cfg.LogTail)
	if err != nil {
		b.log.Debug("Could not read workload logs", logger.Fields(logger.FieldWorkload, id, logger.FieldError, err.Error()))
		return ""
	}
	return strings.Join(lines, "\n")
}

var invalidName = regexp.MustCompile(`[^a-z0-9-]+`)

// WorkloadName derives a DNS-1123 label from a run id and step name.
func WorkloadName(runID, step string) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	name := "sf-" + id + "-" + strings.ToLower(step)
	name = invalidName.ReplaceAllString(name, "-")
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.Trim(name, "-")
}

func labelValue(s string) string {
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
