package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/workload"
)

// Manager runs step containers through the Docker Engine API.
type Manager struct {
	client client.APIClient
	cfg    Config
	labels map[string]string
	log    *logger.Logger
}

var _ workload.Manager = (*Manager)(nil)

// NewManager connects to the engine named by cfg. labels are added to
// every container.
func NewManager(cfg *Config, labels map[string]string, log *logger.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []client.Opt{client.WithHost(cfg.Host)}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	if cfg.CertDir != "" {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(cfg.CertDir, "ca.pem"),
			filepath.Join(cfg.CertDir, "cert.pem"),
			filepath.Join(cfg.CertDir, "key.pem"),
		))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: connect %s: %w", cfg.Host, err)
	}
	return NewManagerWithClient(cli, *cfg, labels, log), nil
}

// NewManagerWithClient wraps an existing engine client.
func NewManagerWithClient(cli client.APIClient, cfg Config, labels map[string]string, log *logger.Logger) *Manager {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{client: cli, cfg: cfg, labels: labels, log: log.WithComponent("docker")}
}

// Deploy pulls the image according to the pull policy, then creates and
// starts the container.
func (m *Manager) Deploy(ctx context.Context, spec workload.Spec) (*workload.Deployment, error) {
	if err := m.pull(ctx, spec.Image); err != nil {
		return nil, err
	}
	cfg, host, netCfg, err := m.containerConfig(spec)
	if err != nil {
		return nil, err
	}
	created, err := m.client.ContainerCreate(ctx, cfg, host, netCfg, m.platform(), spec.Name)
	if err != nil {
		return nil, fmt.Errorf("docker: create %s: %w", spec.Name, err)
	}
	if err := m.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = m.client.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("docker: start %s: %w", spec.Name, err)
	}
	m.log.Debug("Container started", logger.Fields(logger.FieldWorkload, shortID(created.ID), "image", spec.Image))
	return &workload.Deployment{ID: created.ID, Name: spec.Name}, nil
}

// Wait blocks until the container is no longer running.
func (m *Manager) Wait(ctx context.Context, id string) (*workload.Exit, error) {
	statusCh, errCh := m.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		exit := &workload.Exit{Code: int(st.StatusCode)}
		if st.Error != nil {
			exit.Reason = st.Error.Message
		}
		return exit, nil
	case err := <-errCh:
		return nil, fmt.Errorf("docker: wait %s: %w", shortID(id), err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logs returns the container's stdout lines followed by its stderr lines.
func (m *Manager) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := m.client.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("docker: logs %s: %w", shortID(id), err)
	}
	defer rc.Close() //nolint:errcheck

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, fmt.Errorf("docker: demux logs %s: %w", shortID(id), err)
	}
	return append(nonEmptyLines(&stdout), nonEmptyLines(&stderr)...), nil
}

// Remove force-removes the container with its anonymous volumes.
func (m *Manager) Remove(ctx context.Context, id string) error {
	err := m.client.ContainerRemove(ctx, id, container.RemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("docker: remove %s: %w", shortID(id), err)
	}
	return nil
}

// HealthCheck pings the engine.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if _, err := m.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker: ping %s: %w", m.cfg.Host, err)
	}
	return nil
}

// Close releases the engine client.
func (m *Manager) Close() error { return m.client.Close() }

func (m *Manager) pull(ctx context.Context, ref string) error {
	switch m.cfg.Pull {
	case PullNever:
		return nil
	case PullMissing:
		if _, err := m.client.ImageInspect(ctx, ref); err == nil {
			return nil
		}
	}
	m.log.Info("Pulling image", logger.Fields("image", ref))
	rc, err := m.client.ImagePull(ctx, ref, image.PullOptions{Platform: m.cfg.Platform})
	if err != nil {
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	defer rc.Close() //nolint:errcheck
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	return nil
}

func nonEmptyLines(r io.Reader) []string {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
