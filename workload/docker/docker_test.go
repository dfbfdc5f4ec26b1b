package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kbukum/stepflow/workload"
)

// fakeEngine records the calls a step makes; anything else panics through
// the nil embedded interface.
type fakeEngine struct {
	client.APIClient

	haveImage bool
	created   *container.Config
	host      *container.HostConfig
	platform  *ocispec.Platform
	started   []string
	removed   []string
	pulled    []string
	exitCode  int64
	stdout    string
	stderr    string
}

func (f *fakeEngine) ImageInspect(context.Context, string, ...client.ImageInspectOption) (image.InspectResponse, error) {
	if f.haveImage {
		return image.InspectResponse{}, nil
	}
	return image.InspectResponse{}, errors.New("no such image")
}

func (f *fakeEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, plat *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.created, f.host, f.platform = cfg, host, plat
	return container.CreateResponse{ID: "0123456789abcdef-" + name}, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error)
}

func (f *fakeEngine) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestContainerConfig(t *testing.T) {
	m := NewManagerWithClient(&fakeEngine{}, Config{Network: "steps"}, map[string]string{"team": "ml"}, nil)
	cfg, host, netCfg, err := m.containerConfig(workload.Spec{
		Name:    "sf-train",
		Image:   "trainer:1.2",
		Command: []string{"python", "train.py"},
		Args:    []string{"--epochs", "3"},
		Env:     map[string]string{"B": "2", "A": "1"},
		Labels:  map[string]string{"stepflow.step": "train"},
		Limits:  workload.Limits{CPU: "500m", Memory: "1Gi"},
		Mounts: []workload.Mount{
			{Source: "/data", Target: "/stepflow"},
			{Kind: workload.MountVolume, Source: "cache", Target: "/cache", ReadOnly: true},
		},
	})
	if err != nil {
		t.Fatalf("containerConfig: %v", err)
	}

	if len(cfg.Entrypoint) != 2 || cfg.Entrypoint[0] != "python" || len(cfg.Cmd) != 2 {
		t.Errorf("unexpected command %v %v", cfg.Entrypoint, cfg.Cmd)
	}
	if len(cfg.Env) != 2 || cfg.Env[0] != "A=1" || cfg.Env[1] != "B=2" {
		t.Errorf("unexpected env %v", cfg.Env)
	}
	if cfg.Labels[workload.ManagedByLabel] != workload.ManagedBy || cfg.Labels["team"] != "ml" || cfg.Labels["stepflow.step"] != "train" {
		t.Errorf("unexpected labels %v", cfg.Labels)
	}
	if host.NanoCPUs != 5e8 || host.Memory != 1<<30 {
		t.Errorf("unexpected limits cpu=%d mem=%d", host.NanoCPUs, host.Memory)
	}
	if len(host.Mounts) != 2 || host.Mounts[0].Type != mount.TypeBind || host.Mounts[1].Type != mount.TypeVolume || !host.Mounts[1].ReadOnly {
		t.Errorf("unexpected mounts %+v", host.Mounts)
	}
	if netCfg == nil || netCfg.EndpointsConfig["steps"] == nil {
		t.Errorf("expected endpoint on network steps, got %+v", netCfg)
	}
}

func TestContainerConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		spec workload.Spec
	}{
		{"bad memory", workload.Spec{Image: "busybox", Limits: workload.Limits{Memory: "lots"}}},
		{"claim mount", workload.Spec{Image: "busybox", Mounts: []workload.Mount{{Kind: workload.MountClaim, Source: "pvc", Target: "/x"}}}},
	}
	m := NewManagerWithClient(&fakeEngine{}, Config{}, nil, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, err := m.containerConfig(tc.spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHostNetwork(t *testing.T) {
	m := NewManagerWithClient(&fakeEngine{}, Config{Network: "host"}, nil, nil)
	_, host, netCfg, err := m.containerConfig(workload.Spec{Image: "busybox"})
	if err != nil {
		t.Fatal(err)
	}
	if host.NetworkMode != "host" || netCfg != nil {
		t.Errorf("expected host networking, got mode=%q net=%+v", host.NetworkMode, netCfg)
	}
}

func TestPullPolicy(t *testing.T) {
	tests := []struct {
		pull      string
		haveImage bool
		wantPulls int
	}{
		{PullMissing, false, 1},
		{PullMissing, true, 0},
		{PullAlways, true, 1},
		{PullNever, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.pull, func(t *testing.T) {
			engine := &fakeEngine{haveImage: tc.haveImage}
			m := NewManagerWithClient(engine, Config{Pull: tc.pull}, nil, nil)
			if _, err := m.Deploy(context.Background(), workload.Spec{Name: "sf", Image: "busybox"}); err != nil {
				t.Fatalf("Deploy: %v", err)
			}
			if len(engine.pulled) != tc.wantPulls {
				t.Errorf("pulled %v, want %d pulls", engine.pulled, tc.wantPulls)
			}
		})
	}
}

func TestDeployWaitLogsRemove(t *testing.T) {
	engine := &fakeEngine{exitCode: 3, stdout: "epoch 1\n\n", stderr: "boom\n"}
	m := NewManagerWithClient(engine, Config{Platform: "linux/arm64"}, nil, nil)
	ctx := context.Background()

	dep, err := m.Deploy(ctx, workload.Spec{Name: "sf-train", Image: "trainer:1.2"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(engine.started) != 1 || engine.started[0] != dep.ID {
		t.Fatalf("expected start of %s, got %v", dep.ID, engine.started)
	}
	if engine.platform == nil || engine.platform.Architecture != "arm64" {
		t.Errorf("unexpected platform %+v", engine.platform)
	}

	exit, err := m.Wait(ctx, dep.ID)
	if err != nil || exit.Code != 3 {
		t.Fatalf("Wait = %+v, %v", exit, err)
	}

	lines, err := m.Logs(ctx, dep.ID, 10)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(lines) != 2 || lines[0] != "epoch 1" || lines[1] != "boom" {
		t.Errorf("unexpected log lines %q", lines)
	}

	if err := m.Remove(ctx, dep.ID); err != nil || len(engine.removed) != 1 {
		t.Errorf("Remove: %v, removed=%v", err, engine.removed)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"platform", Config{Platform: "linux/amd64"}, false},
		{"bad platform", Config{Platform: "linux"}, true},
		{"bad pull", Config{Pull: "sometimes"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ApplyDefaults()
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
