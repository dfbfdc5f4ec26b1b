package docker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kbukum/stepflow/workload"
)

// containerConfig translates a step spec into engine create options.
func (m *Manager) containerConfig(spec workload.Spec) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Entrypoint: spec.Command,
		Cmd:        spec.Args,
		WorkingDir: spec.WorkDir,
		Env:        envList(spec.Env),
		Labels:     workload.Labels(m.labels, spec.Labels),
	}

	host := &container.HostConfig{}
	cpu, mem, err := spec.Limits.Parse()
	if err != nil {
		return nil, nil, nil, err
	}
	if cpu != nil {
		host.NanoCPUs = cpu.MilliValue() * 1e6
	}
	if mem != nil {
		host.Memory = mem.Value()
	}

	for _, mt := range spec.Mounts {
		switch mt.Kind {
		case workload.MountBind, "":
			host.Mounts = append(host.Mounts, mount.Mount{Type: mount.TypeBind, Source: mt.Source, Target: mt.Target, ReadOnly: mt.ReadOnly})
		case workload.MountVolume:
			host.Mounts = append(host.Mounts, mount.Mount{Type: mount.TypeVolume, Source: mt.Source, Target: mt.Target, ReadOnly: mt.ReadOnly})
		default:
			return nil, nil, nil, fmt.Errorf("docker: mount kind %q is not supported", mt.Kind)
		}
	}

	var netCfg *network.NetworkingConfig
	switch m.cfg.Network {
	case "", "bridge":
	case "host", "none":
		host.NetworkMode = container.NetworkMode(m.cfg.Network)
	default:
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{m.cfg.Network: {}},
		}
	}
	return cfg, host, netCfg, nil
}

func (m *Manager) platform() *ocispec.Platform {
	os, arch, ok := strings.Cut(m.cfg.Platform, "/")
	if !ok {
		return nil
	}
	return &ocispec.Platform{OS: os, Architecture: arch}
}

// envList renders env as sorted KEY=value pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
