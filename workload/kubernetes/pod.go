package kubernetes

import (
	"fmt"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kbukum/stepflow/workload"
)

// stepContainer names the single container of every step pod.
const stepContainer = "step"

// podTemplate renders a step spec. Steps never restart in place; retries
// belong to the scheduler.
func (m *Manager) podTemplate(spec workload.Spec) (corev1.PodTemplateSpec, error) {
	c := corev1.Container{
		Name:            stepContainer,
		Image:           spec.Image,
		Command:         spec.Command,
		Args:            spec.Args,
		WorkingDir:      spec.WorkDir,
		ImagePullPolicy: corev1.PullPolicy(m.cfg.PullPolicy),
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Env = append(c.Env, corev1.EnvVar{Name: k, Value: spec.Env[k]})
	}

	cpu, mem, err := spec.Limits.Parse()
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}
	if cpu != nil || mem != nil {
		// Requests equal limits so steps get guaranteed QoS.
		list := corev1.ResourceList{}
		if cpu != nil {
			list[corev1.ResourceCPU] = *cpu
		}
		if mem != nil {
			list[corev1.ResourceMemory] = *mem
		}
		c.Resources = corev1.ResourceRequirements{Limits: list, Requests: list.DeepCopy()}
	}

	var volumes []corev1.Volume
	for i, mt := range spec.Mounts {
		name := fmt.Sprintf("mount-%d", i)
		vol, err := volumeFor(name, mt)
		if err != nil {
			return corev1.PodTemplateSpec{}, err
		}
		volumes = append(volumes, vol)
		c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{Name: name, MountPath: mt.Target, ReadOnly: mt.ReadOnly})
	}

	pod := corev1.PodSpec{
		Containers:         []corev1.Container{c},
		Volumes:            volumes,
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: m.cfg.ServiceAccount,
	}
	for _, s := range m.cfg.PullSecrets {
		pod.ImagePullSecrets = append(pod.ImagePullSecrets, corev1.LocalObjectReference{Name: s})
	}
	if spec.Timeout > 0 {
		pod.ActiveDeadlineSeconds = deadline(spec)
	}
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: workload.Labels(m.labels, spec.Labels)},
		Spec:       pod,
	}, nil
}

func (m *Manager) job(spec workload.Spec, tmpl corev1.PodTemplateSpec) *batchv1.Job {
	var noRetry int32
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: m.cfg.Namespace, Labels: tmpl.Labels},
		Spec: batchv1.JobSpec{
			BackoffLimit: &noRetry,
			Template:     tmpl,
		},
	}
	if spec.Timeout > 0 {
		job.Spec.ActiveDeadlineSeconds = deadline(spec)
	}
	if m.cfg.TTLAfterFinished > 0 {
		ttl := int32(m.cfg.TTLAfterFinished.Seconds())
		job.Spec.TTLSecondsAfterFinished = &ttl
	}
	return job
}

func (m *Manager) pod(spec workload.Spec, tmpl corev1.PodTemplateSpec) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: m.cfg.Namespace, Labels: tmpl.Labels},
		Spec:       tmpl.Spec,
	}
}

func volumeFor(name string, mt workload.Mount) (corev1.Volume, error) {
	vol := corev1.Volume{Name: name}
	switch mt.Kind {
	case workload.MountClaim:
		vol.PersistentVolumeClaim = &corev1.PersistentVolumeClaimVolumeSource{ClaimName: mt.Source, ReadOnly: mt.ReadOnly}
	case workload.MountBind, "":
		dir := corev1.HostPathDirectoryOrCreate
		vol.HostPath = &corev1.HostPathVolumeSource{Path: mt.Source, Type: &dir}
	default:
		return vol, fmt.Errorf("kubernetes: mount kind %q is not supported", mt.Kind)
	}
	return vol, nil
}

func deadline(spec workload.Spec) *int64 {
	secs := int64(spec.Timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return &secs
}
