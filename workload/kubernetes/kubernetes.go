package kubernetes

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/workload"
)

// jobNameLabel is set by the Job controller on the pods it creates.
const jobNameLabel = "job-name"

// Manager runs steps as Jobs or bare Pods in one namespace.
type Manager struct {
	client kubernetes.Interface
	cfg    Config
	labels map[string]string
	log    *logger.Logger
}

var _ workload.Manager = (*Manager)(nil)

// NewManager builds a clientset from the kubeconfig in cfg, or from the
// in-cluster service account when none is set.
func NewManager(cfg *Config, labels map[string]string, log *logger.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		rc  *rest.Config
		err error
	)
	if cfg.Kubeconfig != "" {
		rc, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
		).ClientConfig()
	} else {
		rc, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes: load client config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: create clientset: %w", err)
	}
	return NewManagerWithClient(cs, *cfg, labels, log), nil
}

// NewManagerWithClient wraps an existing clientset.
func NewManagerWithClient(cs kubernetes.Interface, cfg Config, labels map[string]string, log *logger.Logger) *Manager {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{client: cs, cfg: cfg, labels: labels, log: log.WithComponent("kubernetes")}
}

// Deploy creates the step's Job or Pod. IDs have the form namespace/name.
func (m *Manager) Deploy(ctx context.Context, spec workload.Spec) (*workload.Deployment, error) {
	tmpl, err := m.podTemplate(spec)
	if err != nil {
		return nil, err
	}
	ns := m.cfg.Namespace
	if m.cfg.Kind == KindJob {
		_, err = m.client.BatchV1().Jobs(ns).Create(ctx, m.job(spec, tmpl), metav1.CreateOptions{})
	} else {
		_, err = m.client.CoreV1().Pods(ns).Create(ctx, m.pod(spec, tmpl), metav1.CreateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes: create %s %s: %w", m.cfg.Kind, spec.Name, err)
	}
	id := ns + "/" + spec.Name
	m.log.Debug("Workload created", logger.Fields(logger.FieldWorkload, id, "kind", m.cfg.Kind))
	return &workload.Deployment{ID: id, Name: spec.Name}, nil
}

// Wait polls every PollInterval until the workload reaches a final state.
func (m *Manager) Wait(ctx context.Context, id string) (*workload.Exit, error) {
	ns, name := m.split(id)
	var exit *workload.Exit
	err := wait.PollUntilContextCancel(ctx, m.cfg.PollInterval, true, func(ctx context.Context) (bool, error) {
		var err error
		if m.cfg.Kind == KindJob {
			exit, err = m.jobExit(ctx, ns, name)
		} else {
			exit, err = m.podExit(ctx, ns, name)
		}
		return exit != nil, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("kubernetes: wait %s: %w", id, err)
	}
	return exit, nil
}

func (m *Manager) jobExit(ctx context.Context, ns, name string) (*workload.Exit, error) {
	job, err := m.client.BatchV1().Jobs(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	if job.Status.Succeeded > 0 {
		return &workload.Exit{}, nil
	}
	reason, failed := failedCondition(job)
	if !failed && job.Status.Failed == 0 {
		return nil, nil
	}
	exit := &workload.Exit{Code: 1, Reason: reason}
	if pod, err := m.stepPod(ctx, ns, name); err == nil {
		mergeTermination(exit, pod)
	}
	return exit, nil
}

func (m *Manager) podExit(ctx context.Context, ns, name string) (*workload.Exit, error) {
	pod, err := m.client.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		exit := &workload.Exit{}
		mergeTermination(exit, pod)
		return exit, nil
	case corev1.PodFailed:
		exit := &workload.Exit{Code: 1, Reason: pod.Status.Reason}
		mergeTermination(exit, pod)
		return exit, nil
	}
	return nil, nil
}

// Logs reads the step container's output.
func (m *Manager) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	ns, name := m.split(id)
	pod, err := m.stepPod(ctx, ns, name)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: logs %s: %w", id, err)
	}
	opts := &corev1.PodLogOptions{Container: stepContainer}
	if tail > 0 {
		n := int64(tail)
		opts.TailLines = &n
	}
	rc, err := m.client.CoreV1().Pods(ns).GetLogs(pod.Name, opts).Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: logs %s: %w", id, err)
	}
	defer rc.Close() //nolint:errcheck

	var lines []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// Remove deletes the Job with its pods, or the bare Pod.
func (m *Manager) Remove(ctx context.Context, id string) error {
	ns, name := m.split(id)
	var err error
	if m.cfg.Kind == KindJob {
		propagation := metav1.DeletePropagationBackground
		err = m.client.BatchV1().Jobs(ns).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	} else {
		err = m.client.CoreV1().Pods(ns).Delete(ctx, name, metav1.DeleteOptions{})
	}
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("kubernetes: delete %s: %w", id, err)
	}
	return nil
}

// HealthCheck reads the target namespace.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if _, err := m.client.CoreV1().Namespaces().Get(ctx, m.cfg.Namespace, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("kubernetes: namespace %s: %w", m.cfg.Namespace, err)
	}
	return nil
}

// stepPod finds the pod running a step. For Jobs it is the newest pod the
// controller created.
func (m *Manager) stepPod(ctx context.Context, ns, name string) (*corev1.Pod, error) {
	if m.cfg.Kind != KindJob {
		return m.client.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	}
	list, err := m.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: jobNameLabel + "=" + name})
	if err != nil {
		return nil, err
	}
	var newest *corev1.Pod
	for i := range list.Items {
		p := &list.Items[i]
		if newest == nil || p.CreationTimestamp.After(newest.CreationTimestamp.Time) {
			newest = p
		}
	}
	if newest == nil {
		return nil, apierrors.NewNotFound(corev1.Resource("pods"), name)
	}
	return newest, nil
}

func (m *Manager) split(id string) (ns, name string) {
	if ns, name, ok := strings.Cut(id, "/"); ok {
		return ns, name
	}
	return m.cfg.Namespace, id
}

func failedCondition(job *batchv1.Job) (string, bool) {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == corev1.ConditionTrue {
			return c.Reason, true
		}
	}
	return "", false
}

// mergeTermination copies the step container's exit code and reason.
func mergeTermination(exit *workload.Exit, pod *corev1.Pod) {
	for _, cs := range pod.Status.ContainerStatuses {
		if term := cs.State.Terminated; term != nil && cs.Name == stepContainer {
			exit.Code = int(term.ExitCode)
			if term.Reason != "" {
				exit.Reason = term.Reason
			}
			return
		}
	}
}
