package kubernetes

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kbukum/stepflow/workload"
)

func newTestManager(t *testing.T, kind string, objects ...runtime.Object) (*Manager, *fake.Clientset) {
	t.Helper()
	cs := fake.NewSimpleClientset(objects...)
	m := NewManagerWithClient(cs, Config{
		Namespace:        "steps",
		Kind:             kind,
		PullSecrets:      []string{"registry"},
		TTLAfterFinished: time.Hour,
		PollInterval:     5 * time.Millisecond,
	}, map[string]string{"team": "ml"}, nil)
	return m, cs
}

func trainSpec() workload.Spec {
	return workload.Spec{
		Name:    "sf-run1-train",
		Image:   "trainer:1.2",
		Command: []string{"python", "train.py"},
		Env:     map[string]string{"STEPFLOW_STEP": "train", "A": "1"},
		Labels:  map[string]string{"stepflow.step": "train"},
		Limits:  workload.Limits{CPU: "500m", Memory: "1Gi"},
		Mounts:  []workload.Mount{{Kind: workload.MountClaim, Source: "artifacts", Target: "/stepflow"}},
		Timeout: time.Minute,
	}
}

func TestDeployJob(t *testing.T) {
	m, cs := newTestManager(t, KindJob)
	ctx := context.Background()

	dep, err := m.Deploy(ctx, trainSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if dep.ID != "steps/sf-run1-train" {
		t.Errorf("unexpected id %q", dep.ID)
	}

	job, err := cs.BatchV1().Jobs("steps").Get(ctx, "sf-run1-train", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("job not created: %v", err)
	}
	if job.Labels[workload.ManagedByLabel] != workload.ManagedBy || job.Labels["team"] != "ml" {
		t.Errorf("unexpected labels %v", job.Labels)
	}
	if job.Spec.ActiveDeadlineSeconds == nil || *job.Spec.ActiveDeadlineSeconds != 60 {
		t.Errorf("expected 60s deadline, got %v", job.Spec.ActiveDeadlineSeconds)
	}
	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("step jobs must not retry, backoff=%d", *job.Spec.BackoffLimit)
	}
	if job.Spec.TTLSecondsAfterFinished == nil || *job.Spec.TTLSecondsAfterFinished != 3600 {
		t.Errorf("unexpected ttl %v", job.Spec.TTLSecondsAfterFinished)
	}

	spec := job.Spec.Template.Spec
	if spec.RestartPolicy != corev1.RestartPolicyNever {
		t.Errorf("unexpected restart policy %q", spec.RestartPolicy)
	}
	if len(spec.ImagePullSecrets) != 1 || spec.ImagePullSecrets[0].Name != "registry" {
		t.Errorf("unexpected pull secrets %v", spec.ImagePullSecrets)
	}
	c := spec.Containers[0]
	if c.Name != stepContainer || c.Image != "trainer:1.2" || c.Command[1] != "train.py" {
		t.Errorf("unexpected container %+v", c)
	}
	if len(c.Env) != 2 || c.Env[0].Name != "A" {
		t.Errorf("expected sorted env, got %v", c.Env)
	}
	if q := c.Resources.Limits[corev1.ResourceMemory]; q.String() != "1Gi" {
		t.Errorf("unexpected memory limit %s", q.String())
	}
	if q := c.Resources.Requests[corev1.ResourceCPU]; q.String() != "500m" {
		t.Errorf("expected cpu request to match limit, got %s", q.String())
	}
	if spec.Volumes[0].PersistentVolumeClaim == nil || spec.Volumes[0].PersistentVolumeClaim.ClaimName != "artifacts" {
		t.Errorf("expected pvc volume, got %+v", spec.Volumes[0])
	}
}

func TestDeployRejectsBadSpec(t *testing.T) {
	tests := []struct {
		name string
		edit func(*workload.Spec)
	}{
		{"bad cpu", func(s *workload.Spec) { s.Limits.CPU = "fast" }},
		{"docker volume", func(s *workload.Spec) { s.Mounts[0].Kind = workload.MountVolume }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, KindJob)
			spec := trainSpec()
			tc.edit(&spec)
			if _, err := m.Deploy(context.Background(), spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWaitJob(t *testing.T) {
	tests := []struct {
		name       string
		status     batchv1.JobStatus
		pod        *corev1.Pod
		wantCode   int
		wantReason string
	}{
		{
			name:   "succeeded",
			status: batchv1.JobStatus{Succeeded: 1},
		},
		{
			name:   "failed with pod exit code",
			status: batchv1.JobStatus{Failed: 1},
			pod: terminatedPod("sf-run1-train-abcde", map[string]string{jobNameLabel: "sf-run1-train"},
				corev1.PodFailed, 137, "OOMKilled"),
			wantCode:   137,
			wantReason: "OOMKilled",
		},
		{
			name: "deadline exceeded without pod",
			status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{{
				Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Reason: "DeadlineExceeded",
			}}},
			wantCode:   1,
			wantReason: "DeadlineExceeded",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, cs := newTestManager(t, KindJob)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			dep, err := m.Deploy(ctx, trainSpec())
			if err != nil {
				t.Fatalf("Deploy: %v", err)
			}
			if tc.pod != nil {
				if _, err := cs.CoreV1().Pods("steps").Create(ctx, tc.pod, metav1.CreateOptions{}); err != nil {
					t.Fatalf("create pod: %v", err)
				}
			}

			go func() {
				time.Sleep(20 * time.Millisecond)
				job, err := cs.BatchV1().Jobs("steps").Get(ctx, "sf-run1-train", metav1.GetOptions{})
				if err != nil {
					return
				}
				job.Status = tc.status
				_, _ = cs.BatchV1().Jobs("steps").UpdateStatus(ctx, job, metav1.UpdateOptions{})
			}()

			exit, err := m.Wait(ctx, dep.ID)
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if exit.Code != tc.wantCode || exit.Reason != tc.wantReason {
				t.Errorf("Wait = %+v, want code %d reason %q", exit, tc.wantCode, tc.wantReason)
			}
		})
	}
}

func TestWaitCancelled(t *testing.T) {
	m, _ := newTestManager(t, KindJob)
	ctx, cancel := context.WithCancel(context.Background())
	dep, err := m.Deploy(ctx, trainSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := m.Wait(ctx, dep.ID); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPodLifecycle(t *testing.T) {
	m, cs := newTestManager(t, KindPod)
	ctx := context.Background()

	dep, err := m.Deploy(ctx, trainSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	pod, err := cs.CoreV1().Pods("steps").Get(ctx, "sf-run1-train", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("pod not created: %v", err)
	}
	if pod.Spec.ActiveDeadlineSeconds == nil || *pod.Spec.ActiveDeadlineSeconds != 60 {
		t.Errorf("expected pod deadline, got %v", pod.Spec.ActiveDeadlineSeconds)
	}
	pod.Status = terminatedPod(pod.Name, nil, corev1.PodFailed, 2, "Error").Status
	if _, err := cs.CoreV1().Pods("steps").UpdateStatus(ctx, pod, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("update status: %v", err)
	}

	exit, err := m.Wait(ctx, dep.ID)
	if err != nil || exit.Code != 2 || exit.Reason != "Error" {
		t.Fatalf("Wait = %+v, %v", exit, err)
	}

	lines, err := m.Logs(ctx, dep.ID, 20)
	if err != nil || len(lines) == 0 {
		t.Fatalf("Logs = %q, %v", lines, err)
	}

	if err := m.Remove(ctx, dep.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := cs.CoreV1().Pods("steps").Get(ctx, pod.Name, metav1.GetOptions{}); err == nil {
		t.Error("pod still present after Remove")
	}
	if err := m.Remove(ctx, dep.ID); err != nil {
		t.Errorf("second Remove should succeed, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	m, _ := newTestManager(t, KindJob, &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "steps"}})
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	missing, _ := newTestManager(t, KindJob)
	if err := missing.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail without the namespace")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"pod", Config{Kind: KindPod}, false},
		{"deployment", Config{Kind: "deployment"}, true},
		{"bad pull policy", Config{PullPolicy: "Sometimes"}, true},
		{"negative ttl", Config{TTLAfterFinished: -time.Second}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ApplyDefaults()
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func terminatedPod(name string, labels map[string]string, phase corev1.PodPhase, code int32, reason string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "steps", Labels: labels},
		Status: corev1.PodStatus{
			Phase: phase,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name: stepContainer,
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
					ExitCode: code, Reason: reason,
				}},
			}},
		},
	}
}
