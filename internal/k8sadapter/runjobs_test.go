// Copyright Contributors to the Mellea project

package k8sadapter

import (
	"context"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
)

func TestCreateRunJob_SubmitsJobWithoutSecrets(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	a := NewRunJobs(clientset, "mellea-runs")

	limits := model.ResourceLimits{CPUCores: 2, MemoryMB: 1024, TimeoutSeconds: 300}
	name, err := a.CreateRunJob(context.Background(), "env-1", "registry/img:tag", limits, "main.py", nil)
	if err != nil {
		t.Fatalf("CreateRunJob: %v", err)
	}
	if name != "mellea-run-"+model.ShortID("env-1", 8) {
		t.Errorf("job name = %q", name)
	}

	job, err := clientset.BatchV1().Jobs("mellea-runs").Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected Job to exist: %v", err)
	}
	if job.Labels[LabelEnvironmentID] != "env-1" {
		t.Errorf("environment-id label = %q", job.Labels[LabelEnvironmentID])
	}
	pod := job.Spec.Template.Spec
	if len(pod.Volumes) != 2 {
		t.Errorf("expected tmp+output volumes only, got %d", len(pod.Volumes))
	}
	if pod.ServiceAccountName != "" {
		t.Errorf("expected no service account without secrets, got %q", pod.ServiceAccountName)
	}
	if pod.Containers[0].Command[1] != "main.py" {
		t.Errorf("entrypoint = %v", pod.Containers[0].Command)
	}
}

func TestCreateRunJob_MountsProjectedSecretsVolume(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	a := NewRunJobs(clientset, "mellea-runs")

	name, err := a.CreateRunJob(context.Background(), "env-2", "img:tag", model.ResourceLimits{CPUCores: 1, MemoryMB: 512, TimeoutSeconds: 60},
		"main.py", []string{"mellea-cred-openai-key"})
	if err != nil {
		t.Fatalf("CreateRunJob: %v", err)
	}

	job, _ := clientset.BatchV1().Jobs("mellea-runs").Get(context.Background(), name, metav1.GetOptions{})
	pod := job.Spec.Template.Spec
	if pod.ServiceAccountName != serviceAccountRuns {
		t.Errorf("service account = %q, want %q", pod.ServiceAccountName, serviceAccountRuns)
	}
	var found bool
	for _, v := range pod.Volumes {
		if v.Name == "secrets" {
			found = true
			if len(v.Projected.Sources) != 1 || v.Projected.Sources[0].Secret.Name != "mellea-cred-openai-key" {
				t.Errorf("projected sources = %+v", v.Projected.Sources)
			}
		}
	}
	if !found {
		t.Error("expected a secrets volume to be mounted")
	}
}

func TestGetJobStatus_DerivesFromConditionsAndCounters(t *testing.T) {
	tests := []struct {
		name string
		job  *batchv1.Job
		want model.JobStatus
	}{
		{"complete condition wins", jobWithCondition(batchv1.JobComplete), model.JobSucceeded},
		{"failed condition wins", jobWithCondition(batchv1.JobFailed), model.JobFailed},
		{"active counter", jobWithCounters(1, 0, 0), model.JobRunning},
		{"succeeded counter", jobWithCounters(0, 1, 0), model.JobSucceeded},
		{"failed counter", jobWithCounters(0, 0, 1), model.JobFailed},
		{"no signal yet", jobWithCounters(0, 0, 0), model.JobPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset(tt.job)
			a := NewRunJobs(clientset, "ns")
			info, err := a.GetJobStatus(context.Background(), tt.job.Name)
			if err != nil {
				t.Fatalf("GetJobStatus: %v", err)
			}
			if info.Status != tt.want {
				t.Errorf("status = %s, want %s", info.Status, tt.want)
			}
		})
	}
}

func TestGetJobStatus_MissingJobIsNotFound(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	a := NewRunJobs(clientset, "ns")
	_, err := a.GetJobStatus(context.Background(), "does-not-exist")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestGetJobStatus_ReadsContainerExitCodeFromPod(t *testing.T) {
	job := jobWithCounters(0, 0, 1)
	job.Name = "mellea-run-abc"
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "mellea-run-abc-xyz", Namespace: "ns", Labels: map[string]string{"job-name": job.Name}},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "program", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 1, Reason: "Error"}}},
			},
		},
	}
	clientset := fake.NewSimpleClientset(job, pod)
	a := NewRunJobs(clientset, "ns")

	info, err := a.GetJobStatus(context.Background(), job.Name)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if info.ExitCode == nil || *info.ExitCode != 1 {
		t.Fatalf("ExitCode = %v, want 1", info.ExitCode)
	}
	if info.ErrorMessage != "Error" {
		t.Errorf("ErrorMessage = %q, want Error", info.ErrorMessage)
	}
	if info.PodName != pod.Name {
		t.Errorf("PodName = %q, want %q", info.PodName, pod.Name)
	}
}

func TestCancelJob_ForceDeletesJob(t *testing.T) {
	job := jobWithCounters(1, 0, 0)
	job.Name = "mellea-run-force"
	clientset := fake.NewSimpleClientset(job)
	a := NewRunJobs(clientset, "ns")

	if err := a.CancelJob(context.Background(), job.Name, true); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if _, err := clientset.BatchV1().Jobs("ns").Get(context.Background(), job.Name, metav1.GetOptions{}); err == nil {
		t.Error("expected the job to be deleted")
	}
}

func TestDeleteJob_MissingJobIsNotAnError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	a := NewRunJobs(clientset, "ns")
	if err := a.DeleteJob(context.Background(), "ghost", metav1.DeletePropagationForeground, nil); err != nil {
		t.Errorf("DeleteJob on a missing job should be a no-op, got %v", err)
	}
}

func TestListJobs_FiltersByEnvironmentAndLabel(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		runJobWithLabels("run-a", "env-1"),
		runJobWithLabels("run-b", "env-2"),
		buildJobWithLabels("build-a", "prog-1"),
	)
	a := NewRunJobs(clientset, "ns")

	all, err := a.ListJobs(context.Background(), "")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 run jobs (build job excluded), got %d", len(all))
	}

	filtered, err := a.ListJobs(context.Background(), "env-1")
	if err != nil {
		t.Fatalf("ListJobs(env-1): %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "run-a" {
		t.Errorf("ListJobs(env-1) = %+v", filtered)
	}
}

func jobWithCondition(condType batchv1.JobConditionType) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "job-" + string(condType), Namespace: "ns"},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{Type: condType, Status: corev1.ConditionTrue}},
		},
	}
}

func jobWithCounters(active, succeeded, failed int32) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "job-counters", Namespace: "ns"},
		Status:     batchv1.JobStatus{Active: active, Succeeded: succeeded, Failed: failed},
	}
}

func runJobWithLabels(name, environmentID string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns",
			Labels: map[string]string{
				LabelPartOf:        partOfValue,
				LabelJobType:       jobTypeRun,
				LabelEnvironmentID: environmentID,
			},
		},
	}
}

func buildJobWithLabels(name, programID string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns",
			Labels: map[string]string{
				LabelPartOf:    partOfValue,
				LabelJobType:   jobTypeBuild,
				LabelProgramID: programID,
			},
		},
	}
}
