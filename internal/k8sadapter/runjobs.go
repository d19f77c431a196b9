// Copyright Contributors to the Mellea project

// Package k8sadapter implements the two Kubernetes Adapter sub-adapters
// (spec.md §4.2, §4.3): RunJobs, which executes user programs, and
// BuildJobs, which builds images with Kaniko. Both share the same Job
// submission/poll/delete/log shape the teacher's task_controller.go and
// job_builder.go establish for Pod and Job construction, generalized from
// a CRD-reconciler loop into directly-callable adapter methods since this
// control plane has no CRDs of its own.
package k8sadapter

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/kubernetes"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
)

const (
	// LabelPartOf marks every object this adapter creates.
	LabelPartOf = "part-of"
	// LabelEnvironmentID names the owning Environment.
	LabelEnvironmentID = "environment-id"
	// LabelJobType distinguishes run jobs from build jobs.
	LabelJobType = "job-type"
	// LabelProgramID names the owning ProgramAsset on build Jobs.
	LabelProgramID = "program-id"

	partOfValue  = "mellea"
	jobTypeRun   = "run"
	jobTypeBuild = "build"

	runUID              int64 = 1000
	runGID              int64 = 1000
	runTerminationGrace        = 30
	runTTLAfterFinished  int32 = 3600
	secretsMountPath          = "/var/run/mellea/secrets"
	serviceAccountRuns        = "mellea-runner"
)

// RunJobs creates, tracks, and tears down the Kubernetes Jobs that
// execute user code (spec.md §4.2).
type RunJobs struct {
	clientset kubernetes.Interface
	namespace string
}

// NewRunJobs constructs a RunJobs adapter that submits Jobs into namespace.
func NewRunJobs(clientset kubernetes.Interface, namespace string) *RunJobs {
	return &RunJobs{clientset: clientset, namespace: namespace}
}

// CreateRunJob submits a Job that runs entrypoint inside image_tag with
// the given resource limits, mounting secretNames as a projected volume
// when non-empty. Returns the generated job name.
func (a *RunJobs) CreateRunJob(ctx context.Context, environmentID, imageTag string, limits model.ResourceLimits, entrypoint string, secretNames []string) (string, error) {
	jobName := "mellea-run-" + model.ShortID(environmentID, 8)

	cpuLimit := resource.MustParse(fmt.Sprintf("%g", limits.CPUCores))
	cpuRequest := resource.MustParse(fmt.Sprintf("%g", limits.CPUCores/2))
	memLimit := resource.MustParse(fmt.Sprintf("%dMi", limits.MemoryMB))
	memRequest := resource.MustParse(fmt.Sprintf("%dMi", limits.MemoryMB/2))

	volumes := []corev1.Volume{
		{Name: "tmp", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
		{Name: "output", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
	}
	mounts := []corev1.VolumeMount{
		{Name: "tmp", MountPath: "/tmp"},
		{Name: "output", MountPath: "/output"},
	}

	var serviceAccount string
	if len(secretNames) > 0 {
		sources := make([]corev1.VolumeProjection, 0, len(secretNames))
		for _, name := range secretNames {
			sources = append(sources, corev1.VolumeProjection{
				Secret: &corev1.SecretProjection{LocalObjectReference: corev1.LocalObjectReference{Name: name}},
			})
		}
		volumes = append(volumes, corev1.Volume{
			Name: "secrets",
			VolumeSource: corev1.VolumeSource{
				Projected: &corev1.ProjectedVolumeSource{Sources: sources},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "secrets", MountPath: secretsMountPath, ReadOnly: true})
		serviceAccount = serviceAccountRuns
	}

	deadline := limits.TimeoutSeconds
	grace := int64(runTerminationGrace)
	backoff := int32(0)
	ttl := runTTLAfterFinished

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: a.namespace,
			Labels: map[string]string{
				LabelPartOf:         partOfValue,
				LabelEnvironmentID:  environmentID,
				LabelJobType:        jobTypeRun,
			},
		},
		Spec: batchv1.JobSpec{
			ActiveDeadlineSeconds:   &deadline,
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						LabelPartOf:        partOfValue,
						LabelEnvironmentID: environmentID,
						LabelJobType:       jobTypeRun,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:                 corev1.RestartPolicyNever,
					ServiceAccountName:             serviceAccount,
					TerminationGracePeriodSeconds: &grace,
					SecurityContext:                podSecurityContext(),
					Volumes:                        volumes,
					Containers: []corev1.Container{
						{
							Name:            "program",
							Image:           imageTag,
							Command:         []string{"python", entrypoint},
							VolumeMounts:    mounts,
							SecurityContext: containerSecurityContext(),
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    cpuRequest,
									corev1.ResourceMemory: memRequest,
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    cpuLimit,
									corev1.ResourceMemory: memLimit,
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := a.clientset.BatchV1().Jobs(a.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", errs.Wrap(errs.KindJobCreation, err, "create run job "+jobName)
	}
	return jobName, nil
}

// podSecurityContext is the Pod-level hardening of run Pods: non-root,
// fixed uid/gid, seccomp RuntimeDefault. Build Pods do not use it;
// privilege escalation is disabled per container by
// containerSecurityContext.
func podSecurityContext() *corev1.PodSecurityContext {
	nonRoot := true
	uid, gid := runUID, runGID
	return &corev1.PodSecurityContext{
		RunAsNonRoot: &nonRoot,
		RunAsUser:    &uid,
		RunAsGroup:   &gid,
		FSGroup:      &gid,
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}

// containerSecurityContext drops all capabilities and mounts a read-only
// root filesystem on top of the Pod-level hardening.
func containerSecurityContext() *corev1.SecurityContext {
	nonRoot := true
	noEscalation := false
	readOnlyRoot := true
	return &corev1.SecurityContext{
		RunAsNonRoot:             &nonRoot,
		AllowPrivilegeEscalation: &noEscalation,
		ReadOnlyRootFilesystem:   &readOnlyRoot,
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{"ALL"},
		},
	}
}

// GetJobStatus derives a JobInfo from the Job and, where available, its
// Pod, following the same Complete/Failed/active/succeeded/failed
// precedence spec.md §4.2 assigns to run and build Jobs alike.
func (a *RunJobs) GetJobStatus(ctx context.Context, jobName string) (model.JobInfo, error) {
	job, err := a.clientset.BatchV1().Jobs(a.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return model.JobInfo{}, errs.Newf(errs.KindNotFound, "job %s not found", jobName)
		}
		return model.JobInfo{}, errs.Wrap(errs.KindCluster, err, "get job "+jobName)
	}

	info := model.JobInfo{Name: jobName, Namespace: a.namespace, Status: deriveJobStatus(job)}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		info.StartTime = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		info.CompletionTime = &t
	}

	pod, err := a.findPod(ctx, jobName)
	if err == nil && pod != nil {
		info.PodName = pod.Name
		if exitCode, reason, ok := containerTermination(pod, "program"); ok {
			info.ExitCode = &exitCode
			if exitCode != 0 {
				info.ErrorMessage = reason
			}
		}
	}
	return info, nil
}

// deriveJobStatus applies spec.md §4.2's condition/counter precedence.
func deriveJobStatus(job *batchv1.Job) model.JobStatus {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobComplete && cond.Status == corev1.ConditionTrue {
			return model.JobSucceeded
		}
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return model.JobFailed
		}
	}
	switch {
	case job.Status.Active > 0:
		return model.JobRunning
	case job.Status.Succeeded > 0:
		return model.JobSucceeded
	case job.Status.Failed > 0:
		return model.JobFailed
	default:
		return model.JobPending
	}
}

// findPod returns the single Pod owned by the named Job, if any exists yet.
func (a *RunJobs) findPod(ctx context.Context, jobName string) (*corev1.Pod, error) {
	pods, err := a.clientset.CoreV1().Pods(a.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindCluster, err, "list pods for "+jobName)
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	return &pods.Items[0], nil
}

// containerTermination reports the exit code and reason of containerName
// in pod, if it has terminated.
func containerTermination(pod *corev1.Pod, containerName string) (int32, string, bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name != containerName {
			continue
		}
		if cs.State.Terminated != nil {
			return cs.State.Terminated.ExitCode, cs.State.Terminated.Reason, true
		}
	}
	if len(pod.Status.ContainerStatuses) > 0 {
		cs := pod.Status.ContainerStatuses[0]
		if cs.State.Terminated != nil {
			return cs.State.Terminated.ExitCode, cs.State.Terminated.Reason, true
		}
	}
	return 0, "", false
}

// GetPodLogs returns the "program" container's logs, or nil if the Pod
// has not started yet.
func (a *RunJobs) GetPodLogs(ctx context.Context, jobName string, tailLines *int64) (*string, error) {
	pod, err := a.findPod(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if pod == nil {
		return nil, nil
	}
	opts := &corev1.PodLogOptions{Container: "program"}
	if tailLines != nil {
		opts.TailLines = tailLines
	}
	raw, err := a.clientset.CoreV1().Pods(a.namespace).GetLogs(pod.Name, opts).DoRaw(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindCluster, err, "get logs for "+pod.Name)
	}
	text := string(raw)
	return &text, nil
}

// DeleteJob removes a Job; a 404 is not an error.
func (a *RunJobs) DeleteJob(ctx context.Context, jobName string, propagation metav1.DeletionPropagation, graceSeconds *int64) error {
	opts := metav1.DeleteOptions{PropagationPolicy: &propagation, GracePeriodSeconds: graceSeconds}
	if err := a.clientset.BatchV1().Jobs(a.namespace).Delete(ctx, jobName, opts); err != nil && !apierrors.IsNotFound(err) {
		return errs.Wrap(errs.KindCluster, err, "delete job "+jobName)
	}
	return nil
}

// CancelJob wraps DeleteJob with spec.md §4.2's force semantics: force=false
// uses the Pod's configured grace period; force=true sets grace to zero.
func (a *RunJobs) CancelJob(ctx context.Context, jobName string, force bool) error {
	propagation := metav1.DeletePropagationForeground
	if !force {
		return a.DeleteJob(ctx, jobName, propagation, nil)
	}
	zero := int64(0)
	return a.DeleteJob(ctx, jobName, propagation, &zero)
}

// ListJobs returns every run Job in the namespace, optionally filtered by
// environmentID.
func (a *RunJobs) ListJobs(ctx context.Context, environmentID string) ([]model.JobInfo, error) {
	selector := LabelPartOf + "=" + partOfValue + "," + LabelJobType + "=" + jobTypeRun
	if environmentID != "" {
		selector += "," + LabelEnvironmentID + "=" + environmentID
	}
	jobs, err := a.clientset.BatchV1().Jobs(a.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, errs.Wrap(errs.KindCluster, err, "list run jobs")
	}
	infos := make([]model.JobInfo, 0, len(jobs.Items))
	for _, job := range jobs.Items {
		info, err := a.GetJobStatus(ctx, job.Name)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
