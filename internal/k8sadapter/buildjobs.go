// Copyright Contributors to the Mellea project

package k8sadapter

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
)

const (
	buildContextMountPath = "/workspace"
	dockerConfigMountPath = "/kaniko/.docker"
	buildTTLAfterFinished int32 = 3600
	buildBackoffLimit     int32 = 1
)

// BuildJobs creates, tracks, and tears down the Kaniko Jobs that build
// container images in-cluster (spec.md §4.3).
type BuildJobs struct {
	clientset      kubernetes.Interface
	namespace      string
	kanikoImage    string
	registryURL    string
	dockerConfigSecret string
	buildTimeout   time.Duration
	cpuLimit       string
	memoryLimit    string
}

// NewBuildJobs constructs a BuildJobs adapter.
func NewBuildJobs(clientset kubernetes.Interface, namespace, kanikoImage, registryURL, dockerConfigSecret string, buildTimeout time.Duration, cpuLimit, memoryLimit string) *BuildJobs {
	return &BuildJobs{
		clientset:          clientset,
		namespace:          namespace,
		kanikoImage:        kanikoImage,
		registryURL:        registryURL,
		dockerConfigSecret: dockerConfigSecret,
		buildTimeout:       buildTimeout,
		cpuLimit:           cpuLimit,
		memoryLimit:        memoryLimit,
	}
}

// configMapName and jobName are both derived from program_id's short id,
// so a retry for the same program reuses the same object names.
func configMapName(programID string) string {
	return "build-context-" + model.ShortID(programID, 8)
}

func buildJobName(programID string) string {
	return "mellea-build-" + model.ShortID(programID, 8)
}

// CreateBuildJob materializes the build context into a ConfigMap and
// submits a Kaniko Job that consumes it, returning immediately with a
// pending BuildResult; the caller polls GetBuildStatus for the outcome.
func (a *BuildJobs) CreateBuildJob(ctx context.Context, programID, dockerfileText string, contextFiles map[string]string, imageTag string) (model.BuildResult, error) {
	cmName := configMapName(programID)
	jobName := buildJobName(programID)

	// Best-effort cleanup of any prior attempt under the same name.
	_ = a.DeleteBuildJob(ctx, jobName)

	data := make(map[string]string, len(contextFiles)+1)
	for path, text := range contextFiles {
		data[path] = text
	}
	data["Dockerfile"] = dockerfileText

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cmName,
			Namespace: a.namespace,
			Labels: map[string]string{
				LabelPartOf:     partOfValue,
				LabelJobType:    jobTypeBuild,
				LabelProgramID:  programID,
			},
		},
		Data: data,
	}
	if _, err := a.clientset.CoreV1().ConfigMaps(a.namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			if _, updateErr := a.clientset.CoreV1().ConfigMaps(a.namespace).Update(ctx, cm, metav1.UpdateOptions{}); updateErr != nil {
				return model.BuildResult{}, errs.Wrap(errs.KindImageBuildError, updateErr, "replace build context configmap "+cmName)
			}
		} else {
			return model.BuildResult{}, errs.Wrap(errs.KindImageBuildError, err, "create build context configmap "+cmName)
		}
	}

	args := []string{
		"--dockerfile=Dockerfile",
		"--context=dir://" + buildContextMountPath,
		"--destination=" + imageTag,
		"--snapshotMode=redo",
		"--use-new-run",
	}
	if a.registryURL != "" {
		args = append(args, "--cache=true", "--cache-repo="+a.registryURL+"/cache")
	}

	volumes := []corev1.Volume{
		{
			Name: "build-context",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{LocalObjectReference: corev1.LocalObjectReference{Name: cmName}},
			},
		},
	}
	mounts := []corev1.VolumeMount{
		{Name: "build-context", MountPath: buildContextMountPath},
	}
	if a.dockerConfigSecret != "" {
		optional := true
		volumes = append(volumes, corev1.Volume{
			Name: "docker-config",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: a.dockerConfigSecret, Optional: &optional},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "docker-config", MountPath: dockerConfigMountPath})
	}

	deadline := int64(a.buildTimeout.Seconds())
	ttl := buildTTLAfterFinished
	backoff := buildBackoffLimit

	resources := corev1.ResourceRequirements{Limits: corev1.ResourceList{}}
	if a.cpuLimit != "" {
		resources.Limits[corev1.ResourceCPU] = resource.MustParse(a.cpuLimit)
	}
	if a.memoryLimit != "" {
		resources.Limits[corev1.ResourceMemory] = resource.MustParse(a.memoryLimit)
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: a.namespace,
			Labels: map[string]string{
				LabelPartOf:    partOfValue,
				LabelJobType:   jobTypeBuild,
				LabelProgramID: programID,
			},
			Annotations: map[string]string{"image-tag": imageTag},
		},
		Spec: batchv1.JobSpec{
			ActiveDeadlineSeconds:   &deadline,
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{LabelPartOf: partOfValue, LabelJobType: jobTypeBuild, LabelProgramID: programID},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       volumes,
					Containers: []corev1.Container{
						{
							Name:         "kaniko",
							Image:        a.kanikoImage,
							Args:         args,
							VolumeMounts: mounts,
							Resources:    resources,
						},
					},
				},
			},
		},
	}

	if _, err := a.clientset.BatchV1().Jobs(a.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return model.BuildResult{}, errs.Wrap(errs.KindJobCreation, err, "create build job "+jobName)
	}

	return model.BuildResult{Success: true, ImageTag: imageTag, CacheHit: false, BuildJobName: jobName}, nil
}

// GetBuildStatus mirrors RunJobs.GetJobStatus's derivation, enriching
// error_message from the first container's terminated reason/message.
func (a *BuildJobs) GetBuildStatus(ctx context.Context, jobName string) (model.BuildJob, error) {
	job, err := a.clientset.BatchV1().Jobs(a.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return model.BuildJob{}, errs.Newf(errs.KindNotFound, "build job %s not found", jobName)
		}
		return model.BuildJob{}, errs.Wrap(errs.KindCluster, err, "get build job "+jobName)
	}

	bj := model.BuildJob{JobName: jobName, Status: deriveJobStatus(job)}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		bj.StartedAt = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		bj.CompletedAt = &t
	}

	pods, err := a.clientset.CoreV1().Pods(a.namespace).List(ctx, metav1.ListOptions{LabelSelector: "job-name=" + jobName})
	if err == nil && len(pods.Items) > 0 {
		pod := pods.Items[0]
		if len(pod.Status.ContainerStatuses) > 0 {
			cs := pod.Status.ContainerStatuses[0]
			if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
				bj.ErrorMessage = fmt.Sprintf("%s: %s", cs.State.Terminated.Reason, cs.State.Terminated.Message)
			}
		}
	}
	return bj, nil
}

// GetBuildLogs returns the Kaniko container's logs, or a placeholder if
// its Pod is not yet ready.
func (a *BuildJobs) GetBuildLogs(ctx context.Context, jobName string, tailLines *int64) (string, error) {
	pods, err := a.clientset.CoreV1().Pods(a.namespace).List(ctx, metav1.ListOptions{LabelSelector: "job-name=" + jobName})
	if err != nil {
		return "", errs.Wrap(errs.KindCluster, err, "list pods for "+jobName)
	}
	if len(pods.Items) == 0 {
		return "(build pod not yet scheduled)", nil
	}
	opts := &corev1.PodLogOptions{Container: "kaniko"}
	if tailLines != nil {
		opts.TailLines = tailLines
	}
	raw, err := a.clientset.CoreV1().Pods(a.namespace).GetLogs(pods.Items[0].Name, opts).DoRaw(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindCluster, err, "get build logs for "+pods.Items[0].Name)
	}
	return string(raw), nil
}

// DeleteBuildJob removes the Job and its ConfigMap; both deletes are
// idempotent against 404s.
func (a *BuildJobs) DeleteBuildJob(ctx context.Context, jobName string) error {
	propagation := metav1.DeletePropagationForeground
	if err := a.clientset.BatchV1().Jobs(a.namespace).Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
		return errs.Wrap(errs.KindCluster, err, "delete build job "+jobName)
	}
	// jobName is derived from the same program id as its ConfigMap, but
	// the ConfigMap name function is the source of truth: callers that
	// only have jobName recover the id by trimming the shared prefix.
	cmName := "build-context-" + trimBuildJobPrefix(jobName)
	if err := a.clientset.CoreV1().ConfigMaps(a.namespace).Delete(ctx, cmName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return errs.Wrap(errs.KindCluster, err, "delete build context configmap "+cmName)
	}
	return nil
}

func trimBuildJobPrefix(jobName string) string {
	const prefix = "mellea-build-"
	if len(jobName) > len(prefix) {
		return jobName[len(prefix):]
	}
	return jobName
}

// WaitForBuild polls GetBuildStatus until the Job reaches a terminal
// status or timeout elapses.
func (a *BuildJobs) WaitForBuild(ctx context.Context, jobName string, timeout, pollInterval time.Duration) (model.BuildJob, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		bj, err := a.GetBuildStatus(ctx, jobName)
		if err != nil {
			return model.BuildJob{}, err
		}
		if bj.Status == model.JobSucceeded || bj.Status == model.JobFailed {
			return bj, nil
		}
		if time.Now().After(deadline) {
			return model.BuildJob{}, errs.Newf(errs.KindTimeout, "build job %s did not finish within %s", jobName, timeout)
		}
		select {
		case <-ctx.Done():
			return model.BuildJob{}, errs.Wrap(errs.KindTimeout, ctx.Err(), "wait for build "+jobName)
		case <-ticker.C:
		}
	}
}
