// Copyright Contributors to the Mellea project

package buildcache

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/mellea/controlplane/internal/k8sadapter"
)

// KanikoBackend is the asynchronous in-cluster Backend: BuildLayer
// submits a single Build Job via the Kubernetes Adapter and returns
// immediately, the same "returns immediately with build_job_name set"
// contract spec.md §4.3/§4.4 describe for CreateBuildJob.
type KanikoBackend struct {
	builds    *k8sadapter.BuildJobs
	programID string
	log       logr.Logger

	lastJobName string
}

// NewKanikoBackend constructs a KanikoBackend bound to a single
// program's build (one instance per BackendFactory call, the way the
// Engine's depsImageTag/progImageTag are per-program).
func NewKanikoBackend(builds *k8sadapter.BuildJobs, programID string, log logr.Logger) *KanikoBackend {
	return &KanikoBackend{builds: builds, programID: programID, log: log.WithName("kaniko-backend")}
}

// BuildLayer implements Backend by submitting a Kaniko Job for the given
// Dockerfile and context.
func (k *KanikoBackend) BuildLayer(tag, dockerfile string, buildContext map[string]string, _ bool) (time.Duration, error) {
	start := time.Now()
	result, err := k.builds.CreateBuildJob(context.Background(), k.programID, dockerfile, buildContext, tag)
	k.lastJobName = result.BuildJobName
	return time.Since(start), err
}

// LastBuildJobName implements BuildJobNamer, returning the name of the
// most recent Job this backend submitted.
func (k *KanikoBackend) LastBuildJobName() string { return k.lastJobName }

// Async implements Backend.
func (k *KanikoBackend) Async() bool { return true }

// ImageExists implements ImageExistsChecker.
func (k *KanikoBackend) ImageExists(imageTag string) bool {
	_, err := crane.Head(imageTag)
	return err == nil
}

// DeleteImage implements ImageDeleter.
func (k *KanikoBackend) DeleteImage(imageTag string) error {
	return crane.Delete(imageTag)
}
