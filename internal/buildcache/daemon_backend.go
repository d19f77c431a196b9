// Copyright Contributors to the Mellea project

package buildcache

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/crane"
)

// DaemonBackend is the synchronous local-daemon Backend: it writes the
// generated Dockerfile and context into a temp directory and shells out
// to the host container daemon's build/push CLI, the way a plain `docker
// build` invocation would. No example repo wraps the Docker Engine build
// API directly (it is a large, unstable surface for a one-shot build
// command), so this step uses os/exec the same way a CLI-first Go
// program would; registry probing and deletion below use
// google/go-containerregistry's crane package, the one image-registry
// client library present in the retrieved example corpus.
type DaemonBackend struct {
	buildCommand string // defaults to "docker"
	log          logr.Logger
}

// NewDaemonBackend constructs a DaemonBackend that shells out to the
// given build command ("docker", "podman", ...).
func NewDaemonBackend(buildCommand string, log logr.Logger) *DaemonBackend {
	if buildCommand == "" {
		buildCommand = "docker"
	}
	return &DaemonBackend{buildCommand: buildCommand, log: log.WithName("daemon-backend")}
}

// BuildLayer implements Backend.
func (d *DaemonBackend) BuildLayer(tag, dockerfile string, buildContext map[string]string, push bool) (time.Duration, error) {
	start := time.Now()

	dir, err := os.MkdirTemp("", "mellea-build-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return 0, err
	}
	for relPath, content := range buildContext {
		full := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.buildCommand, "build", "-t", tag, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return time.Since(start), wrapExecError(err, out)
	}

	if push {
		cmd := exec.CommandContext(ctx, d.buildCommand, "push", tag)
		if out, err := cmd.CombinedOutput(); err != nil {
			// Registry push failures are logged but do not fail the
			// overall build (spec.md §4.4).
			d.log.Info("registry push failed, continuing", "tag", tag, "output", string(out), "error", err.Error())
		}
	}

	return time.Since(start), nil
}

// Async implements Backend.
func (d *DaemonBackend) Async() bool { return false }

// ImageExists implements ImageExistsChecker by probing the registry with
// crane; a local-only tag that was never pushed reports false, which is
// the conservative, cache-safe answer.
func (d *DaemonBackend) ImageExists(imageTag string) bool {
	_, err := crane.Head(imageTag)
	return err == nil
}

// DeleteImage implements ImageDeleter.
func (d *DaemonBackend) DeleteImage(imageTag string) error {
	return crane.Delete(imageTag)
}

func wrapExecError(err error, output []byte) error {
	return &buildExecError{err: err, output: string(output)}
}

type buildExecError struct {
	err    error
	output string
}

func (e *buildExecError) Error() string { return e.err.Error() + ": " + e.output }
func (e *buildExecError) Unwrap() error { return e.err }
