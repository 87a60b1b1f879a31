package imagebuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/promoter/internal/errors"
)

// DockerBuilder implements Builder by shelling out to the docker CLI.
type DockerBuilder struct {
	runner CommandRunner
	bin    string
}

var _ Builder = &DockerBuilder{}

// NewDockerBuilder creates a docker CLI backed builder. bin defaults to "docker".
func NewDockerBuilder(runner CommandRunner, bin string) *DockerBuilder {
	if runner == nil {
		runner = ExecRunner{}
	}
	if bin == "" {
		bin = "docker"
	}
	return &DockerBuilder{runner: runner, bin: bin}
}

// CheckInstalled verifies the docker binary is on PATH before the daemon starts.
func (d *DockerBuilder) CheckInstalled(ctx context.Context) error {
	if _, err := d.runner.RunCommand(ctx, d.bin, "version", "--format", "{{.Client.Version}}"); err != nil {
		return errors.Wrap(err, errors.CategoryBuilder, errors.SeverityFatal, "docker is not available")
	}
	return nil
}

// BuildAndPush writes buildSpec into a scratch context, builds imageRef from
// it and pushes the result. Returned logs combine build and push output.
func (d *DockerBuilder) BuildAndPush(ctx context.Context, servicePath string, buildSpec []byte, imageRef string) (string, error) {
	contextDir, err := os.MkdirTemp("", "promoter-build-*")
	if err != nil {
		return "", errors.InternalError("failed to create build context", err)
	}
	defer func() { _ = os.RemoveAll(contextDir) }()

	dockerfile := filepath.Join(contextDir, "Dockerfile")
	if err := os.WriteFile(dockerfile, buildSpec, 0o644); err != nil {
		return "", errors.InternalError("failed to write build spec", err)
	}

	var logs strings.Builder
	out, err := d.runner.RunCommand(ctx, d.bin, "build", "-f", dockerfile, "-t", imageRef, contextDir)
	logs.WriteString(out)
	if err != nil {
		return logs.String(), errors.BuildFailed(servicePath, err).WithContext("image", imageRef)
	}

	out, err = d.runner.RunCommand(ctx, d.bin, "push", imageRef)
	logs.WriteString(out)
	if err != nil {
		return logs.String(), errors.BuildFailed(servicePath, err).
			WithContext("image", imageRef).
			WithContext("operation", "push")
	}

	return logs.String(), nil
}

// Retag tags imageRef as newRef and pushes the new reference.
func (d *DockerBuilder) Retag(ctx context.Context, imageRef, newRef string) error {
	if out, err := d.runner.RunCommand(ctx, d.bin, "tag", imageRef, newRef); err != nil {
		return errors.PromoteFailed(imageRef, fmt.Errorf("%w: %s", err, out))
	}
	if out, err := d.runner.RunCommand(ctx, d.bin, "push", newRef); err != nil {
		return errors.PromoteFailed(newRef, fmt.Errorf("%w: %s", err, out))
	}
	return nil
}

// Delete removes the local image. Registry-side garbage collection is owned
// by the registry's own retention policy.
func (d *DockerBuilder) Delete(ctx context.Context, imageRef string) error {
	if out, err := d.runner.RunCommand(ctx, d.bin, "rmi", imageRef); err != nil {
		return errors.Wrap(err, errors.CategoryBuilder, errors.SeverityError, "image delete failed").
			WithContext("image", imageRef).
			WithContext("output", out)
	}
	return nil
}
