// Package imagebuilder wraps the container image build/push/retag/delete
// backend used by the promotion pipeline. The backend is treated as opaque;
// any failure is fatal for the current build.
package imagebuilder

import "context"

// Builder exposes the image operations the pipeline depends on, keyed by an
// image reference of the form <registry>/<name>:<tag>.
type Builder interface {
	// BuildAndPush builds an image from buildSpec (Dockerfile content) for
	// servicePath, pushes it as imageRef, and returns the build log text.
	BuildAndPush(ctx context.Context, servicePath string, buildSpec []byte, imageRef string) (string, error)

	// Retag points newRef at the image currently known as imageRef and
	// pushes the new reference.
	Retag(ctx context.Context, imageRef, newRef string) error

	// Delete removes imageRef from the local daemon and, best effort, the
	// registry.
	Delete(ctx context.Context, imageRef string) error
}
