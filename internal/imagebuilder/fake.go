package imagebuilder

import (
	"context"
	"sync"
)

// FakeBuilder records calls and fails on demand. It backs pipeline tests and
// the local dev mode where no docker daemon is available.
type FakeBuilder struct {
	mu sync.Mutex

	BuildErr  error
	RetagErr  error
	DeleteErr error
	Logs      string

	Built   []FakeBuildCall
	Retags  [][2]string
	Deleted []string
}

// FakeBuildCall captures one BuildAndPush invocation.
type FakeBuildCall struct {
	ServicePath string
	BuildSpec   []byte
	ImageRef    string
}

var _ Builder = &FakeBuilder{}

func (f *FakeBuilder) BuildAndPush(_ context.Context, servicePath string, buildSpec []byte, imageRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		return "", f.BuildErr
	}
	f.Built = append(f.Built, FakeBuildCall{ServicePath: servicePath, BuildSpec: buildSpec, ImageRef: imageRef})
	logs := f.Logs
	if logs == "" {
		logs = "built " + imageRef
	}
	return logs, nil
}

func (f *FakeBuilder) Retag(_ context.Context, imageRef, newRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RetagErr != nil {
		return f.RetagErr
	}
	f.Retags = append(f.Retags, [2]string{imageRef, newRef})
	return nil
}

func (f *FakeBuilder) Delete(_ context.Context, imageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, imageRef)
	return nil
}

// BuildCount returns the number of successful builds. Safe for concurrent use.
func (f *FakeBuilder) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Built)
}
