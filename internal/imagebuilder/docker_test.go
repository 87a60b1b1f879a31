package imagebuilder

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// scriptedRunner returns canned results per command verb (build/push/tag/rmi).
type scriptedRunner struct {
	calls  [][]string
	errors map[string]error
	output map[string]string
}

func (s *scriptedRunner) RunCommand(_ context.Context, name string, args ...string) (string, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	verb := ""
	if len(args) > 0 {
		verb = args[0]
	}
	if err, ok := s.errors[verb]; ok && err != nil {
		return s.output[verb], err
	}
	return s.output[verb], nil
}

func (s *scriptedRunner) verbs() []string {
	var out []string
	for _, c := range s.calls {
		if len(c) > 1 {
			out = append(out, c[1])
		}
	}
	return out
}

func TestDockerBuilderBuildAndPush(t *testing.T) {
	runner := &scriptedRunner{output: map[string]string{"build": "Step 1/1 : FROM scratch\n", "push": "pushed\n"}}
	b := NewDockerBuilder(runner, "")

	logs, err := b.BuildAndPush(t.Context(), "teamA/serviceX", []byte("FROM scratch"), "reg/teamA_serviceX:20240101120000")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(logs, "Step 1/1") || !strings.Contains(logs, "pushed") {
		t.Errorf("logs should combine build and push output: %q", logs)
	}
	if got := runner.verbs(); len(got) != 2 || got[0] != "build" || got[1] != "push" {
		t.Errorf("expected build then push, got %v", got)
	}
}

func TestDockerBuilderBuildFailureSkipsPush(t *testing.T) {
	runner := &scriptedRunner{
		errors: map[string]error{"build": fmt.Errorf("exit status 1")},
		output: map[string]string{"build": "syntax error"},
	}
	b := NewDockerBuilder(runner, "")

	logs, err := b.BuildAndPush(t.Context(), "teamA/serviceX", []byte("bogus"), "reg/teamA_serviceX:1")
	if err == nil {
		t.Fatal("expected build error")
	}
	if !strings.Contains(logs, "syntax error") {
		t.Errorf("failure logs should be returned: %q", logs)
	}
	if got := runner.verbs(); len(got) != 1 {
		t.Errorf("push should not run after failed build, got %v", got)
	}
}

func TestDockerBuilderRetag(t *testing.T) {
	runner := &scriptedRunner{}
	b := NewDockerBuilder(runner, "")

	if err := b.Retag(t.Context(), "reg/svc:1", "reg/svc:latest"); err != nil {
		t.Fatalf("retag: %v", err)
	}
	if got := runner.verbs(); len(got) != 2 || got[0] != "tag" || got[1] != "push" {
		t.Errorf("expected tag then push, got %v", got)
	}
}

func TestDockerBuilderDelete(t *testing.T) {
	runner := &scriptedRunner{}
	b := NewDockerBuilder(runner, "")

	if err := b.Delete(t.Context(), "reg/svc:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := runner.verbs(); len(got) != 1 || got[0] != "rmi" {
		t.Errorf("expected rmi, got %v", got)
	}
}
