package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithBuildID(t *testing.T) {
	ctx := context.Background()
	ctx = WithBuildID(ctx, "build-123")

	lc := GetContext(ctx)
	if lc.BuildID != "build-123" {
		t.Errorf("expected build-123, got %s", lc.BuildID)
	}
}

func TestWithServicePath(t *testing.T) {
	ctx := context.Background()
	ctx = WithServicePath(ctx, "teamA/serviceX")

	lc := GetContext(ctx)
	if lc.ServicePath != "teamA/serviceX" {
		t.Errorf("expected teamA/serviceX, got %s", lc.ServicePath)
	}
}

func TestWithStage(t *testing.T) {
	ctx := context.Background()
	ctx = WithStage(ctx, "building")

	lc := GetContext(ctx)
	if lc.Stage != "building" {
		t.Errorf("expected building, got %s", lc.Stage)
	}
}

func TestContextValuesAccumulate(t *testing.T) {
	ctx := context.Background()
	ctx = WithBuildID(ctx, "build-1")
	ctx = WithServicePath(ctx, "teamA/serviceX")
	ctx = WithImageRef(ctx, "reg/teamA_serviceX:20240101120000")

	lc := GetContext(ctx)
	if lc.BuildID != "build-1" || lc.ServicePath != "teamA/serviceX" {
		t.Errorf("context values lost: %+v", lc)
	}
	if lc.ImageRef != "reg/teamA_serviceX:20240101120000" {
		t.Errorf("image ref lost: %+v", lc)
	}
}

func TestInfoContextIncludesAttrs(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(orig)

	ctx := WithServicePath(context.Background(), "teamA/serviceX")
	ctx = WithStage(ctx, "fetching")
	InfoContext(ctx, "test message")

	out := buf.String()
	if !strings.Contains(out, "service.path=teamA/serviceX") {
		t.Errorf("log output missing service path: %s", out)
	}
	if !strings.Contains(out, "stage=fetching") {
		t.Errorf("log output missing stage: %s", out)
	}
}
