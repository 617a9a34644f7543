package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labelflow/internal/config"
	"labelflow/internal/engine"
	"labelflow/internal/lifecycle"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "server:\n  base_path: /api\nstorage:\n  local_dir: blobs\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Build(context.Background(), Options{Workspace: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close(context.Background())

	if a.Config.Server.BasePath != "/api" {
		t.Fatalf("expected base path from file, got %q", a.Config.Server.BasePath)
	}
	if _, err := os.Stat(filepath.Join(dir, "blobs")); err != nil {
		t.Fatalf("expected local blob dir under workspace: %v", err)
	}
	p, err := a.Engine.CreateProject(context.Background(), engine.ProjectCreateOptions{
		ActorID: "sub",
		Details: lifecycle.Details{Name: strPtr("Street signs")},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.Status != lifecycle.StatusTaskListed.String() {
		t.Fatalf("unexpected status %q", p.Status)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a, err := Build(context.Background(), Options{Workspace: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + a.Config.Server.BasePath + "/health"
	var res *http.Response
	for i := 0; i < 50; i++ {
		res, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func strPtr(s string) *string { return &s }
