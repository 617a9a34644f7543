package labelflowsdk_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"labelflow/internal/app"
	"labelflow/internal/config"
	"labelflow/internal/server"
	labelflowsdk "labelflow/sdk/go"
)

const testSecret = "sdk-secret"

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Server.JWTSecret = testSecret
	cfg.Server.AllowHeaderIdentity = true
	a, err := app.Build(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		a.Close(context.Background())
	})
	return "http://" + ln.Addr().String()
}

func clientFor(t *testing.T, baseURL, userID string) *labelflowsdk.Client {
	t.Helper()
	token, err := server.SignToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	c := labelflowsdk.New(baseURL)
	c.BearerToken = token
	return c
}

func TestClientDrivesLifecycle(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()
	sub := clientFor(t, baseURL, "sub")
	lab := clientFor(t, baseURL, "lab")
	val := clientFor(t, baseURL, "val")

	p, err := sub.CreateProject(ctx, labelflowsdk.NewProject{Name: "Street signs", FileIDs: []string{"f1", "f2"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != "Task Listed" || p.Submitter != "sub" || p.Version != 1 {
		t.Fatalf("unexpected project %+v", p)
	}

	if p, err = lab.ClaimLabeling(ctx, p.ID); err != nil {
		t.Fatalf("claim labeling: %v", err)
	}
	if p, err = lab.DownloadSource(ctx, p.ID); err != nil {
		t.Fatalf("download source: %v", err)
	}
	if p, err = lab.SubmitLabelled(ctx, p.ID, []string{"l1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Status != "Files Submitted by Labeler" || p.Progress != 30 {
		t.Fatalf("unexpected after submit: %s %d", p.Status, p.Progress)
	}

	if _, err := sub.ClaimValidation(ctx, p.ID); labelflowsdk.ErrorCode(err) != "role_conflict" {
		t.Fatalf("expected role_conflict, got %v", err)
	}
	if _, err := lab.ClaimValidation(ctx, p.ID); labelflowsdk.ErrorCode(err) != "self_validation" {
		t.Fatalf("expected self_validation, got %v", err)
	}
	if p, err = val.ClaimValidation(ctx, p.ID); err != nil {
		t.Fatalf("claim validation: %v", err)
	}
	if p, err = val.DownloadLabelled(ctx, p.ID); err != nil {
		t.Fatalf("download labelled: %v", err)
	}
	if p, err = val.Finalize(ctx, p.ID, []string{"v1"}, "looks good"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p, err = sub.Complete(ctx, p.ID, labelflowsdk.Feedback{Complete: "thanks"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.Status != "Completed" || p.Progress != 100 || p.Feedback == nil || p.Feedback.Complete != "thanks" {
		t.Fatalf("unexpected final project %+v", p)
	}

	evts, err := sub.Events(ctx, p.ID, 50)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 8 || evts[0].Type != "project.complete" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestClientStaleVersion(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()
	sub := clientFor(t, baseURL, "sub")
	lab := labelflowsdk.New(baseURL)
	lab.UserID = "lab"

	p, err := sub.CreateProject(ctx, labelflowsdk.NewProject{Name: "Cats"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := lab.Transition(ctx, p.ID, "labeling/claim", p.Version+1, nil); labelflowsdk.ErrorCode(err) != "persistence_conflict" {
		t.Fatalf("expected persistence_conflict, got %v", err)
	}
	claimed, err := lab.Transition(ctx, p.ID, "labeling/claim", p.Version, nil)
	if err != nil {
		t.Fatalf("claim with current version: %v", err)
	}
	if claimed.Version != p.Version+1 {
		t.Fatalf("expected version %d, got %d", p.Version+1, claimed.Version)
	}

	if _, err := sub.GetProject(ctx, "missing"); labelflowsdk.ErrorCode(err) != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
	names, err := sub.Usernames(ctx, []string{"nobody"})
	if err != nil {
		t.Fatalf("usernames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected empty map, got %v", names)
	}
	if _, err := sub.CheckSocial(ctx, "myspace", "alice"); labelflowsdk.ErrorCode(err) != "bad_request" {
		t.Fatalf("expected bad_request, got %v", err)
	}
}
