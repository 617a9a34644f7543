package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// minioFromEnv connects to the server named by LABELFLOW_TEST_MINIO_ENDPOINT,
// e.g. a local `minio server` started for the integration run.
func minioFromEnv(t *testing.T) *MinIOStore {
	t.Helper()
	endpoint := os.Getenv("LABELFLOW_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("LABELFLOW_TEST_MINIO_ENDPOINT not set")
	}
	access := os.Getenv("LABELFLOW_TEST_MINIO_ACCESS_KEY")
	secret := os.Getenv("LABELFLOW_TEST_MINIO_SECRET_KEY")
	if access == "" {
		access, secret = "minioadmin", "minioadmin"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := NewMinIOStore(ctx, MinIOConfig{
		Endpoint:        endpoint,
		AccessKeyID:     access,
		SecretAccessKey: secret,
		Bucket:          "labelflow-test",
		BasePath:        "run-" + uuid.NewString(),
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("minio store: %v", err)
	}
	return s
}

func TestMinIOStoreRoundTrip(t *testing.T) {
	s := minioFromEnv(t)
	ctx := context.Background()
	data := []byte("not really a png")

	obj, err := s.Save(ctx, "tasks/t1/image.png", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if obj.Key != "tasks/t1/image.png" || obj.Size != int64(len(data)) || obj.SHA256 == "" || obj.ContentType != "image/png" {
		t.Fatalf("unexpected object %+v", obj)
	}
	rc, got, err := s.Open(ctx, "/tasks/t1/image.png")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	read, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || !bytes.Equal(read, data) || got.Size != int64(len(data)) {
		t.Fatalf("read back %q %+v %v", read, got, err)
	}

	if err := s.Delete(ctx, "tasks/t1/image.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Open(ctx, "tasks/t1/image.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.Delete(ctx, "tasks/t1/image.png"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestNewMinIOStoreValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMinIOStore(ctx, MinIOConfig{Bucket: "b"}); err == nil {
		t.Fatalf("expected empty endpoint error")
	}
	if _, err := NewMinIOStore(ctx, MinIOConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected empty bucket error")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := NewMinIOStore(cancelled, MinIOConfig{Endpoint: "localhost:9000", Bucket: "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
