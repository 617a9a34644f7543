package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type MinIOStore struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewMinIOStore connects with exponential backoff and makes sure the bucket
// exists.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	client, err := newMinIOClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, basePath: basePath}, nil
}

func newMinIOClient(ctx context.Context, cfg MinIOConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}

	var lastErr error
	interval := cfg.InitialInterval
	for attempt := range cfg.MaxRetries {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context canceled before MinIO init: %w", ctx.Err())
		}
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			lastErr = err
		} else {
			return client, nil
		}
		if attempt < cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
			case <-time.After(interval):
				interval = min(interval*2, cfg.MaxInterval)
			}
		}
	}
	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIOStore) objectName(key string) (string, string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, s.basePath + clean, nil
}

func (s *MinIOStore) Save(ctx context.Context, key string, r io.Reader, size int64) (Object, error) {
	if err := ctxDone(ctx); err != nil {
		return Object{}, err
	}
	clean, name, err := s.objectName(key)
	if err != nil {
		return Object{}, err
	}
	hasher := sha256.New()
	putSize := size
	if putSize <= 0 {
		putSize = -1
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, io.TeeReader(r, hasher), putSize, minio.PutObjectOptions{
		ContentType: ContentType(clean),
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	return Object{Key: clean, Size: info.Size, SHA256: hex.EncodeToString(hasher.Sum(nil)), ContentType: ContentType(clean)}, nil
}

func (s *MinIOStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, Object{}, err
	}
	clean, name, err := s.objectName(key)
	if err != nil {
		return nil, Object{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("get object: %w", err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			return nil, Object{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, Object{}, fmt.Errorf("stat object: %w", err)
	}
	ct := st.ContentType
	if ct == "" {
		ct = ContentType(clean)
	}
	return obj, Object{Key: clean, Size: st.Size, ContentType: ct}, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	_, name, err := s.objectName(key)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
