package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("empty storage root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Save writes to a temp file and renames it into place so readers never see
// a partial blob.
func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader, _ int64) (Object, error) {
	if err := ctxDone(ctx); err != nil {
		return Object{}, err
	}
	clean, full, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Object{}, err
	}
	defer os.Remove(tmp.Name())
	hasher := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return Object{}, fmt.Errorf("commit blob: %w", err)
	}
	return Object{Key: clean, Size: n, SHA256: hex.EncodeToString(hasher.Sum(nil)), ContentType: ContentType(clean)}, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, Object{}, err
	}
	clean, full, err := s.path(key)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return nil, Object{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, err
	}
	return f, Object{Key: clean, Size: st.Size(), ContentType: ContentType(clean)}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	_, full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
