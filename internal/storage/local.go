package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var errInvalidKey = errors.New("invalid storage key")

// LocalStore writes blobs below a directory served at a URL prefix.
type LocalStore struct {
	root   string
	prefix string
}

// NewLocalStore creates dir when missing.
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{
		root:   dir,
		prefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// Root returns the directory blobs are written to.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	key := newKey(name, time.Now().UTC())
	abs, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(abs)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(abs)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return key, nil
}

// Delete removes key. A missing blob is not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	abs, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	if s.prefix == "/" {
		return "/" + key
	}
	return s.prefix + "/" + key
}

// path maps key into the root, refusing keys that escape it.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", errInvalidKey
	}
	return filepath.Join(s.root, clean), nil
}
