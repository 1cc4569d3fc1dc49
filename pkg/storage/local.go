package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Local stores blobs on disk under a root directory. It serves development setups without S3; the server
// exposes the directory at BaseURL.
type Local struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

// NewLocal creates the root directory if needed.
func NewLocal(root, baseURL string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// Root returns the directory blobs are written to.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// ObjectURL returns the URL the server exposes key at.
func (l *Local) ObjectURL(key string) string {
	return l.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Put writes data under key and returns its URL.
func (l *Local) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	l.logger.Debug("object written", zap.String("key", key), zap.Int("size", len(data)))
	return l.ObjectURL(key), nil
}

// Get reads an object. A missing key returns ErrObjectNotFound.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes an object. Deleting a missing key succeeds.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DownloadURL returns the object URL. Local URLs do not expire.
func (l *Local) DownloadURL(_ context.Context, key string) (string, time.Duration, error) {
	return l.ObjectURL(key), 0, nil
}
