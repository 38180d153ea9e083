package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore serves plain paths, including FUSE-mounted buckets
type LocalStore struct{}

// NewLocalStore creates a local store
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

// Upload copies localPath to dst.Key, creating parent directories
func (s *LocalStore) Upload(ctx context.Context, localPath string, dst URI) (int64, error) {
	return copyFile(ctx, localPath, dst.Key)
}

// Download copies src.Key to localPath, creating parent directories
func (s *LocalStore) Download(ctx context.Context, src URI, localPath string) (int64, error) {
	return copyFile(ctx, src.Key, localPath)
}

// Exists reports whether the path exists
func (s *LocalStore) Exists(_ context.Context, u URI) (bool, error) {
	_, err := os.Stat(u.Key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func copyFile(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create parent of %s: %w", dst, err)
	}

	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}
	return n, os.Rename(tmp, dst)
}
