package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
)

// GCSStore serves gs:// URIs
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore creates a store using application default credentials
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Upload streams localPath into dst
func (s *GCSStore) Upload(ctx context.Context, localPath string, dst URI) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := s.client.Bucket(dst.Bucket).Object(dst.Key).NewWriter(ctx)
	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Download streams src into localPath
func (s *GCSStore) Download(ctx context.Context, src URI, localPath string) (int64, error) {
	r, err := s.client.Bucket(src.Bucket).Object(src.Key).NewReader(ctx)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return writeLocal(r, localPath)
}

// Exists reports whether the object is present
func (s *GCSStore) Exists(ctx context.Context, u URI) (bool, error) {
	_, err := s.client.Bucket(u.Bucket).Object(u.Key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func writeLocal(r io.Reader, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
