package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vision-trainer/config"
)

// MinIOStore serves minio:// URIs against any S3-compatible endpoint
type MinIOStore struct {
	mc *minio.Client
}

// NewMinIOStore creates a MinIO-backed store
func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, config.Missing("MINIO_ENDPOINT")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, config.Missing("MINIO_ACCESS_KEY/MINIO_SECRET_KEY")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOStore{mc: mc}, nil
}

// Upload puts localPath at dst
func (s *MinIOStore) Upload(ctx context.Context, localPath string, dst URI) (int64, error) {
	info, err := s.mc.FPutObject(ctx, dst.Bucket, dst.Key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Download gets src into localPath
func (s *MinIOStore) Download(ctx context.Context, src URI, localPath string) (int64, error) {
	if err := s.mc.FGetObject(ctx, src.Bucket, src.Key, localPath, minio.GetObjectOptions{}); err != nil {
		return 0, err
	}
	st, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Exists reports whether the object is present
func (s *MinIOStore) Exists(ctx context.Context, u URI) (bool, error) {
	_, err := s.mc.StatObject(ctx, u.Bucket, u.Key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
