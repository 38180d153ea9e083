// Package storage moves files between the local filesystem and durable
// object storage, and publishes run artifacts under the run's output path.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// URI is a parsed storage location. Local paths use the "file" scheme with
// the path in Key.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

const SchemeFile = "file"

// ParseURI parses gs://bucket/key, s3://bucket/key, minio://bucket/key or a local path
func ParseURI(raw string) (URI, error) {
	if raw == "" {
		return URI{}, fmt.Errorf("empty storage uri")
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URI{Scheme: SchemeFile, Key: raw}, nil
	}
	switch scheme {
	case "gs", "s3", "minio":
	case SchemeFile:
		return URI{Scheme: SchemeFile, Key: rest}, nil
	default:
		return URI{}, fmt.Errorf("unsupported storage scheme %q in %s", scheme, raw)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("missing bucket in %s", raw)
	}
	return URI{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// IsLocal reports whether the URI is a filesystem path
func (u URI) IsLocal() bool {
	return u.Scheme == SchemeFile
}

// Join appends path segments to the key
func (u URI) Join(elems ...string) URI {
	out := u
	parts := []string{strings.TrimRight(u.Key, "/")}
	for _, e := range elems {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	key := strings.Join(parts, "/")
	if !u.IsLocal() {
		key = strings.TrimLeft(key, "/")
	}
	out.Key = key
	return out
}

func (u URI) String() string {
	if u.IsLocal() {
		return u.Key
	}
	if u.Key == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}

// ObjectStore transfers single files to and from one storage backend
type ObjectStore interface {
	// Upload copies a local file to dst, overwriting any existing object
	Upload(ctx context.Context, localPath string, dst URI) (int64, error)
	// Download copies src to a local file
	Download(ctx context.Context, src URI, localPath string) (int64, error)
	// Exists reports whether an object is present
	Exists(ctx context.Context, u URI) (bool, error)
}

// Router dispatches to an ObjectStore by URI scheme
type Router struct {
	stores map[string]ObjectStore
}

// NewRouter creates a router that always serves local paths
func NewRouter() *Router {
	return &Router{stores: map[string]ObjectStore{SchemeFile: NewLocalStore()}}
}

// Register sets the store for a scheme
func (r *Router) Register(scheme string, store ObjectStore) *Router {
	r.stores[scheme] = store
	return r
}

// For returns the store serving u
func (r *Router) For(u URI) (ObjectStore, error) {
	s, ok := r.stores[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no object store registered for scheme %q", u.Scheme)
	}
	return s, nil
}

// Upload resolves dst and uploads localPath, wrapping failures in TransferError
func (r *Router) Upload(ctx context.Context, localPath, dst string) (int64, error) {
	u, err := ParseURI(dst)
	if err != nil {
		return 0, &TransferError{Op: OpUpload, Src: localPath, Dst: dst, Err: err}
	}
	store, err := r.For(u)
	if err != nil {
		return 0, &TransferError{Op: OpUpload, Src: localPath, Dst: dst, Err: err}
	}
	n, err := store.Upload(ctx, localPath, u)
	if err != nil {
		return n, &TransferError{Op: OpUpload, Src: localPath, Dst: dst, Err: err}
	}
	return n, nil
}

// Download resolves src and downloads it to localPath, wrapping failures in TransferError
func (r *Router) Download(ctx context.Context, src, localPath string) (int64, error) {
	u, err := ParseURI(src)
	if err != nil {
		return 0, &TransferError{Op: OpDownload, Src: src, Dst: localPath, Err: err}
	}
	store, err := r.For(u)
	if err != nil {
		return 0, &TransferError{Op: OpDownload, Src: src, Dst: localPath, Err: err}
	}
	n, err := store.Download(ctx, u, localPath)
	if err != nil {
		return n, &TransferError{Op: OpDownload, Src: src, Dst: localPath, Err: err}
	}
	return n, nil
}

// LocalPathFor maps a URI to a path readable without a download, if any.
// gs://bucket/key is reachable at /gcs/bucket/key on workers with the
// bucket mounted.
func LocalPathFor(raw string, gcsMount string) (string, bool) {
	u, err := ParseURI(raw)
	if err != nil {
		return "", false
	}
	if u.IsLocal() {
		return filepath.Clean(u.Key), true
	}
	if u.Scheme == "gs" && gcsMount != "" {
		return filepath.Join(gcsMount, u.Bucket, filepath.FromSlash(u.Key)), true
	}
	return "", false
}
