package storage

import (
	"context"
	"fmt"

	"vision-trainer/config"
)

// OpenRouter builds a router with a backend for each requested scheme
func OpenRouter(ctx context.Context, cfg *config.Config, schemes ...string) (*Router, error) {
	r := NewRouter()
	seen := map[string]bool{SchemeFile: true}
	for _, scheme := range schemes {
		if seen[scheme] {
			continue
		}
		seen[scheme] = true

		var (
			store ObjectStore
			err   error
		)
		switch scheme {
		case "gs":
			store, err = NewGCSStore(ctx)
		case "s3":
			store, err = NewS3Store(ctx, cfg.AWSRegion)
		case "minio":
			store, err = NewMinIOStore(cfg.MinIO)
		default:
			err = fmt.Errorf("unsupported storage scheme %q", scheme)
		}
		if err != nil {
			return nil, err
		}
		r.Register(scheme, store)
	}
	return r, nil
}

// SchemesOf returns the schemes of the given URIs, skipping local paths
func SchemesOf(uris ...string) []string {
	var out []string
	for _, raw := range uris {
		u, err := ParseURI(raw)
		if err != nil || u.IsLocal() {
			continue
		}
		out = append(out, u.Scheme)
	}
	return out
}
