package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		raw     string
		want    URI
		wantErr bool
	}{
		{"gs://bucket/models/rfdetr", URI{Scheme: "gs", Bucket: "bucket", Key: "models/rfdetr"}, false},
		{"s3://bucket", URI{Scheme: "s3", Bucket: "bucket"}, false},
		{"minio://b/k/", URI{Scheme: "minio", Bucket: "b", Key: "k/"}, false},
		{"/job/output", URI{Scheme: SchemeFile, Key: "/job/output"}, false},
		{"file:///tmp/x", URI{Scheme: SchemeFile, Key: "/tmp/x"}, false},
		{"", URI{}, true},
		{"gs://", URI{}, true},
		{"ftp://host/x", URI{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseURI(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURI_JoinAndString(t *testing.T) {
	u, err := ParseURI("gs://bucket/models/")
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/models/rfdetr/20240101-000000", u.Join("rfdetr", "/20240101-000000/").String())

	root, err := ParseURI("gs://bucket")
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/datasets/a.zip", root.Join("datasets", "a.zip").String())
	assert.Equal(t, "gs://bucket", root.String())

	local, err := ParseURI("/job/output")
	require.NoError(t, err)
	assert.Equal(t, "/job/output/artifacts/x.json", local.Join("artifacts", "x.json").String())
}

func TestLocalPathFor(t *testing.T) {
	p, ok := LocalPathFor("gs://bucket/datasets/a.zip", "/gcs")
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/gcs", "bucket", "datasets", "a.zip"), p)

	_, ok = LocalPathFor("gs://bucket/datasets/a.zip", "")
	assert.False(t, ok)

	_, ok = LocalPathFor("s3://bucket/a.zip", "/gcs")
	assert.False(t, ok)

	p, ok = LocalPathFor("/data/./a.zip", "/gcs")
	require.True(t, ok)
	assert.Equal(t, "/data/a.zip", p)
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	store := NewLocalStore()
	dst := URI{Scheme: SchemeFile, Key: filepath.Join(dir, "nested", "deep", "dst.bin")}

	n, err := store.Upload(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	ok, err := store.Exists(ctx, dst)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, dst.Key+".partial")

	back := filepath.Join(dir, "back.bin")
	_, err = store.Download(ctx, dst, back)
	require.NoError(t, err)
	data, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	ok, err = store.Exists(ctx, URI{Scheme: SchemeFile, Key: filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalStore().Upload(ctx, "/does/not/matter", URI{Scheme: SchemeFile, Key: filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{ err error }

func (s failingStore) Upload(context.Context, string, URI) (int64, error)   { return 0, s.err }
func (s failingStore) Download(context.Context, URI, string) (int64, error) { return 0, s.err }
func (s failingStore) Exists(context.Context, URI) (bool, error)            { return false, s.err }

func TestRouter_WrapsFailures(t *testing.T) {
	ctx := context.Background()
	denied := errors.New("AccessDenied")
	r := NewRouter().Register("s3", failingStore{err: denied})

	_, err := r.Upload(ctx, "/tmp/a", "s3://bucket/a")
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, OpUpload, terr.Op)
	assert.Equal(t, "s3://bucket/a", terr.Dst)
	assert.ErrorIs(t, err, denied)

	_, err = r.Download(ctx, "gs://bucket/a", "/tmp/a")
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, OpDownload, terr.Op)
	assert.Contains(t, err.Error(), `no object store registered for scheme "gs"`)

	_, err = r.Upload(ctx, "/tmp/a", "ftp://x/y")
	require.ErrorAs(t, err, &terr)
}

func TestSchemesOf(t *testing.T) {
	assert.Equal(t, []string{"gs", "s3"}, SchemesOf("gs://a/b", "/local", "s3://c", "bad://x"))
	assert.Empty(t, SchemesOf("/job/output"))
}
