package staging

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			out[f.Name] = "<dir>"
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(data)
	}
	return out
}

func TestCreateZip_MirrorsTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "my_coco_data")
	writeTree(t, src, map[string]string{
		"train/img1.jpg":               "a",
		"valid/img2.jpg":               "b",
		"train/_annotations.coco.json": "{}",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(src, "test"), 0o755))

	archive := filepath.Join(t.TempDir(), "out.zip")
	n, err := CreateZip(src, archive)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries := zipEntries(t, archive)
	assert.Equal(t, "a", entries["train/img1.jpg"])
	assert.Equal(t, "b", entries["valid/img2.jpg"])
	assert.Equal(t, "{}", entries["train/_annotations.coco.json"])
	assert.Equal(t, "<dir>", entries["test/"], "empty directories are kept")
}

func TestCreateZip_MissingSource(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "out.zip")
	_, err := CreateZip(filepath.Join(t.TempDir(), "nope"), archive)
	require.Error(t, err)
	_, statErr := os.Stat(archive)
	assert.True(t, os.IsNotExist(statErr), "no partial archive is left behind")
}

func TestCreateTarGz_SkipsBytecode(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"setup.py":                      "setup()",
		"trainer/train.py":              "print()",
		"trainer/__pycache__/train.pyc": "x",
		"trainer/util.pyc":              "x",
	})

	archive := filepath.Join(t.TempDir(), "trainer-0.1.tar.gz")
	n, err := CreateTarGz(src, archive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	var names []string
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"setup.py", "trainer/", "trainer/train.py"}, names)
}

func TestStager_Paths(t *testing.T) {
	s := NewStager(nil, "gs://stage-bucket/", logging.Discard(), nil)
	assert.Equal(t, "gs://stage-bucket/datasets/my_coco_data.zip", s.DatasetURI("my_coco_data"))
	assert.Equal(t, "gs://stage-bucket/packages/trainer-0.1.tar.gz", s.PackageURI("0.1"))
	assert.Equal(t, "my_coco_data", ArchiveName("./data/my_coco_data/"))
}

func TestStager_StageDatasetToLocalBucket(t *testing.T) {
	src := filepath.Join(t.TempDir(), "my_coco_data")
	writeTree(t, src, map[string]string{"train/a.jpg": "a"})
	bucket := t.TempDir()

	s := NewStager(storage.NewRouter(), bucket, logging.Discard(), nil)
	ctx := context.Background()

	dst, err := s.StageDataset(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bucket, "datasets", "my_coco_data.zip"), dst)
	assert.Equal(t, "a", zipEntries(t, dst)["train/a.jpg"])

	// re-staging overwrites the same key
	writeTree(t, src, map[string]string{"train/a.jpg": "changed"})
	dst2, err := s.StageDataset(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, dst, dst2)
	assert.Equal(t, "changed", zipEntries(t, dst)["train/a.jpg"])
}

type captureUploader struct {
	paths []string
	err   error
}

func (u *captureUploader) Upload(_ context.Context, localPath, _ string) (int64, error) {
	u.paths = append(u.paths, localPath)
	return 1, u.err
}

func TestStager_CleansTempDirOnEveryPath(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	ok := &captureUploader{}
	s := NewStager(ok, "gs://b", logging.Discard(), nil)
	_, err := s.StageDataset(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, ok.paths, 1)
	_, statErr := os.Stat(filepath.Dir(ok.paths[0]))
	assert.True(t, os.IsNotExist(statErr))

	failing := &captureUploader{err: errors.New("403 forbidden")}
	s = NewStager(failing, "gs://b", logging.Discard(), nil)
	_, err = s.StageDataset(context.Background(), src)

	var terr *storage.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, storage.OpUpload, terr.Op)
	assert.Contains(t, err.Error(), "403 forbidden")
	_, statErr = os.Stat(filepath.Dir(failing.paths[0]))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStager_MissingDatasetIsFatal(t *testing.T) {
	up := &captureUploader{}
	s := NewStager(up, "gs://b", logging.Discard(), nil)

	_, err := s.StageDataset(context.Background(), filepath.Join(t.TempDir(), "missing"))
	var terr *storage.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, storage.OpArchive, terr.Op)
	assert.Empty(t, up.paths, "nothing is uploaded")
}

func TestStager_StagePackage(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"setup.py": "setup()"})
	bucket := t.TempDir()

	s := NewStager(storage.NewRouter(), bucket, logging.Discard(), nil)
	dst, err := s.StagePackage(context.Background(), src, "0.1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bucket, "packages", "trainer-0.1.tar.gz"), dst)
	assert.FileExists(t, dst)
}
