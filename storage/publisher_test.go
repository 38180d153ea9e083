package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/core/models"
	"vision-trainer/core/repository"
	"vision-trainer/pkg/logging"
)

func writeOutput(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPublisher_PromotesBestCheckpoint(t *testing.T) {
	out := t.TempDir()
	writeOutput(t, out, map[string]string{
		"results.json":              `[{"val_mAP":0.5}]`,
		"checkpoint_best_total.pth": "weights",
		"logs/train.log":            "epoch 1",
	})
	base := filepath.Join(t.TempDir(), "rfdetr", "20240101-000000")

	p := NewPublisher(NewRouter(), logging.Discard(), nil)
	res, err := p.Publish(context.Background(), out, base)
	require.NoError(t, err)

	assert.Equal(t, base+"/artifacts", res.ArtifactsDir)
	assert.Equal(t, base+"/checkpoint_best_total.pth", res.BestCheckpoint)
	assert.Len(t, res.Files, 3)

	assert.Equal(t, `[{"val_mAP":0.5}]`, readFile(t, filepath.Join(base, "artifacts", "results.json")))
	assert.Equal(t, "epoch 1", readFile(t, filepath.Join(base, "artifacts", "logs", "train.log")))
	assert.Equal(t, "weights", readFile(t, filepath.Join(base, "artifacts", "checkpoint_best_total.pth")))
	assert.Equal(t, "weights", readFile(t, filepath.Join(base, "checkpoint_best_total.pth")))
}

func TestPublisher_NoCheckpoint(t *testing.T) {
	out := t.TempDir()
	writeOutput(t, out, map[string]string{"results.json": "[]"})
	base := filepath.Join(t.TempDir(), "run")

	res, err := NewPublisher(NewRouter(), logging.Discard(), nil).Publish(context.Background(), out, base)
	require.NoError(t, err)
	assert.Empty(t, res.BestCheckpoint)
	assert.NoFileExists(t, filepath.Join(base, "checkpoint_best_total.pth"))
}

func TestPublisher_DestinationForms(t *testing.T) {
	out := t.TempDir()
	writeOutput(t, out, map[string]string{"a.txt": "a"})
	p := NewPublisher(NewRouter(), logging.Discard(), nil)

	for _, suffix := range []string{"", "/", "/artifacts", "/artifacts/"} {
		t.Run("suffix "+suffix, func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "run")
			res, err := p.Publish(context.Background(), out, base+suffix)
			require.NoError(t, err)
			assert.Equal(t, base+"/artifacts", res.ArtifactsDir)
			assert.FileExists(t, filepath.Join(base, "artifacts", "a.txt"))
		})
	}
}

func TestPublisher_MissingDirectory(t *testing.T) {
	p := NewPublisher(NewRouter(), logging.Discard(), nil)
	_, err := p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing"), "gs://b/run")

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, OpCopy, terr.Op)
	assert.Equal(t, "gs://b/run/artifacts/", terr.Dst)
}

func TestPublisher_UploadFailureStops(t *testing.T) {
	out := t.TempDir()
	writeOutput(t, out, map[string]string{"a.txt": "a"})

	r := NewRouter().Register("gs", failingStore{err: assert.AnError})
	_, err := NewPublisher(r, logging.Discard(), nil).Publish(context.Background(), out, "gs://b/run")

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, OpUpload, terr.Op)
	assert.Equal(t, "gs://b/run/artifacts/a.txt", terr.Dst)
}

func TestCheckpointManager_RecordsPublishedArtifacts(t *testing.T) {
	db, err := repository.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cm := NewCheckpointManager(repository.NewArtifactRepository(db))

	out := t.TempDir()
	writeOutput(t, out, map[string]string{
		"results.json":              "[]",
		"checkpoint_best_total.pth": "w",
		"checkpoint0004.pth":        "w4",
	})
	base := filepath.Join(t.TempDir(), "run")

	p := NewPublisher(NewRouter(), logging.Discard(), nil).WithRecorder("r1", cm)
	_, err = p.Publish(context.Background(), out, base)
	require.NoError(t, err)

	ctx := context.Background()
	best, err := cm.GetBestCheckpoint(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, base+"/checkpoint_best_total.pth", best)

	ckpts, err := cm.ListCheckpoints(ctx, "r1")
	require.NoError(t, err)
	var uris []string
	for _, c := range ckpts {
		uris = append(uris, c.URI)
	}
	sort.Strings(uris)
	assert.Equal(t, []string{
		base + "/artifacts/checkpoint0004.pth",
		base + "/artifacts/checkpoint_best_total.pth",
		base + "/checkpoint_best_total.pth",
	}, uris)

	_, err = cm.GetBestCheckpoint(ctx, "other")
	assert.Error(t, err)

	results := models.ArtifactTypeResults
	rs, err := repository.NewArtifactRepository(db).GetRunArtifacts(ctx, "r1", &results)
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}
