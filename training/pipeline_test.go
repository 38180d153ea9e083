package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/core/metrics"
	"vision-trainer/core/models"
	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
)

type captureReporter struct {
	tag   string
	value float64
	step  int
	calls int
}

func (r *captureReporter) Report(_ context.Context, tag string, value float64, step int) error {
	r.tag, r.value, r.step = tag, value, step
	r.calls++
	return nil
}

type pipelineFixture struct {
	cfg      WorkerConfig
	dest     string
	reporter *captureReporter
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultWorkerConfig()
	cfg.DatasetURI = buildZip(t, map[string]string{"train/a.jpg": "a"})
	cfg.LocalDataDir = filepath.Join(root, "data")
	cfg.LocalOutputDir = filepath.Join(root, "output")
	cfg.OutputURI = filepath.Join(root, "bucket", "models", "rfdetr", "20240101-000000")
	return &pipelineFixture{cfg: cfg, dest: cfg.OutputURI, reporter: &captureReporter{}}
}

func (f *pipelineFixture) pipeline(trainer Trainer) *Pipeline {
	router := storage.NewRouter()
	return NewPipeline(
		f.cfg,
		router,
		NewRunner(trainer, logging.Discard()),
		storage.NewPublisher(router, logging.Discard(), nil),
		f.reporter,
		logging.Discard(),
	)
}

func TestPipeline_HappyPath(t *testing.T) {
	f := newFixture(t)
	trainer := &fakeTrainer{
		epochs: []models.EpochRecord{{"epoch": 1.0, "val_mAP": 0.40}, {"epoch": 2.0, "val_mAP": 0.55}},
		results: map[string]any{"results": []any{
			map[string]any{"epoch": 1, "val_mAP": 0.40},
			map[string]any{"epoch": 2, "val_mAP": 0.55},
		}},
		files: map[string]string{"checkpoint_best_total.pth": "weights"},
	}

	res, err := f.pipeline(trainer).Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.FinalMetric)
	assert.Equal(t, 0.55, *res.FinalMetric)
	assert.FileExists(t, filepath.Join(f.cfg.LocalDataDir, "train", "a.jpg"))
	assert.FileExists(t, filepath.Join(f.dest, "artifacts", "results.json"))
	assert.FileExists(t, filepath.Join(f.dest, "checkpoint_best_total.pth"))

	assert.Equal(t, 1, f.reporter.calls)
	assert.Equal(t, "mean_average_precision", f.reporter.tag)
	assert.Equal(t, 0.55, f.reporter.value)
	assert.Equal(t, 2, f.reporter.step)
}

func TestPipeline_MetricMissingStillPublishes(t *testing.T) {
	f := newFixture(t)
	trainer := &fakeTrainer{
		results: []any{map[string]any{"epoch": 1, "loss": 0.3}},
		files:   map[string]string{"checkpoint_best_total.pth": "weights"},
	}

	res, err := f.pipeline(trainer).Run(context.Background())

	var merr *metrics.MetricNotFoundError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []string{"epoch", "loss"}, merr.Available)
	require.NotNil(t, res.Published)
	assert.FileExists(t, filepath.Join(f.dest, "checkpoint_best_total.pth"))
	assert.Zero(t, f.reporter.calls)
}

func TestPipeline_FormatErrorStillPublishes(t *testing.T) {
	tests := []struct {
		name    string
		trainer *fakeTrainer
	}{
		{"scalar document", &fakeTrainer{
			results: "oops",
			files:   map[string]string{"checkpoint_best_total.pth": "weights"},
		}},
		{"invalid json", &fakeTrainer{
			files: map[string]string{
				"checkpoint_best_total.pth": "weights",
				models.ResultsFileName:      "{not json",
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.pipeline(tt.trainer).Run(context.Background())

			var ferr *metrics.FormatError
			require.ErrorAs(t, err, &ferr)
			require.NotNil(t, res.Published)
			assert.FileExists(t, filepath.Join(f.dest, "checkpoint_best_total.pth"))
			assert.FileExists(t, filepath.Join(f.dest, "artifacts", models.ResultsFileName))
			assert.Zero(t, f.reporter.calls)
		})
	}
}

func TestPipeline_UnreadableResultsStillPublishes(t *testing.T) {
	f := newFixture(t)
	// a directory where the results document should be fails to read
	trainer := &fakeTrainer{files: map[string]string{
		"checkpoint_best_total.pth":           "weights",
		models.ResultsFileName + "/part.json": "{}",
	}}

	res, err := f.pipeline(trainer).Run(context.Background())

	require.Error(t, err)
	require.NotNil(t, res.Published)
	assert.FileExists(t, filepath.Join(f.dest, "checkpoint_best_total.pth"))
	assert.Nil(t, res.FinalMetric)
	assert.Zero(t, f.reporter.calls)
}

func TestPipeline_NoResultsDocument(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline(&fakeTrainer{files: map[string]string{"log.txt": "x"}}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.FinalMetric)
	assert.FileExists(t, filepath.Join(f.dest, "artifacts", "log.txt"))
	assert.Zero(t, f.reporter.calls)
}

func TestPipeline_ExtractionFailureAbortsBeforeTraining(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	f.cfg.DatasetURI = bad

	trainer := &fakeTrainer{}
	_, err := f.pipeline(trainer).Run(context.Background())

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Zero(t, trainer.got.Epochs, "trainer never ran")
	assert.NoDirExists(t, f.dest)
}

func TestPipeline_TrainingFailureSkipsUpload(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(&fakeTrainer{err: assert.AnError}).Run(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.NoDirExists(t, f.dest)
}

func TestPipeline_FallbackDestination(t *testing.T) {
	f := newFixture(t)
	f.cfg.OutputURI = ""
	p := f.pipeline(&fakeTrainer{})
	p.getenv = func(k string) string {
		if k == ModelDirEnv {
			return f.dest
		}
		return ""
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.dest, res.Destination)
}

func TestPipeline_InvalidConfig(t *testing.T) {
	f := newFixture(t)
	f.cfg.DatasetURI = ""
	_, err := f.pipeline(&fakeTrainer{}).Run(context.Background())
	assert.Error(t, err)
}
