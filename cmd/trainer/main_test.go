package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/config"
	"vision-trainer/training"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VT_CONFIG", "VT_RUN_ID", "DATABASE_URL", "PUSHGATEWAY_URL", training.ModelDirEnv, training.TrialOutputRootEnv} {
		t.Setenv(k, "")
	}
	t.Setenv("CLOUD_ML_HP_METRIC_FILE", filepath.Join(t.TempDir(), "output.metrics"))
}

func TestRun_UnknownFlag(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"--no_such_flag"})
	assert.Error(t, err)
}

func TestRun_MissingDatasetReturnsConfigError(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"--gcs_output_dir", t.TempDir()})

	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dataset_uri", cerr.Field)
}

func TestRun_FailureReturnsToCaller(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	err := run(context.Background(), []string{
		"--dataset_uri", filepath.Join(root, "missing.zip"),
		"--local_data_dir", filepath.Join(root, "data"),
		"--local_output_dir", filepath.Join(root, "output"),
		"--gcs_output_dir", filepath.Join(root, "bucket"),
	})

	var xerr *training.ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.NoDirExists(t, filepath.Join(root, "bucket"))
}
