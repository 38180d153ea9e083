package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/config"
)

func TestParseRunSpec_Overlay(t *testing.T) {
	base := config.Defaults()
	base.StagingBucket = "stage"

	specYAML := `
run:
  model_family: detr
  experiment: {name: lr-study, description: learning rate study}
  machine:
    type: a2-highgpu-1g
    accelerator: NVIDIA_TESLA_A100
  hyperparameters:
    epochs: 30
  sweep:
    max_trials: 20
    parallel_trials: 4
`
	cfg, err := ParseRunSpec(specYAML, base)
	require.NoError(t, err)

	assert.Equal(t, "detr", cfg.ModelFamily)
	assert.Equal(t, "lr-study", cfg.Experiment.Name)
	assert.Equal(t, "a2-highgpu-1g", cfg.Machine.Type)
	assert.Equal(t, 1, cfg.Machine.AcceleratorCount, "unset nested keys keep configured values")
	assert.Equal(t, 30, cfg.Hyperparameters.Epochs)
	assert.Equal(t, 4e-5, cfg.Hyperparameters.LearningRate)
	assert.Equal(t, 20, cfg.Sweep.MaxTrials)
	assert.Equal(t, "learning_rate", cfg.Sweep.Parameter)
	assert.Equal(t, "stage", cfg.StagingBucket)

	assert.Equal(t, "rfdetr", base.ModelFamily, "base is not modified")
	assert.Equal(t, "g2-standard-8", base.Machine.Type)
}

func TestParseRunSpec_Empty(t *testing.T) {
	base := config.Defaults()
	cfg, err := ParseRunSpec("", base)
	require.NoError(t, err)
	assert.Equal(t, base.Machine, cfg.Machine)
}

func TestParseRunSpec_Errors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantField string
	}{
		{"unknown key", "run:\n  gpus: 8\n", "spec"},
		{"bad yaml", "run: [", "spec"},
		{"wrong type", "run:\n  hyperparameters:\n    epochs: many\n", "spec"},
		{"blank family", "run:\n  model_family: \"\"\n", "run.model_family"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunSpec(tt.yaml, config.Defaults())
			var cerr *config.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}
