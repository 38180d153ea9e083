// Package training runs on the remote worker: it extracts the staged
// dataset, drives the training collaborator and hands results to the
// metric extractor and artifact publisher.
package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vision-trainer/core/models"
	"vision-trainer/pkg/logging"
)

// TrainConfig is the configuration marshaled to the training collaborator
type TrainConfig struct {
	DatasetDir     string        `json:"dataset_dir"`
	OutputDir      string        `json:"output_dir"`
	LearningRate   float64       `json:"lr"`
	BatchSize      int           `json:"batch_size"`
	GradAccumSteps int           `json:"grad_accum_steps"`
	Epochs         int           `json:"epochs"`
	NumWorkers     int           `json:"num_workers"`
	Model          string        `json:"model,omitempty"`
	ExecutionMode  ExecutionMode `json:"-"`
}

// Trainer runs the optimization loop. It calls onEpoch once per completed
// epoch, in order, and writes results.json into cfg.OutputDir.
type Trainer interface {
	Train(ctx context.Context, cfg TrainConfig, onEpoch func(models.EpochRecord)) error
}

// RunResult is what a finished training run leaves behind
type RunResult struct {
	History     *models.History
	ResultsPath string
	Duration    time.Duration
}

// Runner captures the per-epoch history of one training run
type Runner struct {
	trainer Trainer
	log     *logging.Logger
}

// NewRunner creates a runner around trainer
func NewRunner(trainer Trainer, log *logging.Logger) *Runner {
	return &Runner{trainer: trainer, log: log}
}

// Run trains with cfg. The returned result carries the history collected
// so far even when training fails.
func (r *Runner) Run(ctx context.Context, cfg TrainConfig) (*RunResult, error) {
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = ExecutionSingle
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	result := &RunResult{
		History:     &models.History{},
		ResultsPath: filepath.Join(cfg.OutputDir, models.ResultsFileName),
	}

	r.log.Info("Starting training",
		"dataset_dir", cfg.DatasetDir,
		"output_dir", cfg.OutputDir,
		"lr", cfg.LearningRate,
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize,
		"grad_accum_steps", cfg.GradAccumSteps,
		"mode", cfg.ExecutionMode,
	)

	start := time.Now()
	err := r.trainer.Train(ctx, cfg, func(rec models.EpochRecord) {
		idx := result.History.Append(rec)
		r.log.Debug("Epoch complete", "epoch", idx, "of", cfg.Epochs)
	})
	result.Duration = time.Since(start)

	if n := result.History.OutOfOrder(); n > 0 {
		r.log.Warn("Trainer reported non-increasing epoch values", "count", n)
	}
	if err != nil {
		return result, fmt.Errorf("training failed after %d epochs: %w", result.History.Len(), err)
	}

	r.log.WithDuration(result.Duration).Info("Training finished", "epochs", result.History.Len())
	return result, nil
}
