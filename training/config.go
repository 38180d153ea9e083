package training

import (
	"flag"
	"fmt"
	"strings"

	"vision-trainer/config"
	"vision-trainer/core/metrics"
	"vision-trainer/core/models"
)

const (
	// ModelDirEnv is set by the job service to the run's output directory
	ModelDirEnv = "AIP_MODEL_DIR"

	// TrialOutputRootEnv is the sweep base a trial publishes under when the
	// job service does not assign it a directory
	TrialOutputRootEnv = "VT_TRIAL_OUTPUT_ROOT"

	// TrainingJobNameEnv names the running trial on SageMaker
	TrainingJobNameEnv = "TRAINING_JOB_NAME"

	// FallbackOutputURI is used when no output directory was given or injected
	FallbackOutputURI = "gs://visiondatabucket/models/rfdetr/manual"

	// DefaultGCSMount is where worker containers see mounted buckets
	DefaultGCSMount = "/gcs"
)

// ExecutionMode selects how the training collaborator sees its process group
type ExecutionMode string

const (
	// ExecutionSingle hides rendezvous variables so the collaborator trains on one process
	ExecutionSingle ExecutionMode = "single"
	// ExecutionDistributed passes the environment through unchanged
	ExecutionDistributed ExecutionMode = "distributed"
)

// WorkerConfig is the remote worker's command-line configuration
type WorkerConfig struct {
	LearningRate   float64
	DatasetURI     string
	Epochs         int
	LocalOutputDir string
	OutputURI      string
	LocalDataDir   string
	BatchSize      int
	GradAccumSteps int
	NumWorkers     int
	ExecutionMode  ExecutionMode
	MetricTag      string
	GCSMount       string
	Model          string
	Command        string
}

// DefaultWorkerConfig returns the worker defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		LearningRate:   1e-4,
		Epochs:         10,
		LocalOutputDir: "/job/output",
		LocalDataDir:   "/job/data",
		BatchSize:      8,
		GradAccumSteps: 2,
		NumWorkers:     1,
		ExecutionMode:  ExecutionSingle,
		MetricTag:      metrics.DefaultMetricTag,
		GCSMount:       DefaultGCSMount,
		Model:          "RFDETRNano",
		Command:        "python3 -m trainer.fit",
	}
}

// RegisterFlags binds the worker flags to fs
func (c *WorkerConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.LearningRate, "learning_rate", c.LearningRate, "optimizer learning rate")
	fs.StringVar(&c.DatasetURI, "dataset_uri", c.DatasetURI, "dataset zip archive, local path or storage URI (required)")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "number of training epochs")
	fs.StringVar(&c.LocalOutputDir, "local_output_dir", c.LocalOutputDir, "directory the trainer writes checkpoints and results to")
	fs.StringVar(&c.OutputURI, "gcs_output_dir", c.OutputURI, "durable output directory for artifacts (defaults to $"+ModelDirEnv+")")
	fs.StringVar(&c.LocalDataDir, "local_data_dir", c.LocalDataDir, "directory the dataset is extracted into")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "per-step batch size")
	fs.IntVar(&c.GradAccumSteps, "grad_accum_steps", c.GradAccumSteps, "gradient accumulation steps")
	fs.IntVar(&c.NumWorkers, "num_workers", c.NumWorkers, "data loader workers")
	fs.Func("execution_mode", "single or distributed (default single)", func(v string) error {
		mode := ExecutionMode(strings.ToLower(v))
		if mode != ExecutionSingle && mode != ExecutionDistributed {
			return fmt.Errorf("unknown execution mode %q", v)
		}
		c.ExecutionMode = mode
		return nil
	})
	fs.StringVar(&c.MetricTag, "metric_tag", c.MetricTag, "tag the final metric is reported under")
	fs.StringVar(&c.GCSMount, "gcs_mount", c.GCSMount, "mount point of storage buckets, empty to always download")
	fs.StringVar(&c.Model, "model", c.Model, "model class passed to the training entry point")
	fs.StringVar(&c.Command, "train_command", c.Command, "training entry point command line")
}

// Validate checks required values
func (c *WorkerConfig) Validate() error {
	if strings.TrimSpace(c.DatasetURI) == "" {
		return config.Missing("dataset_uri")
	}
	if c.Epochs <= 0 {
		return config.Invalid("epochs", "must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return config.Invalid("learning_rate", "must be positive, got %g", c.LearningRate)
	}
	if c.BatchSize <= 0 {
		return config.Invalid("batch_size", "must be positive, got %d", c.BatchSize)
	}
	if c.GradAccumSteps <= 0 {
		return config.Invalid("grad_accum_steps", "must be positive, got %d", c.GradAccumSteps)
	}
	if c.NumWorkers < 0 {
		return config.Invalid("num_workers", "must not be negative, got %d", c.NumWorkers)
	}
	if c.LocalOutputDir == "" {
		return config.Missing("local_output_dir")
	}
	if c.LocalDataDir == "" {
		return config.Missing("local_data_dir")
	}
	if strings.TrimSpace(c.Command) == "" {
		return config.Missing("train_command")
	}
	return nil
}

// Destination picks the durable output directory: the explicit flag, then
// the job service's model directory, then the trial's directory under the
// sweep root, then the fixed fallback
func (c *WorkerConfig) Destination(getenv func(string) string) string {
	if c.OutputURI != "" {
		return c.OutputURI
	}
	if dir := getenv(ModelDirEnv); dir != "" {
		return dir
	}
	if root := getenv(TrialOutputRootEnv); root != "" {
		if name := getenv(TrainingJobNameEnv); name != "" {
			return models.JoinURI(root, name)
		}
		return root
	}
	return FallbackOutputURI
}

// TrainConfig returns the collaborator configuration for an extracted dataset
func (c *WorkerConfig) TrainConfig() TrainConfig {
	return TrainConfig{
		DatasetDir:     c.LocalDataDir,
		OutputDir:      c.LocalOutputDir,
		LearningRate:   c.LearningRate,
		BatchSize:      c.BatchSize,
		GradAccumSteps: c.GradAccumSteps,
		Epochs:         c.Epochs,
		NumWorkers:     c.NumWorkers,
		ExecutionMode:  c.ExecutionMode,
		Model:          c.Model,
	}
}
