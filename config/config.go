// Package config loads orchestrator configuration.
//
// Load order:
//  1. .env (bucket names, credentials)
//  2. YAML defaults from VT_CONFIG or configs/vision-trainer.yaml
//  3. environment variables, which override YAML
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vision-trainer/pkg/logging"
)

// ErrMissing marks a required value that was not provided
var ErrMissing = errors.New("required value missing")

// ConfigError reports an invalid or missing configuration value
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Missing returns a ConfigError for an absent required field
func Missing(field string) *ConfigError {
	return &ConfigError{Field: field, Err: ErrMissing}
}

// Invalid returns a ConfigError for a malformed field
func Invalid(field string, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// MachineConfig describes the worker machine
type MachineConfig struct {
	Type             string `yaml:"type"`
	Accelerator      string `yaml:"accelerator"`
	AcceleratorCount int    `yaml:"accelerator_count"`
	Replicas         int    `yaml:"replicas"`
}

// HyperparameterConfig holds the fixed hyperparameters of a single run
type HyperparameterConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
}

// SweepConfig holds the search space and objective of a hyperparameter sweep
type SweepConfig struct {
	Parameter      string  `yaml:"parameter"`
	Min            float64 `yaml:"min"`
	Max            float64 `yaml:"max"`
	Scale          string  `yaml:"scale"` // log | linear
	Metric         string  `yaml:"metric"`
	Goal           string  `yaml:"goal"` // maximize | minimize
	MaxTrials      int     `yaml:"max_trials"`
	ParallelTrials int     `yaml:"parallel_trials"`
}

// ExperimentConfig labels submitted jobs for traceability
type ExperimentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// MinIOConfig configures the S3-compatible minio:// backend
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config holds the application configuration
type Config struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	// Storage
	StagingBucket string `yaml:"staging_bucket"`
	DatasetPath   string `yaml:"dataset_path"`
	FinalBucket   string `yaml:"final_bucket"`
	FinalPrefix   string `yaml:"final_prefix"`
	StorageScheme string `yaml:"storage_scheme"` // gs | s3 | minio

	// Job
	ModelFamily     string               `yaml:"model_family"`
	Scheduler       string               `yaml:"scheduler"` // vertex | sagemaker | local
	Experiment      ExperimentConfig     `yaml:"experiment"`
	Machine         MachineConfig        `yaml:"machine"`
	Image           string               `yaml:"image"`
	Module          string               `yaml:"module"`
	TrainerVersion  string               `yaml:"trainer_version"`
	Hyperparameters HyperparameterConfig `yaml:"hyperparameters"`
	Sweep           SweepConfig          `yaml:"sweep"`

	// AWS
	AWSRegion     string `yaml:"aws_region"`
	SageMakerRole string `yaml:"sagemaker_role"`

	// Worker binary run by the local scheduler
	LocalTrainerBin string `yaml:"local_trainer_bin"`

	MinIO MinIOConfig `yaml:"minio"`

	// Run ledger and API
	DatabaseURL string `yaml:"database_url"`
	ServerPort  string `yaml:"server_port"`

	Log logging.Config `yaml:"log"`
}

var configPaths = []string{
	"configs/vision-trainer.yaml",
	"../configs/vision-trainer.yaml",
	"../../configs/vision-trainer.yaml",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Project:       "visiontrainer",
		Location:      "us-west1",
		FinalBucket:   "visiondatabucket",
		FinalPrefix:   "models",
		StorageScheme: "gs",
		ModelFamily:   "rfdetr",
		Scheduler:     "vertex",
		Machine: MachineConfig{
			Type:             "g2-standard-8",
			Accelerator:      "NVIDIA_L4",
			AcceleratorCount: 1,
			Replicas:         1,
		},
		Image:          "us-docker.pkg.dev/vertex-ai/training/pytorch-gpu.2-4.py310:latest",
		Module:         "trainer.train",
		TrainerVersion: "0.1",
		Hyperparameters: HyperparameterConfig{
			LearningRate: 4e-5,
			Epochs:       15,
		},
		Sweep: SweepConfig{
			Parameter:      "learning_rate",
			Min:            1e-5,
			Max:            1e-3,
			Scale:          "log",
			Metric:         "mean_average_precision",
			Goal:           "maximize",
			MaxTrials:      10,
			ParallelTrials: 2,
		},
		AWSRegion:       "us-east-1",
		LocalTrainerBin: "trainer",
		DatabaseURL:     "file:vision-trainer.db",
		ServerPort:      "8080",
	}
}

// Load loads configuration from .env, YAML and environment variables
func Load() (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg := Defaults()

	path := os.Getenv("VT_CONFIG")
	if path == "" {
		for _, p := range configPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile merges a YAML file over the current values
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "config_file", Err: err}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &ConfigError{Field: "config_file", Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Project = getEnv("GCP_PROJECT", c.Project)
	c.Location = getEnv("GCP_LOCATION", c.Location)
	c.StagingBucket = getEnv("GCS_BUCKET_NAME", c.StagingBucket)
	c.DatasetPath = getEnv("DATASET_PATH", c.DatasetPath)
	c.FinalBucket = getEnv("FINAL_BUCKET", c.FinalBucket)
	c.FinalPrefix = getEnv("FINAL_PREFIX", c.FinalPrefix)
	c.StorageScheme = getEnv("STORAGE_SCHEME", c.StorageScheme)
	c.ModelFamily = getEnv("MODEL_FAMILY", c.ModelFamily)
	c.Scheduler = getEnv("SCHEDULER", c.Scheduler)
	c.Experiment.Name = getEnv("EXPERIMENT_NAME", c.Experiment.Name)
	c.Experiment.Description = getEnv("EXPERIMENT_DESCRIPTION", c.Experiment.Description)
	c.TrainerVersion = getEnv("TRAINER_VERSION", c.TrainerVersion)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.SageMakerRole = getEnv("SAGEMAKER_ROLE_ARN", c.SageMakerRole)
	c.LocalTrainerBin = getEnv("LOCAL_TRAINER_BIN", c.LocalTrainerBin)
	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.MinIO.UseSSL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// ValidateStaging checks the values needed to stage a dataset
func (c *Config) ValidateStaging() error {
	if strings.TrimSpace(c.StagingBucket) == "" {
		return Missing("GCS_BUCKET_NAME")
	}
	if strings.TrimSpace(c.DatasetPath) == "" {
		return Missing("DATASET_PATH")
	}
	if c.DatasetName() == "" {
		return Invalid("DATASET_PATH", "cannot derive archive name from %q", c.DatasetPath)
	}
	return nil
}

// ValidateSubmission checks the values needed to submit a job
func (c *Config) ValidateSubmission() error {
	if err := c.ValidateStaging(); err != nil {
		return err
	}
	if c.FinalBucket == "" {
		return Missing("FINAL_BUCKET")
	}
	if c.ModelFamily == "" {
		return Missing("MODEL_FAMILY")
	}
	if c.Image == "" {
		return Missing("image")
	}
	if c.Module == "" {
		return Missing("module")
	}
	if c.Machine.Type == "" {
		return Missing("machine.type")
	}
	if c.Machine.Replicas < 1 {
		return Invalid("machine.replicas", "must be at least 1, got %d", c.Machine.Replicas)
	}
	if c.Hyperparameters.Epochs < 1 {
		return Invalid("hyperparameters.epochs", "must be at least 1, got %d", c.Hyperparameters.Epochs)
	}
	if c.Hyperparameters.LearningRate <= 0 {
		return Invalid("hyperparameters.learning_rate", "must be positive, got %g", c.Hyperparameters.LearningRate)
	}
	switch c.Scheduler {
	case "vertex":
		if acc := c.Machine.Accelerator; acc != "" {
			if v, ok := aiplatformpb.AcceleratorType_value[acc]; !ok || v == 0 {
				return Invalid("machine.accelerator", "unknown accelerator %q", acc)
			}
		}
	case "local":
	case "sagemaker":
		if c.SageMakerRole == "" {
			return Missing("SAGEMAKER_ROLE_ARN")
		}
	default:
		return Invalid("SCHEDULER", "unknown scheduler %q", c.Scheduler)
	}
	return nil
}

// ValidateSweep checks the sweep search space and trial bounds
func (c *Config) ValidateSweep() error {
	s := c.Sweep
	if s.Parameter == "" {
		return Missing("sweep.parameter")
	}
	if s.Metric == "" {
		return Missing("sweep.metric")
	}
	if s.Min <= 0 || s.Max <= s.Min {
		return Invalid("sweep", "bounds must satisfy 0 < min < max, got [%g, %g]", s.Min, s.Max)
	}
	if s.MaxTrials < 1 {
		return Invalid("sweep.max_trials", "must be at least 1, got %d", s.MaxTrials)
	}
	if s.ParallelTrials < 1 || s.ParallelTrials > s.MaxTrials {
		return Invalid("sweep.parallel_trials", "must be within [1, %d], got %d", s.MaxTrials, s.ParallelTrials)
	}
	switch s.Goal {
	case "maximize", "minimize":
	default:
		return Invalid("sweep.goal", "unknown goal %q", s.Goal)
	}
	switch s.Scale {
	case "log", "linear":
	default:
		return Invalid("sweep.scale", "unknown scale %q", s.Scale)
	}
	return nil
}

// DatasetName returns the archive base name derived from the dataset path
func (c *Config) DatasetName() string {
	p := strings.TrimRight(c.DatasetPath, "/")
	if p == "" {
		return ""
	}
	name := filepath.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// StagingRoot returns the staging bucket URI, e.g. gs://bucket
func (c *Config) StagingRoot() string {
	return c.StorageScheme + "://" + c.StagingBucket
}

// FinalRoot returns the artifact root URI, e.g. gs://visiondatabucket/models
func (c *Config) FinalRoot() string {
	root := c.StorageScheme + "://" + c.FinalBucket
	if c.FinalPrefix != "" {
		root += "/" + strings.Trim(c.FinalPrefix, "/")
	}
	return root
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
