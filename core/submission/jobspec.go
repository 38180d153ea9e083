package submission

import (
	"strconv"
	"strings"

	"vision-trainer/config"
	"vision-trainer/core/models"
	"vision-trainer/core/staging"
)

const (
	// WorkerOutputDir is where the worker writes before publishing
	WorkerOutputDir = "/job/output"

	// GCSMount is where worker containers see gs:// buckets
	GCSMount = "/gcs"
)

// DatasetArg returns the dataset location as the worker sees it. Vertex
// workers read gs:// buckets through their mount; every other worker gets
// the storage URI and downloads it.
func DatasetArg(cfg *config.Config) string {
	name := cfg.DatasetName() + ".zip"
	if cfg.StorageScheme == "gs" && cfg.Scheduler == "vertex" {
		return models.JoinURI(GCSMount, cfg.StagingBucket, "datasets", name)
	}
	return staging.DatasetURI(cfg.StagingRoot(), cfg.DatasetName())
}

// BuildJobSpec assembles the single-run job for run. The argument order
// is fixed: dataset, learning rate, epochs, local output, durable output.
func BuildJobSpec(cfg *config.Config, run models.Run) models.JobSpec {
	return models.JobSpec{
		DisplayName: run.DisplayName(models.JobKindCustom),
		Machine: models.MachineSpec{
			MachineType:      cfg.Machine.Type,
			AcceleratorType:  cfg.Machine.Accelerator,
			AcceleratorCount: cfg.Machine.AcceleratorCount,
		},
		ReplicaCount: cfg.Machine.Replicas,
		ImageURI:     cfg.Image,
		PackageURIs:  []string{staging.PackageURI(cfg.StagingRoot(), cfg.TrainerVersion)},
		Module:       cfg.Module,
		Args: []string{
			"--dataset_uri", DatasetArg(cfg),
			"--learning_rate", FormatFloat(cfg.Hyperparameters.LearningRate),
			"--epochs", strconv.Itoa(cfg.Hyperparameters.Epochs),
			"--local_output_dir", WorkerOutputDir,
			"--gcs_output_dir", run.BaseOutputDir,
		},
		BaseOutputDir: run.BaseOutputDir,
		Labels:        labelsFor(cfg, run),
	}
}

// BuildSweepSpec assembles a sweep whose trials share the single-run
// template with the swept parameter left to the scheduler. The template
// carries no durable output flag: each trial publishes under the run base
// to the directory its scheduler assigns it.
func BuildSweepSpec(cfg *config.Config, run models.Run) models.SweepSpec {
	template := BuildJobSpec(cfg, run).
		WithoutArg("--" + cfg.Sweep.Parameter).
		WithoutArg("--gcs_output_dir")
	template.DisplayName = run.DisplayName(models.JobKindTuning)

	return models.SweepSpec{
		Template:       template,
		Parameter:      cfg.Sweep.Parameter,
		Min:            cfg.Sweep.Min,
		Max:            cfg.Sweep.Max,
		Scale:          models.ParameterScale(cfg.Sweep.Scale),
		Metric:         cfg.Sweep.Metric,
		Goal:           models.SweepGoal(cfg.Sweep.Goal),
		MaxTrials:      cfg.Sweep.MaxTrials,
		ParallelTrials: cfg.Sweep.ParallelTrials,
	}
}

// FormatFloat renders v the way it is usually typed, e.g. 4e-5
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	s = strings.Replace(s, "e-0", "e-", 1)
	return strings.Replace(s, "e+0", "e+", 1)
}

func labelsFor(cfg *config.Config, run models.Run) map[string]string {
	labels := map[string]string{
		"run_id":       LabelValue(run.ID),
		"model_family": LabelValue(cfg.ModelFamily),
	}
	if cfg.Experiment.Name != "" {
		labels["experiment"] = LabelValue(cfg.Experiment.Name)
	}
	return labels
}

// LabelValue converts s to a valid label value: lowercase letters, digits,
// '-' and '_', at most 63 characters
func LabelValue(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() == 63 {
			break
		}
	}
	return b.String()
}
